package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/step-groups/internal/config"
	"github.com/step-groups/internal/domain"
)

// memStore is an in-memory Store honoring the same constraints as the
// postgres schema.
type memStore struct {
	mu       sync.Mutex
	groups   map[string]domain.Group
	members  map[string]map[string]domain.GroupMembership
	requests map[string]map[string]domain.JoinRequest

	failOwnerInsert bool
	writes          int
	lastLimit       int
}

func newMemStore() *memStore {
	return &memStore{
		groups:   make(map[string]domain.Group),
		members:  make(map[string]map[string]domain.GroupMembership),
		requests: make(map[string]map[string]domain.JoinRequest),
	}
}

func (s *memStore) codeTaken(code *string, exceptID string) bool {
	if code == nil {
		return false
	}
	for id, g := range s.groups {
		if id != exceptID && g.JoinCode != nil && *g.JoinCode == *code {
			return true
		}
	}
	return false
}

func (s *memStore) CreateGroupWithOwner(_ context.Context, group *domain.Group, owner *domain.GroupMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codeTaken(group.JoinCode, group.ID) {
		return domain.AlreadyExists("join_code", "join code already in use")
	}
	if s.failOwnerInsert {
		return domain.InvariantViolation("owner membership insert failed", errors.New("boom")).WithGroup(group.ID)
	}
	s.writes++
	s.groups[group.ID] = *group
	s.members[group.ID] = map[string]domain.GroupMembership{owner.UserID: *owner}
	return nil
}

func (s *memStore) GetGroup(_ context.Context, groupID string) (*domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, domain.NotFound("group not found").WithGroup(groupID)
	}
	g.MemberCount = len(s.members[groupID])
	return &g, nil
}

func (s *memStore) GetGroupByJoinCode(_ context.Context, code string) (*domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.JoinCode != nil && *g.JoinCode == code {
			return &g, nil
		}
	}
	return nil, domain.NotFound("group not found")
}

func (s *memStore) UpdateGroup(_ context.Context, group *domain.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.ID]; !ok {
		return domain.NotFound("group not found").WithGroup(group.ID)
	}
	if s.codeTaken(group.JoinCode, group.ID) {
		return domain.AlreadyExists("join_code", "join code already in use")
	}
	s.writes++
	s.groups[group.ID] = *group
	return nil
}

func (s *memStore) DeleteGroup(_ context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return domain.NotFound("group not found").WithGroup(groupID)
	}
	s.writes++
	delete(s.groups, groupID)
	delete(s.members, groupID)
	delete(s.requests, groupID)
	return nil
}

func (s *memStore) SearchPublicGroups(_ context.Context, query string, limit int) ([]domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	var out []domain.Group
	for _, g := range s.groups {
		if g.IsPublic && strings.Contains(strings.ToLower(g.Name), strings.ToLower(query)) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListUserGroups(_ context.Context, userID string) ([]domain.UserGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UserGroup
	for id, ms := range s.members {
		if m, ok := ms[userID]; ok {
			out = append(out, domain.UserGroup{Group: s.groups[id], Role: m.Role})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) GetMembership(_ context.Context, groupID, userID string) (*domain.GroupMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[groupID][userID]
	if !ok {
		return nil, domain.NotFound("membership not found").WithGroup(groupID)
	}
	return &m, nil
}

func (s *memStore) ListMemberships(_ context.Context, groupID string) ([]domain.GroupMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.GroupMembership, 0, len(s.members[groupID]))
	for _, m := range s.members[groupID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memStore) AddMembership(_ context.Context, m *domain.GroupMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.GroupID][m.UserID]; ok {
		return domain.AlreadyMember(m.GroupID)
	}
	s.writes++
	s.members[m.GroupID][m.UserID] = *m
	delete(s.requests[m.GroupID], m.UserID)
	return nil
}

func (s *memStore) RemoveMembership(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[groupID][userID]
	if !ok || m.Role == domain.RoleOwner {
		return domain.NotFound("membership not found").WithGroup(groupID)
	}
	s.writes++
	delete(s.members[groupID], userID)
	return nil
}

func (s *memStore) LeaveGroup(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[groupID][userID]
	if !ok {
		return false, domain.NotFound("membership not found").WithGroup(groupID)
	}
	s.writes++
	if m.Role == domain.RoleOwner {
		if len(s.members[groupID]) > 1 {
			return false, domain.InvalidState("owner cannot leave").WithGroup(groupID)
		}
		delete(s.groups, groupID)
		delete(s.members, groupID)
		delete(s.requests, groupID)
		return true, nil
	}
	delete(s.members[groupID], userID)
	return false, nil
}

func (s *memStore) UpdateMemberRole(_ context.Context, groupID, userID string, role domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[groupID][userID]
	if !ok || m.Role == domain.RoleOwner {
		return domain.NotFound("membership not found").WithGroup(groupID)
	}
	s.writes++
	m.Role = role
	s.members[groupID][userID] = m
	return nil
}

func (s *memStore) CreateJoinRequest(_ context.Context, req *domain.JoinRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.GroupID][req.UserID]; ok {
		return domain.AlreadyExists("user_id", "join request already pending").WithGroup(req.GroupID)
	}
	if s.requests[req.GroupID] == nil {
		s.requests[req.GroupID] = make(map[string]domain.JoinRequest)
	}
	s.writes++
	s.requests[req.GroupID][req.UserID] = *req
	return nil
}

func (s *memStore) ListJoinRequests(_ context.Context, groupID string) ([]domain.JoinRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.JoinRequest, 0, len(s.requests[groupID]))
	for _, r := range s.requests[groupID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memStore) ApproveJoinRequest(_ context.Context, groupID, userID string, m *domain.GroupMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[groupID][userID]; !ok {
		return domain.NotFound("join request not found").WithGroup(groupID)
	}
	if _, ok := s.members[groupID][userID]; ok {
		return domain.AlreadyMember(groupID)
	}
	s.writes++
	delete(s.requests[groupID], userID)
	s.members[groupID][userID] = *m
	return nil
}

// seed inserts a group and memberships directly, bypassing the service.
func (s *memStore) seed(g domain.Group, roles map[string]domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	s.members[g.ID] = make(map[string]domain.GroupMembership)
	joined := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for i, id := range ids {
		s.members[g.ID][id] = domain.GroupMembership{
			ID:       "m-" + id,
			GroupID:  g.ID,
			UserID:   id,
			Role:     roles[id],
			JoinedAt: joined.Add(time.Duration(i) * time.Hour),
		}
	}
}

func (s *memStore) ownerCount(groupID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.members[groupID] {
		if m.Role == domain.RoleOwner {
			n++
		}
	}
	return n
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// fakeSteps serves totals keyed by period start date.
type fakeSteps struct {
	mu     sync.Mutex
	totals map[string][]domain.StepTotal
	err    error
	calls  []domain.Period
}

func (f *fakeSteps) GetTotals(_ context.Context, userIDs []string, period domain.Period) ([]domain.StepTotal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, period)
	if f.err != nil {
		return nil, f.err
	}
	allowed := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		allowed[id] = true
	}
	var out []domain.StepTotal
	for _, t := range f.totals[period.Start.Format(domain.DateLayout)] {
		if allowed[t.UserID] {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeProfiles struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeProfiles) GetByIDs(_ context.Context, userIDs []string) ([]domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Profile, len(userIDs))
	for i, id := range userIDs {
		out[i] = domain.Profile{UserID: id, DisplayName: "User " + id}
	}
	return out, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.GroupEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, evt domain.GroupEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return f.err
}

func (f *fakePublisher) types() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string]map[string]int64
	sets int
}

func (f *fakeCache) key(groupID string, p domain.Period) string {
	return groupID + ":" + p.Key()
}

func (f *fakeCache) GetTotals(_ context.Context, groupID string, p domain.Period) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64)
	for k, v := range f.data[f.key(groupID, p)] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCache) SetTotals(_ context.Context, groupID string, p domain.Period, totals []domain.StepTotal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[string]map[string]int64)
	}
	m := make(map[string]int64, len(totals))
	for _, t := range totals {
		m[t.UserID] = t.TotalSteps
	}
	f.data[f.key(groupID, p)] = m
	f.sets++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGroupsConfig() *config.GroupsConfig {
	return &config.DefaultConfig().Groups
}

func strPtr(s string) *string {
	return &s
}
