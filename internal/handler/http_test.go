package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/step-groups/internal/domain"
	"github.com/step-groups/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGroups implements the handful of Groups methods the tests reach; any
// other call panics through the nil embedded interface.
type stubGroups struct {
	Groups

	actor   string
	groupID string
	userID  string
	limit   int
	role    domain.Role
	calls   int
	err     error
}

func (s *stubGroups) CreateGroup(_ context.Context, actorID string, req domain.CreateGroupRequest) (*domain.Group, error) {
	s.calls++
	s.actor = actorID
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Group{ID: "G", Name: req.Name, PeriodType: req.PeriodType, IsPublic: req.IsPublic, MemberCount: 1}, nil
}

func (s *stubGroups) GetGroup(_ context.Context, actorID, groupID string) (*domain.Group, error) {
	s.calls++
	s.actor, s.groupID = actorID, groupID
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Group{ID: groupID, Name: "Walkers"}, nil
}

func (s *stubGroups) SearchPublicGroups(_ context.Context, _ string, limit int) ([]domain.Group, error) {
	s.calls++
	s.limit = limit
	return []domain.Group{}, s.err
}

func (s *stubGroups) Join(_ context.Context, actorID, groupID, _ string) (*domain.GroupMembership, error) {
	s.calls++
	s.actor, s.groupID = actorID, groupID
	if s.err != nil {
		return nil, s.err
	}
	return &domain.GroupMembership{GroupID: groupID, UserID: actorID, Role: domain.RoleMember}, nil
}

func (s *stubGroups) RemoveMember(_ context.Context, actorID, groupID, userID string) error {
	s.calls++
	s.actor, s.groupID, s.userID = actorID, groupID, userID
	return s.err
}

func (s *stubGroups) UpdateMemberRole(_ context.Context, actorID, groupID, userID string, role domain.Role) (*domain.GroupMembership, error) {
	s.calls++
	s.actor, s.groupID, s.userID, s.role = actorID, groupID, userID, role
	if s.err != nil {
		return nil, s.err
	}
	return &domain.GroupMembership{GroupID: groupID, UserID: userID, Role: role}, nil
}

type stubLeaderboards struct {
	board *domain.Leaderboard
	err   error
}

func (s *stubLeaderboards) GetLeaderboard(context.Context, string, string) (*domain.Leaderboard, error) {
	return s.board, s.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestRouter(groups Groups, boards Leaderboards, db Pinger) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := websocket.NewHub(groups, logger)
	return NewHandler(groups, boards, hub, db, logger).Router()
}

func do(t *testing.T, router http.Handler, method, path, userID, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func TestRouter_RequiresUser(t *testing.T) {
	groups := &stubGroups{}
	router := newTestRouter(groups, &stubLeaderboards{}, nil)

	rec, resp := do(t, router, http.MethodGet, "/api/v1/groups/G", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", resp.Code)
	assert.Zero(t, groups.calls)
}

func TestCreateGroup(t *testing.T) {
	groups := &stubGroups{}
	router := newTestRouter(groups, &stubLeaderboards{}, nil)

	rec, resp := do(t, router, http.MethodPost, "/api/v1/groups", "A",
		`{"name":"Walkers","period_type":"weekly","is_public":false}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "A", groups.actor)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Walkers", data["name"])
	assert.Equal(t, "weekly", data["period_type"])
}

func TestCreateGroup_RequestValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "missing name", body: `{"period_type":"weekly"}`, field: "name"},
		{name: "unknown period", body: `{"name":"Walkers","period_type":"yearly"}`, field: "period_type"},
		{name: "empty body", body: ``, field: "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := &stubGroups{}
			router := newTestRouter(groups, &stubLeaderboards{}, nil)

			rec, resp := do(t, router, http.MethodPost, "/api/v1/groups", "A", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(domain.KindValidation), resp.Code)
			details, ok := resp.Details.(map[string]any)
			require.True(t, ok)
			assert.Contains(t, details, tt.field)
			assert.Zero(t, groups.calls)
		})
	}
}

func TestCreateGroup_MalformedBody(t *testing.T) {
	groups := &stubGroups{}
	router := newTestRouter(groups, &stubLeaderboards{}, nil)

	rec, resp := do(t, router, http.MethodPost, "/api/v1/groups", "A", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(domain.KindValidation), resp.Code)
	assert.Zero(t, groups.calls)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{
			name:   "not found",
			err:    domain.NotFound("group not found").WithGroup("G"),
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "permission denied",
			err:    domain.PermissionDenied("only owners can delete a group"),
			status: http.StatusForbidden,
			code:   "permission_denied",
		},
		{
			name:   "already member",
			err:    domain.AlreadyMember("G"),
			status: http.StatusConflict,
			code:   "already_member",
		},
		{
			name:   "invalid state",
			err:    domain.InvalidState("owner role cannot change"),
			status: http.StatusConflict,
			code:   "invalid_state",
		},
		{
			name:    "upstream",
			err:     domain.Upstream("fetching profiles", errors.New("dial tcp: refused")),
			status:  http.StatusBadGateway,
			code:    "upstream",
			message: "upstream service unavailable",
		},
		{
			name:    "unclassified",
			err:     errors.New("pool closed"),
			status:  http.StatusInternalServerError,
			code:    "internal",
			message: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&stubGroups{err: tt.err}, &stubLeaderboards{}, nil)

			rec, resp := do(t, router, http.MethodGet, "/api/v1/groups/G", "A", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Error)
			} else {
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
}

func TestSearchPublicGroups_Limit(t *testing.T) {
	groups := &stubGroups{}
	router := newTestRouter(groups, &stubLeaderboards{}, nil)

	rec, _ := do(t, router, http.MethodGet, "/api/v1/groups/search?q=walk&limit=5", "A", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, groups.limit)

	rec, _ = do(t, router, http.MethodGet, "/api/v1/groups/search?q=walk", "A", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, groups.limit)

	rec, resp := do(t, router, http.MethodGet, "/api/v1/groups/search?limit=many", "A", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", resp.Code)
}

func TestJoin_EmptyBodyAllowed(t *testing.T) {
	groups := &stubGroups{}
	router := newTestRouter(groups, &stubLeaderboards{}, nil)

	rec, resp := do(t, router, http.MethodPost, "/api/v1/groups/G/join", "D", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "D", groups.actor)
	assert.Equal(t, "G", groups.groupID)
}

func TestMemberRoutes(t *testing.T) {
	groups := &stubGroups{}
	router := newTestRouter(groups, &stubLeaderboards{}, nil)

	rec, _ := do(t, router, http.MethodDelete, "/api/v1/groups/G/members/C", "B", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "B", groups.actor)
	assert.Equal(t, "G", groups.groupID)
	assert.Equal(t, "C", groups.userID)

	rec, _ = do(t, router, http.MethodPut, "/api/v1/groups/G/members/C/role", "A", `{"role":"admin"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RoleAdmin, groups.role)

	calls := groups.calls
	rec, resp := do(t, router, http.MethodPut, "/api/v1/groups/G/members/C/role", "A", `{"role":"boss"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", resp.Code)
	assert.Equal(t, calls, groups.calls)
}

func TestGetLeaderboard(t *testing.T) {
	start := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)
	board := &domain.Leaderboard{
		GroupID: "G",
		Period:  domain.Period{Start: start, End: start.AddDate(0, 0, 6)},
		Entries: []domain.LeaderboardEntry{
			{UserID: "A", DisplayName: "Ann", Rank: 1, TotalSteps: 9000, RankChange: 1},
		},
	}
	router := newTestRouter(&stubGroups{}, &stubLeaderboards{board: board}, nil)

	rec, resp := do(t, router, http.MethodGet, "/api/v1/groups/G/leaderboard", "A", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	entries, ok := data["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
	first := entries[0].(map[string]any)
	assert.Equal(t, "A", first["user_id"])
	assert.InDelta(t, 9000, first["total_steps"], 0)
}

func TestHealthAndReady(t *testing.T) {
	router := newTestRouter(&stubGroups{}, &stubLeaderboards{}, stubPinger{})

	rec, _ := do(t, router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	router = newTestRouter(&stubGroups{}, &stubLeaderboards{}, stubPinger{err: errors.New("connection refused")})
	rec, resp := do(t, router, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, resp.Success)
}

func TestWebSocketStats(t *testing.T) {
	router := newTestRouter(&stubGroups{}, &stubLeaderboards{}, nil)

	rec, resp := do(t, router, http.MethodGet, "/api/v1/ws/stats", "A", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]any)
	assert.InDelta(t, 0, data["total_connections"], 0)
}
