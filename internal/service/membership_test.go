package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/step-groups/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveMember_Scenario(t *testing.T) {
	svc, store, _ := newScenario(t)
	ctx := context.Background()

	err := svc.RemoveMember(ctx, "C", "G", "B")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied, "members cannot remove anyone")

	err = svc.RemoveMember(ctx, "B", "G", "A")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied, "nobody removes the owner")

	_, err = svc.UpdateMemberRole(ctx, "A", "G", "B", domain.RoleMember)
	require.NoError(t, err)

	m, err := store.GetMembership(ctx, "G", "B")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, m.Role)
}

func TestRemoveMember_Rules(t *testing.T) {
	tests := []struct {
		name    string
		actor   string
		target  string
		wantErr error
	}{
		{"owner removes admin", "A", "B", nil},
		{"owner removes member", "A", "C", nil},
		{"admin removes member", "B", "C", nil},
		{"admin removes self", "B", "B", domain.ErrPermissionDenied},
		{"owner removes self", "A", "A", domain.ErrPermissionDenied},
		{"outsider", "D", "C", domain.ErrPermissionDenied},
		{"missing target", "A", "Z", domain.ErrNotFound},
		{"member probing missing target", "C", "Z", domain.ErrPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newScenario(t)
			ctx := context.Background()
			before := store.writeCount()

			err := svc.RemoveMember(ctx, tt.actor, "G", tt.target)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, store.writeCount())
				return
			}
			require.NoError(t, err)
			_, err = store.GetMembership(ctx, "G", tt.target)
			assert.ErrorIs(t, err, domain.ErrNotFound)
			assert.Equal(t, 1, store.ownerCount("G"))
		})
	}
}

func TestUpdateMemberRole_Rules(t *testing.T) {
	tests := []struct {
		name    string
		actor   string
		target  string
		role    domain.Role
		wantErr error
	}{
		{"owner promotes member", "A", "C", domain.RoleAdmin, nil},
		{"owner target is invalid state", "A", "A", domain.RoleMember, domain.ErrInvalidState},
		{"admin touching owner is invalid state", "B", "A", domain.RoleMember, domain.ErrInvalidState},
		{"admin promotes member", "B", "C", domain.RoleAdmin, domain.ErrPermissionDenied},
		{"admin demotes self", "B", "B", domain.RoleMember, domain.ErrPermissionDenied},
		{"member promotes self", "C", "C", domain.RoleAdmin, domain.ErrPermissionDenied},
		{"promote to owner", "A", "C", domain.RoleOwner, domain.ErrValidation},
		{"missing target", "A", "Z", domain.RoleAdmin, domain.ErrNotFound},
		{"outsider", "D", "C", domain.RoleAdmin, domain.ErrPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newScenario(t)
			before := store.writeCount()

			m, err := svc.UpdateMemberRole(context.Background(), tt.actor, "G", tt.target, tt.role)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, store.writeCount())
				assert.Equal(t, 1, store.ownerCount("G"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.role, m.Role)
		})
	}
}

func TestUpdateMemberRole_SameRoleIsNoop(t *testing.T) {
	svc, store, pub := newScenario(t)
	before := store.writeCount()

	m, err := svc.UpdateMemberRole(context.Background(), "A", "G", "B", domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, m.Role)
	assert.Equal(t, before, store.writeCount())
	assert.Empty(t, pub.types())
}

func TestJoin(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		code    string
		wantErr error
	}{
		{"correct code", "D", "K7X2PQ9M", nil},
		{"wrong code", "D", "AAAAAAAA", domain.ErrPermissionDenied},
		{"code is case sensitive", "D", "k7x2pq9m", domain.ErrPermissionDenied},
		{"missing code", "D", "", domain.ErrPermissionDenied},
		{"already member", "C", "K7X2PQ9M", domain.ErrAlreadyMember},
		{"already member without code", "C", "", domain.ErrAlreadyMember},
		{"already member with wrong code", "C", "WRONGCOD", domain.ErrAlreadyMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newScenario(t)
			before := store.writeCount()

			m, err := svc.Join(context.Background(), tt.user, "G", tt.code)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, store.writeCount())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.RoleMember, m.Role)
			assert.Equal(t, "G", m.GroupID)
		})
	}
}

func TestJoin_PublicIgnoresCode(t *testing.T) {
	svc, store, pub := newScenario(t)
	store.seed(domain.Group{ID: "P", Name: "Open", IsPublic: true, PeriodType: domain.PeriodDaily},
		map[string]domain.Role{"X": domain.RoleOwner})

	_, err := svc.Join(context.Background(), "D", "P", "whatever")
	require.NoError(t, err)
	assert.Equal(t, []domain.EventType{domain.EventMemberJoined}, pub.types())

	_, err = svc.Join(context.Background(), "D", "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJoin_ConcurrentJoinsAdmitOnce(t *testing.T) {
	svc, _, _ := newScenario(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Join(context.Background(), "D", "G", "K7X2PQ9M")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrAlreadyMember):
				dupes++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 15, dupes)
}

func TestJoinByCode(t *testing.T) {
	svc, store, _ := newScenario(t)
	ctx := context.Background()

	m, err := svc.JoinByCode(ctx, "D", "K7X2PQ9M")
	require.NoError(t, err)
	assert.Equal(t, "G", m.GroupID)

	_, err = svc.JoinByCode(ctx, "D", "K7X2PQ9M")
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)

	_, err = svc.JoinByCode(ctx, "E", "ZZZZZZZZ")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.JoinByCode(ctx, "E", "  ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.JoinByCode(ctx, "E", "k7x2pq9m")
	assert.ErrorIs(t, err, domain.ErrNotFound, "codes are case sensitive")

	_, err = svc.JoinByCode(ctx, "E", "K7X2PQ9")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	members, err := store.ListMemberships(ctx, "G")
	require.NoError(t, err)
	assert.Len(t, members, 4)
}

func TestLeave(t *testing.T) {
	svc, store, pub := newScenario(t)
	ctx := context.Background()

	err := svc.Leave(ctx, "A", "G")
	require.ErrorIs(t, err, domain.ErrInvalidState, "owner cannot leave while others remain")

	require.NoError(t, svc.Leave(ctx, "C", "G"))
	require.NoError(t, svc.Leave(ctx, "B", "G"))

	err = svc.Leave(ctx, "C", "G")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, svc.Leave(ctx, "A", "G"))
	_, err = store.GetGroup(ctx, "G")
	assert.ErrorIs(t, err, domain.ErrNotFound, "sole owner leaving deletes the group")

	assert.Equal(t, []domain.EventType{
		domain.EventMemberLeft,
		domain.EventMemberLeft,
		domain.EventGroupDeleted,
	}, pub.types())
}

func TestInviteMember(t *testing.T) {
	svc, store, _ := newScenario(t)
	ctx := context.Background()

	m, err := svc.InviteMember(ctx, "B", "G", "D")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, m.Role)

	_, err = svc.InviteMember(ctx, "A", "G", "D")
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)

	_, err = svc.InviteMember(ctx, "C", "G", "E")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = svc.InviteMember(ctx, "A", "G", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = store.GetMembership(ctx, "G", "E")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJoinRequests_ApproveFlow(t *testing.T) {
	svc, store, pub := newScenario(t)
	ctx := context.Background()

	_, err := svc.RequestToJoin(ctx, "D", "G")
	require.NoError(t, err)

	_, err = svc.RequestToJoin(ctx, "D", "G")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = svc.RequestToJoin(ctx, "C", "G")
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)

	_, err = svc.ListPendingRequests(ctx, "C", "G")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	pending, err := svc.ListPendingRequests(ctx, "B", "G")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "D", pending[0].UserID)
	assert.Equal(t, "User D", pending[0].DisplayName)

	_, err = svc.ApproveMember(ctx, "C", "G", "D")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	m, err := svc.ApproveMember(ctx, "B", "G", "D")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, m.Role)

	_, err = svc.ApproveMember(ctx, "B", "G", "E")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pending, err = store.ListJoinRequests(ctx, "G")
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, []domain.EventType{domain.EventMemberRequested, domain.EventMemberApproved}, pub.types())
}

func TestRequestToJoin_PublicGroup(t *testing.T) {
	svc, store, _ := newScenario(t)
	store.seed(domain.Group{ID: "P", Name: "Open", IsPublic: true, PeriodType: domain.PeriodDaily},
		map[string]domain.Role{"X": domain.RoleOwner})

	_, err := svc.RequestToJoin(context.Background(), "D", "P")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestListMembers(t *testing.T) {
	store := newMemStore()
	store.seed(domain.Group{ID: "G", Name: "Walkers", JoinCode: strPtr("K7X2PQ9M"), PeriodType: domain.PeriodWeekly},
		map[string]domain.Role{
			"A": domain.RoleMember,
			"B": domain.RoleAdmin,
			"C": domain.RoleOwner,
			"D": domain.RoleMember,
		})
	profiles := &fakeProfiles{}
	svc := NewGroupService(store, profiles, nil, testGroupsConfig(), testLogger())

	members, err := svc.ListMembers(context.Background(), "A", "G")
	require.NoError(t, err)
	require.Len(t, members, 4)

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	assert.Equal(t, []string{"C", "B", "A", "D"}, ids)
	assert.Equal(t, "User C", members[0].DisplayName)
	assert.Equal(t, 1, profiles.calls, "profiles are resolved in one batch")

	_, err = svc.ListMembers(context.Background(), "Z", "G")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestListMembers_ProfileFailureIsUpstream(t *testing.T) {
	svc, _, _ := newScenario(t)
	svc.profiles = &fakeProfiles{err: errors.New("profile service down")}

	_, err := svc.ListMembers(context.Background(), "A", "G")
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestOwnerCountStaysOne(t *testing.T) {
	svc, store, _ := newScenario(t)
	ctx := context.Background()

	_, _ = svc.Join(ctx, "D", "G", "K7X2PQ9M")
	_, _ = svc.UpdateMemberRole(ctx, "A", "G", "D", domain.RoleAdmin)
	_, _ = svc.UpdateMemberRole(ctx, "D", "G", "A", domain.RoleMember)
	_, _ = svc.UpdateMemberRole(ctx, "A", "G", "B", domain.RoleOwner)
	_ = svc.RemoveMember(ctx, "D", "G", "A")
	_ = svc.RemoveMember(ctx, "A", "G", "B")
	_ = svc.Leave(ctx, "A", "G")
	_, _ = svc.UpdateMemberRole(ctx, "A", "G", "A", domain.RoleAdmin)

	assert.Equal(t, 1, store.ownerCount("G"))
}
