package service

import (
	"context"
	"crypto/subtle"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/step-groups/internal/domain"
	"github.com/step-groups/internal/joincode"
)

var roleOrder = map[domain.Role]int{
	domain.RoleOwner:  0,
	domain.RoleAdmin:  1,
	domain.RoleMember: 2,
}

// Join adds the actor to a group as a member. Private groups require their
// join code; public groups ignore it.
func (s *GroupService) Join(ctx context.Context, actorID, groupID, code string) (*domain.GroupMembership, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	existing, err := s.optionalMembership(ctx, group.ID, actorID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.AlreadyMember(groupID)
	}
	if !group.IsPublic && !codeMatches(group.JoinCode, code) {
		return nil, domain.PermissionDenied("invalid join code").WithGroup(groupID)
	}
	return s.addMember(ctx, group.ID, actorID, actorID, domain.EventMemberJoined)
}

// JoinByCode resolves the group from its join code alone and joins it.
func (s *GroupService) JoinByCode(ctx context.Context, actorID, code string) (*domain.GroupMembership, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.Validation("join_code", "is required")
	}
	if !joincode.Valid(code) {
		return nil, domain.NotFound("no group uses this join code")
	}
	group, err := s.store.GetGroupByJoinCode(ctx, code)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil, domain.NotFound("no group uses this join code")
		}
		return nil, err
	}
	return s.addMember(ctx, group.ID, actorID, actorID, domain.EventMemberJoined)
}

func codeMatches(stored *string, given string) bool {
	if stored == nil || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(given)) == 1
}

// addMember inserts a member-role row for userID after checking that none
// exists. The store's uniqueness constraint settles concurrent inserts.
func (s *GroupService) addMember(ctx context.Context, groupID, actorID, userID string, evt domain.EventType) (*domain.GroupMembership, error) {
	existing, err := s.optionalMembership(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.AlreadyMember(groupID)
	}

	m := &domain.GroupMembership{
		ID:       uuid.NewString(),
		GroupID:  groupID,
		UserID:   userID,
		Role:     domain.RoleMember,
		JoinedAt: s.now().UTC(),
	}
	if err := s.store.AddMembership(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("member added", "group_id", groupID, "user_id", userID, "actor_id", actorID)
	s.publish(ctx, evt, groupID, actorID, userID, m.Role)
	return m, nil
}

// Leave removes the actor from a group. The owner may only leave a group
// they are alone in, which deletes the group.
func (s *GroupService) Leave(ctx context.Context, actorID, groupID string) error {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return err
	}
	m, err := s.optionalMembership(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if m == nil {
		return domain.NotFound("membership not found").WithGroup(groupID)
	}

	if m.Role == domain.RoleOwner {
		members, err := s.store.ListMemberships(ctx, groupID)
		if err != nil {
			return err
		}
		if len(members) > 1 {
			return domain.InvalidState("the owner must delete the group or transfer ownership before leaving").WithGroup(groupID)
		}
	}

	deleted, err := s.store.LeaveGroup(ctx, groupID, actorID)
	if err != nil {
		logFailure(s.logger, "leave_group", err, "group_id", groupID, "user_id", actorID)
		return err
	}

	if deleted {
		s.logger.Info("sole owner left, group deleted", "group_id", groupID, "user_id", actorID)
		s.publish(ctx, domain.EventGroupDeleted, groupID, actorID, "", "")
		return nil
	}
	s.logger.Info("member left", "group_id", groupID, "user_id", actorID)
	s.publish(ctx, domain.EventMemberLeft, groupID, actorID, actorID, "")
	return nil
}

// InviteMember adds a user directly as a member. Owners and admins only.
func (s *GroupService) InviteMember(ctx context.Context, actorID, groupID, userID string) (*domain.GroupMembership, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.Validation("user_id", "is required")
	}
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	actor, err := s.requireMembership(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	if err := domain.Authorize(actor.Role, domain.ActionInviteMember); err != nil {
		return nil, withGroup(err, groupID)
	}
	return s.addMember(ctx, groupID, actorID, userID, domain.EventMemberJoined)
}

// RemoveMember removes another user's membership, subject to the role rules.
func (s *GroupService) RemoveMember(ctx context.Context, actorID, groupID, userID string) error {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return err
	}
	actor, err := s.requireMembership(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if err := domain.Authorize(actor.Role, domain.ActionRemoveMember); err != nil {
		return withGroup(err, groupID)
	}
	target, err := s.targetMembership(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if err := domain.AuthorizeRemoval(actor.Role, target.Role); err != nil {
		return withGroup(err, groupID)
	}

	if err := s.store.RemoveMembership(ctx, groupID, userID); err != nil {
		logFailure(s.logger, "remove_member", err, "group_id", groupID, "user_id", userID)
		return err
	}

	s.logger.Info("member removed", "group_id", groupID, "user_id", userID, "actor_id", actorID)
	s.publish(ctx, domain.EventMemberRemoved, groupID, actorID, userID, target.Role)
	return nil
}

// UpdateMemberRole promotes or demotes a member. Setting the role a member
// already holds is a no-op.
func (s *GroupService) UpdateMemberRole(ctx context.Context, actorID, groupID, userID string, role domain.Role) (*domain.GroupMembership, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	actor, err := s.requireMembership(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	target, err := s.targetMembership(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if err := domain.AuthorizeRoleChange(actor.Role, target.Role, role, actorID == userID); err != nil {
		return nil, withGroup(err, groupID)
	}
	if target.Role == role {
		return target, nil
	}

	if err := s.store.UpdateMemberRole(ctx, groupID, userID, role); err != nil {
		logFailure(s.logger, "update_member_role", err, "group_id", groupID, "user_id", userID)
		return nil, err
	}
	target.Role = role

	s.logger.Info("member role changed",
		"group_id", groupID,
		"user_id", userID,
		"actor_id", actorID,
		"role", role,
	)
	s.publish(ctx, domain.EventMemberRoleChanged, groupID, actorID, userID, role)
	return target, nil
}

// RequestToJoin records a pending request to join a private group.
func (s *GroupService) RequestToJoin(ctx context.Context, actorID, groupID string) (*domain.JoinRequest, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.IsPublic {
		return nil, domain.InvalidState("public groups can be joined directly").WithGroup(groupID)
	}
	existing, err := s.optionalMembership(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.AlreadyMember(groupID)
	}

	req := &domain.JoinRequest{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		UserID:    actorID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateJoinRequest(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("join requested", "group_id", groupID, "user_id", actorID)
	s.publish(ctx, domain.EventMemberRequested, groupID, actorID, actorID, "")
	return req, nil
}

// ApproveMember turns a pending join request into a member-role membership.
func (s *GroupService) ApproveMember(ctx context.Context, actorID, groupID, userID string) (*domain.GroupMembership, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	actor, err := s.requireMembership(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	if err := domain.Authorize(actor.Role, domain.ActionApproveMember); err != nil {
		return nil, withGroup(err, groupID)
	}
	existing, err := s.optionalMembership(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.AlreadyMember(groupID)
	}

	m := &domain.GroupMembership{
		ID:       uuid.NewString(),
		GroupID:  groupID,
		UserID:   userID,
		Role:     domain.RoleMember,
		JoinedAt: s.now().UTC(),
	}
	if err := s.store.ApproveJoinRequest(ctx, groupID, userID, m); err != nil {
		return nil, err
	}

	s.logger.Info("join request approved", "group_id", groupID, "user_id", userID, "actor_id", actorID)
	s.publish(ctx, domain.EventMemberApproved, groupID, actorID, userID, m.Role)
	return m, nil
}

// ListMembers returns a group's members with their display profiles, owner
// first, then admins, then members by join time. Private groups list for
// members only.
func (s *GroupService) ListMembers(ctx context.Context, actorID, groupID string) ([]domain.Member, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.IsPublic {
		if _, err := s.requireMembership(ctx, groupID, actorID); err != nil {
			return nil, err
		}
	}

	memberships, err := s.store.ListMemberships(ctx, groupID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(memberships))
	for i, m := range memberships {
		ids[i] = m.UserID
	}
	profiles, err := profileMap(ctx, s.profiles, ids)
	if err != nil {
		return nil, err
	}

	members := make([]domain.Member, len(memberships))
	for i, m := range memberships {
		p := profiles[m.UserID]
		members[i] = domain.Member{
			GroupMembership: m,
			DisplayName:     p.DisplayName,
			AvatarURL:       p.AvatarURL,
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if roleOrder[a.Role] != roleOrder[b.Role] {
			return roleOrder[a.Role] < roleOrder[b.Role]
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.UserID < b.UserID
	})
	return members, nil
}

// ListPendingRequests returns a group's pending join requests. Owners and
// admins only.
func (s *GroupService) ListPendingRequests(ctx context.Context, actorID, groupID string) ([]domain.JoinRequest, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	actor, err := s.requireMembership(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	if err := domain.Authorize(actor.Role, domain.ActionApproveMember); err != nil {
		return nil, withGroup(err, groupID)
	}

	requests, err := s.store.ListJoinRequests(ctx, groupID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(requests))
	for i, r := range requests {
		ids[i] = r.UserID
	}
	profiles, err := profileMap(ctx, s.profiles, ids)
	if err != nil {
		return nil, err
	}
	for i := range requests {
		requests[i].DisplayName = profiles[requests[i].UserID].DisplayName
	}
	return requests, nil
}

// targetMembership loads the membership an operation acts on.
func (s *GroupService) targetMembership(ctx context.Context, groupID, userID string) (*domain.GroupMembership, error) {
	m, err := s.optionalMembership(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.NotFound("membership not found").WithGroup(groupID)
	}
	return m, nil
}
