package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/step-groups/internal/domain"
)

// Store persists groups, memberships and join requests. Implementations must
// enforce (group_id, user_id) uniqueness and the single-owner rule themselves,
// since concurrent requests are only serialized by the store.
type Store interface {
	// CreateGroupWithOwner inserts the group and its owner membership
	// atomically. A failed owner insert leaves no group behind and is
	// reported as an invariant violation.
	CreateGroupWithOwner(ctx context.Context, group *domain.Group, owner *domain.GroupMembership) error
	GetGroup(ctx context.Context, groupID string) (*domain.Group, error)
	GetGroupByJoinCode(ctx context.Context, code string) (*domain.Group, error)
	UpdateGroup(ctx context.Context, group *domain.Group) error
	DeleteGroup(ctx context.Context, groupID string) error
	SearchPublicGroups(ctx context.Context, query string, limit int) ([]domain.Group, error)
	ListUserGroups(ctx context.Context, userID string) ([]domain.UserGroup, error)

	GetMembership(ctx context.Context, groupID, userID string) (*domain.GroupMembership, error)
	ListMemberships(ctx context.Context, groupID string) ([]domain.GroupMembership, error)
	// AddMembership fails with AlreadyMember when the row exists.
	AddMembership(ctx context.Context, m *domain.GroupMembership) error
	// RemoveMembership never deletes an owner row.
	RemoveMembership(ctx context.Context, groupID, userID string) error
	// LeaveGroup removes the membership, refusing an owner while other
	// members remain. A sole owner leaving deletes the group.
	LeaveGroup(ctx context.Context, groupID, userID string) (groupDeleted bool, err error)
	// UpdateMemberRole never changes an owner row.
	UpdateMemberRole(ctx context.Context, groupID, userID string, role domain.Role) error

	CreateJoinRequest(ctx context.Context, req *domain.JoinRequest) error
	ListJoinRequests(ctx context.Context, groupID string) ([]domain.JoinRequest, error)
	// ApproveJoinRequest consumes the pending request and inserts the membership.
	ApproveJoinRequest(ctx context.Context, groupID, userID string, m *domain.GroupMembership) error
}

// StepAggregator reports summed steps per user over an inclusive date window.
// Users without activity may be absent from the result.
type StepAggregator interface {
	GetTotals(ctx context.Context, userIDs []string, period domain.Period) ([]domain.StepTotal, error)
}

// ProfileSource resolves display profiles in one batch call.
type ProfileSource interface {
	GetByIDs(ctx context.Context, userIDs []string) ([]domain.Profile, error)
}

// EventPublisher delivers group events after successful mutations.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.GroupEvent) error
}

// TotalsCache keeps step totals of closed periods. GetTotals returns an
// empty map on a miss.
type TotalsCache interface {
	GetTotals(ctx context.Context, groupID string, period domain.Period) (map[string]int64, error)
	SetTotals(ctx context.Context, groupID string, period domain.Period, totals []domain.StepTotal) error
}

// profileMap fetches profiles for ids in one call and indexes them.
func profileMap(ctx context.Context, profiles ProfileSource, ids []string) (map[string]domain.Profile, error) {
	out := make(map[string]domain.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := profiles.GetByIDs(ctx, ids)
	if err != nil {
		return nil, upstream("fetching profiles", err)
	}
	for _, p := range list {
		out[p.UserID] = p
	}
	return out, nil
}

// upstream tags collaborator failures unless they already carry a kind.
func upstream(msg string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Upstream(msg, err)
}

// logFailure reports invariant violations loudly and leaves everything else
// to the caller.
func logFailure(logger *slog.Logger, op string, err error, attrs ...any) {
	if errors.Is(err, domain.ErrInvariantViolation) {
		logger.Error("invariant violated", append([]any{"op", op, "error", err}, attrs...)...)
	}
}

// withGroup annotates a domain error with the group it concerns.
func withGroup(err error, groupID string) error {
	var de *domain.Error
	if errors.As(err, &de) && de.GroupID == "" {
		return de.WithGroup(groupID)
	}
	return err
}
