package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/step-groups/internal/config"
	"github.com/step-groups/internal/domain"
	"github.com/step-groups/internal/joincode"
)

// GroupService provides business logic for group lifecycle and membership
type GroupService struct {
	store       Store
	profiles    ProfileSource
	events      EventPublisher
	config      *config.GroupsConfig
	logger      *slog.Logger
	newJoinCode func() (string, error)
	now         func() time.Time
}

// NewGroupService creates a new group service. events may be nil.
func NewGroupService(
	store Store,
	profiles ProfileSource,
	events EventPublisher,
	cfg *config.GroupsConfig,
	logger *slog.Logger,
) *GroupService {
	return &GroupService{
		store:       store,
		profiles:    profiles,
		events:      events,
		config:      cfg,
		logger:      logger,
		newJoinCode: joincode.Generate,
		now:         time.Now,
	}
}

// SetPublisher sets the event publisher. Call it before serving requests.
func (s *GroupService) SetPublisher(events EventPublisher) {
	s.events = events
}

// publish sends an event after a committed mutation. Delivery failures are
// logged and never undo the mutation.
func (s *GroupService) publish(ctx context.Context, typ domain.EventType, groupID, actorID, userID string, role domain.Role) {
	if s.events == nil {
		return
	}
	evt := domain.GroupEvent{
		Type:      typ,
		GroupID:   groupID,
		ActorID:   actorID,
		UserID:    userID,
		Role:      role,
		Timestamp: s.now().UTC(),
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish group event",
			"type", typ,
			"group_id", groupID,
			"error", err,
		)
	}
}

// CreateGroup creates a group and makes the actor its owner
func (s *GroupService) CreateGroup(ctx context.Context, actorID string, req domain.CreateGroupRequest) (*domain.Group, error) {
	name, desc, err := domain.NormalizeGroupFields(req.Name, req.Description)
	if err != nil {
		return nil, err
	}
	switch req.PeriodType {
	case domain.PeriodDaily, domain.PeriodWeekly, domain.PeriodMonthly:
	case domain.PeriodCustom:
		return nil, domain.Validation("period_type", "custom periods are not supported")
	default:
		return nil, domain.Validation("period_type", "must be one of daily, weekly, monthly")
	}

	now := s.now().UTC()
	group := &domain.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: desc,
		CreatedByID: actorID,
		IsPublic:    req.IsPublic,
		PeriodType:  req.PeriodType,
		CreatedAt:   now,
		UpdatedAt:   now,
		MemberCount: 1,
	}
	owner := &domain.GroupMembership{
		ID:       uuid.NewString(),
		GroupID:  group.ID,
		UserID:   actorID,
		Role:     domain.RoleOwner,
		JoinedAt: now,
	}

	err = s.withFreshJoinCode(group, !group.IsPublic, func() error {
		return s.store.CreateGroupWithOwner(ctx, group, owner)
	})
	if err != nil {
		logFailure(s.logger, "create_group", err, "group_id", group.ID)
		return nil, err
	}

	s.logger.Info("group created",
		"group_id", group.ID,
		"owner_id", actorID,
		"period_type", group.PeriodType,
		"public", group.IsPublic,
	)
	s.publish(ctx, domain.EventGroupCreated, group.ID, actorID, actorID, domain.RoleOwner)
	return group, nil
}

// withFreshJoinCode runs write with a newly generated join code on group,
// drawing a new code when the store reports a collision. When needed is false
// the code is cleared and write runs once.
func (s *GroupService) withFreshJoinCode(group *domain.Group, needed bool, write func() error) error {
	if !needed {
		group.JoinCode = nil
		return write()
	}

	attempts := s.config.JoinCodeMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		code, genErr := s.newJoinCode()
		if genErr != nil {
			return fmt.Errorf("generating join code: %w", genErr)
		}
		group.JoinCode = &code
		err = write()
		if !isJoinCodeCollision(err) {
			return err
		}
		s.logger.Debug("join code collision, retrying", "group_id", group.ID, "attempt", i+1)
	}
	return err
}

func isJoinCodeCollision(err error) bool {
	var de *domain.Error
	return errors.As(err, &de) && de.Kind == domain.KindAlreadyExists && de.Field == "join_code"
}

// GetGroup returns a group visible to the actor. Private groups are visible
// to members only; the join code is shown to owners and admins.
func (s *GroupService) GetGroup(ctx context.Context, actorID, groupID string) (*domain.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	m, err := s.optionalMembership(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		if !group.IsPublic {
			return nil, domain.PermissionDenied("not a member of this group").WithGroup(groupID)
		}
		redacted := group.Redacted()
		return &redacted, nil
	}
	if !domain.Can(m.Role, domain.ActionViewJoinCode) {
		redacted := group.Redacted()
		return &redacted, nil
	}
	return group, nil
}

// UpdateGroup changes a group's name, description and visibility. Going
// private issues a join code if none exists; going public clears it.
func (s *GroupService) UpdateGroup(ctx context.Context, actorID, groupID string, req domain.UpdateGroupRequest) (*domain.Group, error) {
	name, desc, err := domain.NormalizeGroupFields(req.Name, req.Description)
	if err != nil {
		return nil, err
	}

	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	m, err := s.requireMembership(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	if err := domain.Authorize(m.Role, domain.ActionUpdateSettings); err != nil {
		return nil, withGroup(err, groupID)
	}

	group.Name = name
	group.Description = desc
	group.IsPublic = req.IsPublic
	group.UpdatedAt = s.now().UTC()

	write := func() error { return s.store.UpdateGroup(ctx, group) }
	if !group.IsPublic && group.JoinCode != nil {
		err = write()
	} else {
		err = s.withFreshJoinCode(group, !group.IsPublic, write)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("group updated", "group_id", groupID, "actor_id", actorID, "public", group.IsPublic)
	s.publish(ctx, domain.EventGroupUpdated, groupID, actorID, "", "")
	return group, nil
}

// DeleteGroup removes a group and all of its memberships. Owner only.
func (s *GroupService) DeleteGroup(ctx context.Context, actorID, groupID string) error {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return err
	}
	m, err := s.requireMembership(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if err := domain.Authorize(m.Role, domain.ActionDeleteGroup); err != nil {
		return withGroup(err, groupID)
	}

	if err := s.store.DeleteGroup(ctx, groupID); err != nil {
		return err
	}

	s.logger.Info("group deleted", "group_id", groupID, "actor_id", actorID)
	s.publish(ctx, domain.EventGroupDeleted, groupID, actorID, "", "")
	return nil
}

// RegenerateJoinCode replaces a private group's join code.
func (s *GroupService) RegenerateJoinCode(ctx context.Context, actorID, groupID string) (string, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return "", err
	}
	m, err := s.requireMembership(ctx, groupID, actorID)
	if err != nil {
		return "", err
	}
	if err := domain.Authorize(m.Role, domain.ActionUpdateSettings); err != nil {
		return "", withGroup(err, groupID)
	}
	if group.IsPublic {
		return "", domain.InvalidState("public groups have no join code").WithGroup(groupID)
	}

	group.UpdatedAt = s.now().UTC()
	err = s.withFreshJoinCode(group, true, func() error {
		return s.store.UpdateGroup(ctx, group)
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("join code regenerated", "group_id", groupID, "actor_id", actorID)
	s.publish(ctx, domain.EventJoinCodeRegenerated, groupID, actorID, "", "")
	return *group.JoinCode, nil
}

// GetJoinCode returns a private group's join code to owners and admins.
func (s *GroupService) GetJoinCode(ctx context.Context, actorID, groupID string) (string, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return "", err
	}
	m, err := s.requireMembership(ctx, groupID, actorID)
	if err != nil {
		return "", err
	}
	if err := domain.Authorize(m.Role, domain.ActionViewJoinCode); err != nil {
		return "", withGroup(err, groupID)
	}
	if group.JoinCode == nil {
		return "", domain.InvalidState("public groups have no join code").WithGroup(groupID)
	}
	return *group.JoinCode, nil
}

// SearchPublicGroups finds public groups whose name contains query.
func (s *GroupService) SearchPublicGroups(ctx context.Context, query string, limit int) ([]domain.Group, error) {
	if limit == 0 && s.config.DefaultSearchLimit > 0 {
		limit = s.config.DefaultSearchLimit
	}
	limit, err := domain.ClampSearchLimit(limit)
	if err != nil {
		return nil, err
	}

	groups, err := s.store.SearchPublicGroups(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		groups[i] = groups[i].Redacted()
	}
	return groups, nil
}

// ListUserGroups returns every group the actor belongs to with the actor's role.
func (s *GroupService) ListUserGroups(ctx context.Context, actorID string) ([]domain.UserGroup, error) {
	groups, err := s.store.ListUserGroups(ctx, actorID)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		if !domain.Can(groups[i].Role, domain.ActionViewJoinCode) {
			groups[i].Group = groups[i].Group.Redacted()
		}
	}
	return groups, nil
}

// optionalMembership returns nil when the user has no membership row.
func (s *GroupService) optionalMembership(ctx context.Context, groupID, userID string) (*domain.GroupMembership, error) {
	m, err := s.store.GetMembership(ctx, groupID, userID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// requireMembership turns a missing actor membership into PermissionDenied.
func (s *GroupService) requireMembership(ctx context.Context, groupID, userID string) (*domain.GroupMembership, error) {
	m, err := s.optionalMembership(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.PermissionDenied("not a member of this group").WithGroup(groupID)
	}
	return m, nil
}
