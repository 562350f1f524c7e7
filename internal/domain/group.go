package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MinGroupNameLength   = 2
	MaxGroupNameLength   = 50
	MaxDescriptionLength = 500
	DefaultSearchLimit   = 20
	MaxSearchLimit       = 100
)

// Role is a member's position in a group's hierarchy.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// PeriodType is the cadence on which a group's leaderboard resets.
type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
	PeriodCustom  PeriodType = "custom"
)

// Group is a named collection of users competing on a shared step leaderboard.
// JoinCode is non-nil exactly when IsPublic is false.
type Group struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	CreatedByID string     `json:"created_by_id"`
	IsPublic    bool       `json:"is_public"`
	JoinCode    *string    `json:"join_code,omitempty"`
	PeriodType  PeriodType `json:"period_type"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	MemberCount int        `json:"member_count"`
}

// HasConsistentJoinCode reports whether the visibility/join code pairing holds.
func (g *Group) HasConsistentJoinCode() bool {
	return g.IsPublic == (g.JoinCode == nil)
}

// Redacted returns a copy without the join code, for callers not allowed to see it.
func (g Group) Redacted() Group {
	g.JoinCode = nil
	return g
}

// GroupMembership binds a user to a group with a role.
type GroupMembership struct {
	ID       string    `json:"id"`
	GroupID  string    `json:"group_id"`
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Member is a membership enriched with the user's display profile.
type Member struct {
	GroupMembership
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// JoinRequest is a pending request to join a private group.
type JoinRequest struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"group_id"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	DisplayName string    `json:"display_name,omitempty"`
}

// Profile is the display information of a user, owned by the profile service.
type Profile struct {
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// CreateGroupRequest represents a request to create a new group
type CreateGroupRequest struct {
	Name        string     `json:"name" validate:"required"`
	Description *string    `json:"description,omitempty"`
	IsPublic    bool       `json:"is_public"`
	PeriodType  PeriodType `json:"period_type" validate:"required,oneof=daily weekly monthly custom"`
}

// UpdateGroupRequest represents a request to change a group's settings.
// The period type is fixed at creation.
type UpdateGroupRequest struct {
	Name        string  `json:"name" validate:"required"`
	Description *string `json:"description,omitempty"`
	IsPublic    bool    `json:"is_public"`
}

// JoinGroupRequest carries the optional join code for a private group.
type JoinGroupRequest struct {
	JoinCode string `json:"join_code,omitempty"`
}

// JoinByCodeRequest resolves the group from the code alone.
type JoinByCodeRequest struct {
	JoinCode string `json:"join_code" validate:"required"`
}

// InviteMemberRequest adds a user to a group directly.
type InviteMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// UpdateMemberRoleRequest changes a member's role.
type UpdateMemberRoleRequest struct {
	Role Role `json:"role" validate:"required,oneof=owner admin member"`
}

// NormalizeGroupFields trims and validates a group's name and description.
// An empty description after trimming is stored as nil.
func NormalizeGroupFields(name string, description *string) (string, *string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < MinGroupNameLength || n > MaxGroupNameLength {
		return "", nil, Validation("name", "must be between 2 and 50 characters")
	}

	if description == nil {
		return name, nil, nil
	}
	d := strings.TrimSpace(*description)
	if d == "" {
		return name, nil, nil
	}
	if utf8.RuneCountInString(d) > MaxDescriptionLength {
		return "", nil, Validation("description", "must not exceed 500 characters")
	}
	return name, &d, nil
}

// ClampSearchLimit bounds a search limit to 1..MaxSearchLimit. Zero selects
// the default and a negative limit is rejected.
func ClampSearchLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, Validation("limit", "must be positive")
	case limit == 0:
		return DefaultSearchLimit, nil
	case limit > MaxSearchLimit:
		return MaxSearchLimit, nil
	default:
		return limit, nil
	}
}
