package domain

import "time"

// EventType names a change to a group or its membership.
type EventType string

const (
	EventGroupCreated        EventType = "group.created"
	EventGroupUpdated        EventType = "group.updated"
	EventGroupDeleted        EventType = "group.deleted"
	EventJoinCodeRegenerated EventType = "join_code.regenerated"
	EventMemberJoined        EventType = "member.joined"
	EventMemberLeft          EventType = "member.left"
	EventMemberRemoved       EventType = "member.removed"
	EventMemberRoleChanged   EventType = "member.role_changed"
	EventMemberRequested     EventType = "member.requested"
	EventMemberApproved      EventType = "member.approved"
)

// GroupEvent is published after a successful mutation. It never carries the
// join code.
type GroupEvent struct {
	Type      EventType `json:"type"`
	GroupID   string    `json:"group_id"`
	ActorID   string    `json:"actor_id"`
	UserID    string    `json:"user_id,omitempty"`
	Role      Role      `json:"role,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
