package domain

// UserGroup is a group seen from one member, with that member's role.
type UserGroup struct {
	Group
	Role Role `json:"role"`
}
