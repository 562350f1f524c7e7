package domain

// Action is a group-level operation gated only by the actor's role.
type Action string

const (
	ActionUpdateSettings Action = "update_settings"
	ActionViewJoinCode   Action = "view_join_code"
	ActionDeleteGroup    Action = "delete_group"
	ActionInviteMember   Action = "invite_member"
	ActionApproveMember  Action = "approve_member"
	ActionRemoveMember   Action = "remove_member"
)

// groupActions is the role matrix for actions gated by the actor's role alone.
// For removal it is only a coarse gate; AuthorizeRemoval decides per target.
var groupActions = map[Action]map[Role]bool{
	ActionUpdateSettings: {RoleOwner: true, RoleAdmin: true},
	ActionViewJoinCode:   {RoleOwner: true, RoleAdmin: true},
	ActionDeleteGroup:    {RoleOwner: true},
	ActionInviteMember:   {RoleOwner: true, RoleAdmin: true},
	ActionApproveMember:  {RoleOwner: true, RoleAdmin: true},
	ActionRemoveMember:   {RoleOwner: true, RoleAdmin: true},
}

// Can reports whether a role may perform an action.
func Can(actor Role, action Action) bool {
	return groupActions[action][actor]
}

// Authorize returns PermissionDenied when the role may not perform the action.
func Authorize(actor Role, action Action) error {
	if !Can(actor, action) {
		return PermissionDenied("role " + string(actor) + " may not " + actionVerb(action))
	}
	return nil
}

// AuthorizeRemoval decides whether actor may remove a member holding target.
// Nobody removes the owner; admins remove plain members only.
func AuthorizeRemoval(actor, target Role) error {
	if target == RoleOwner {
		return PermissionDenied("the group owner cannot be removed")
	}
	switch actor {
	case RoleOwner:
		return nil
	case RoleAdmin:
		if target == RoleMember {
			return nil
		}
		return PermissionDenied("admins cannot remove other admins")
	default:
		return PermissionDenied("members cannot remove other members")
	}
}

// AuthorizeRoleChange decides whether actor may move a member from target to
// newRole. Changing the owner's role is rejected as InvalidState before any
// role-pair rule is evaluated. Only the owner promotes or demotes, and never
// into or out of ownership.
func AuthorizeRoleChange(actor, target, newRole Role, self bool) error {
	if target == RoleOwner {
		return InvalidState("the owner's role cannot be changed")
	}
	if self {
		return PermissionDenied("members cannot change their own role")
	}
	if newRole != RoleAdmin && newRole != RoleMember {
		return Validation("role", "must be admin or member")
	}
	if actor != RoleOwner {
		if target == RoleAdmin {
			return PermissionDenied("admins cannot demote admins")
		}
		return PermissionDenied("only the owner can promote members")
	}
	return nil
}

func actionVerb(a Action) string {
	switch a {
	case ActionUpdateSettings:
		return "update group settings"
	case ActionViewJoinCode:
		return "view the join code"
	case ActionDeleteGroup:
		return "delete the group"
	case ActionInviteMember:
		return "invite members"
	case ActionApproveMember:
		return "approve join requests"
	case ActionRemoveMember:
		return "remove members"
	default:
		return string(a)
	}
}
