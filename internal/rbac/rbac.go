package rbac

import "strings"

type Role string
type Action string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

const (
	ActionRead            Action = "read"
	ActionWrite           Action = "write"
	ActionManageMembers   Action = "manage_members"
	ActionManageWorkspace Action = "manage_workspace"
)

// Can reports whether a workspace member holding role may perform action.
// Membership itself is checked by the access guard before this runs.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

// Normalize maps free-form input onto a known role, defaulting to MEMBER.
func Normalize(role string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(role))) {
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleMember
	}
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleAdmin, RoleMember:
		return true
	default:
		return false
	}
}
