package auth

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermEntityRead    Permission = "entity:read"
	PermEntityRefresh Permission = "entity:refresh"
	PermEntityManage  Permission = "entity:manage"
	PermDeviceDelete  Permission = "device:delete"
	PermEventsStream  Permission = "events:stream"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermEntityRead,
		PermEventsStream,
	},
	RoleAdmin: {
		PermEntityRead,
		PermEventsStream,
		PermEntityRefresh,
		PermEntityManage,
		PermDeviceDelete,
	},
}

// HasPermission checks whether a role has a specific permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions of role, or nil
// for an unknown role.
func PermissionsForRole(role Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
