package session

// Role is the closed set of roles a user can hold. Anything outside this
// set parses to RoleUnrecognized and is denied access everywhere.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleTenantAdmin   Role = "tenant_admin"
	RoleTeacher       Role = "teacher"
	RoleGuardian      Role = "guardian"

	// RoleUnrecognized is the fail-closed fallback for a missing or unknown
	// role value; the route guard treats it like "unauthenticated".
	RoleUnrecognized Role = ""
)

var AllRoles = []Role{RolePlatformAdmin, RoleTenantAdmin, RoleTeacher, RoleGuardian}

// ParseRole maps a raw metadata value to a Role. Total: unknown values
// (including empty) yield RoleUnrecognized, never an error.
func ParseRole(s string) Role {
	switch Role(s) {
	case RolePlatformAdmin:
		return RolePlatformAdmin
	case RoleTenantAdmin:
		return RoleTenantAdmin
	case RoleTeacher:
		return RoleTeacher
	case RoleGuardian:
		return RoleGuardian
	}
	return RoleUnrecognized
}

func (r Role) Recognized() bool {
	return r == RolePlatformAdmin || r == RoleTenantAdmin || r == RoleTeacher || r == RoleGuardian
}

// RequiresTenant reports whether sessions with this role must carry a tenant id.
// Platform admins are tenant-less; everyone else is scoped to one school.
func (r Role) RequiresTenant() bool {
	switch r {
	case RoleTenantAdmin, RoleTeacher, RoleGuardian:
		return true
	}
	return false
}
