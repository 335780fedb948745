package session

import "strings"

// Well-known navigation paths.
const (
	LoginPath          = "/login"
	DefaultLandingPath = "/"

	PlatformDashboardPath = "/platform/dashboard"
	SchoolDashboardPath   = "/school/dashboard"
	TeacherDashboardPath  = "/teacher/dashboard"
	ParentDashboardPath   = "/parent/dashboard"
)

// role-partitioned sections; paths outside these prefixes are shared by all
// authenticated users.
var sections = []struct {
	prefix string
	role   Role
}{
	{"/platform", RolePlatformAdmin},
	{"/school", RoleTenantAdmin},
	{"/teacher", RoleTeacher},
	{"/parent", RoleGuardian},
}

var landingPaths = map[Role]string{
	RolePlatformAdmin: PlatformDashboardPath,
	RoleTenantAdmin:   SchoolDashboardPath,
	RoleTeacher:       TeacherDashboardPath,
	RoleGuardian:      ParentDashboardPath,
}

// LandingPath maps a role to its fixed post-login landing path. Total: any
// other/absent role maps to the generic landing page.
func LandingPath(role Role) string {
	if p, ok := landingPaths[role]; ok {
		return p
	}
	return DefaultLandingPath
}

// SectionRole returns the role a path's section is partitioned to, and
// whether the path belongs to a role-partitioned section at all.
func SectionRole(path string) (Role, bool) {
	for _, s := range sections {
		if path == s.prefix || strings.HasPrefix(path, s.prefix+"/") {
			return s.role, true
		}
	}
	return RoleUnrecognized, false
}

// Allows reports whether a role may access a path: its own section, or any
// shared (un-partitioned) path. Unrecognized roles are allowed nowhere.
func Allows(role Role, path string) bool {
	if !role.Recognized() {
		return false
	}
	sectionRole, partitioned := SectionRole(path)
	if !partitioned {
		return true
	}
	return role == sectionRole
}

// RedirectAfterLogin picks the post-login path: the preserved deep link iff
// it is a well-formed local path the resolved role may access, else the
// role's landing path.
func RedirectAfterLogin(role Role, next string) string {
	if validNextPath(next) && Allows(role, next) {
		return next
	}
	return LandingPath(role)
}

// validNextPath rejects empty, non-local and scheme-relative targets so a
// crafted next parameter cannot redirect off-site.
func validNextPath(next string) bool {
	return strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//")
}

// Decision is a route-guard outcome.
type Decision int

const (
	// DecisionWait renders a neutral waiting indicator; no redirect decision
	// is made while the initial session check is outstanding.
	DecisionWait Decision = iota
	// DecisionRender renders the requested section unchanged.
	DecisionRender
	// DecisionLoginRedirect redirects to the unauthenticated entry point,
	// carrying the originally requested location.
	DecisionLoginRedirect
	// DecisionDefaultRedirect redirects a wrong-role user to the default
	// safe location; never to the requested section, never to an error page
	// that leaks section existence.
	DecisionDefaultRedirect
)

func (d Decision) String() string {
	switch d {
	case DecisionWait:
		return "wait"
	case DecisionRender:
		return "render"
	case DecisionLoginRedirect:
		return "redirect-to-login"
	case DecisionDefaultRedirect:
		return "redirect-to-default"
	}
	return "unknown"
}

// GuardResult is the route guard's full answer: the decision plus, for
// redirects, the target location and preserved deep link.
type GuardResult struct {
	Decision Decision
	Location string
	Next     string
}

// Evaluate gates access to a role-partitioned section. Pure in its inputs:
// repeated evaluation of the same (state, session, allowed, path) always
// yields the same result. Fail-closed: an unrecognized role is treated
// exactly like "no role".
func Evaluate(state State, sess Session, allowed []Role, requestedPath string) GuardResult {
	switch state {
	case StateUninitialized, StateLoading:
		return GuardResult{Decision: DecisionWait}
	}

	if !sess.Authenticated() || !sess.Role.Recognized() {
		return GuardResult{Decision: DecisionLoginRedirect, Location: LoginPath, Next: requestedPath}
	}

	if !sess.HasRole(allowed...) {
		return GuardResult{Decision: DecisionDefaultRedirect, Location: DefaultLandingPath}
	}

	return GuardResult{Decision: DecisionRender}
}
