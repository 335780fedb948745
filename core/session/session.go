// Package session implements the role-based session and access-control gate:
// it derives a (user, role, tenant scope) tuple from an identity-provider
// session, keeps it synchronized with the provider's session lifecycle, and
// drives role-based navigation and route guarding.
package session

import "github.com/trezcool/shule/core"

// State is the gate's lifecycle state.
// uninitialized -> loading -> {unauthenticated | authenticated}
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Metadata is the per-user data attached to an identity at account-creation
// time. Role and scope are claims read back during resolution; they are only
// writable through privileged flows.
type Metadata struct {
	Role         string   `json:"role"`
	TenantID     string   `json:"tenant_id,omitempty"`
	DependentIDs []string `json:"dependent_ids,omitempty"`
}

// Session is the derived, in-memory (user, role, tenant scope) projection.
// It is always replaced wholesale; no field is mutated in place from outside
// the gate. The zero value is the empty (no user) session.
type Session struct {
	UserID       string   `json:"user_id"`
	Email        string   `json:"email"`
	Role         Role     `json:"role"`
	TenantID     string   `json:"tenant_id,omitempty"`
	DependentIDs []string `json:"dependent_ids,omitempty"`
}

// Authenticated reports whether a user is present, regardless of whether
// their role resolved to a recognized value.
func (s Session) Authenticated() bool { return s.UserID != "" }

// HasRole reports whether the session's role is one of the allowed ones.
// An empty allow-list allows any recognized role.
func (s Session) HasRole(allowed ...Role) bool {
	if !s.Role.Recognized() {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if s.Role == r {
			return true
		}
	}
	return false
}

// RequireTenant returns the session's tenant id, or a scope error when the
// resolved role needs one and the metadata did not carry it. Resolution
// itself never rejects partial metadata (it can occur transiently right
// after account creation); the scope check happens here, at point of use.
func (s Session) RequireTenant() (string, error) {
	if s.TenantID == "" {
		return "", core.NewValidationError(ErrMissingTenantScope)
	}
	return s.TenantID, nil
}

// Dependents returns the student ids a guardian may view; empty (not an
// error) for guardians with no linked students and for every other role.
func (s Session) Dependents() []string {
	if s.Role != RoleGuardian {
		return nil
	}
	return s.DependentIDs
}

// Resolve deterministically computes the session projection for an identity
// from its metadata. Pure: no inference, no default role; an unknown or
// missing role value resolves to RoleUnrecognized (fail-closed).
func Resolve(userID, email string, md Metadata) Session {
	return Session{
		UserID:       userID,
		Email:        email,
		Role:         ParseRole(md.Role),
		TenantID:     md.TenantID,
		DependentIDs: md.DependentIDs,
	}
}
