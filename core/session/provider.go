package session

import "context"

type (
	// ProviderSession is the opaque session handle issued by the identity
	// provider. Present or absent as a whole; never partially valid. Role
	// and scope are not part of the handle; they are read back from the
	// provider's metadata during resolution.
	ProviderSession struct {
		UserID string
		Email  string
		Token  string
	}

	// ChangeEvent reports one session transition (login, logout, token
	// refresh). Seq is assigned by the provider and increases monotonically
	// in transition order; a nil Session means the session ended.
	ChangeEvent struct {
		Seq     uint64
		Session *ProviderSession
	}

	// IdentityProvider is the consumed identity boundary: credential
	// verification, session issuance/refresh, per-user metadata and
	// push notifications for session transitions.
	IdentityProvider interface {
		// CurrentSession is a point-in-time read; nil when no session exists.
		CurrentSession(ctx context.Context) (*ProviderSession, error)
		// SubscribeToSessionChanges registers a callback for session
		// transitions and returns an unsubscribe handle. Events are
		// delivered in transition order.
		SubscribeToSessionChanges(fn func(ChangeEvent)) (unsubscribe func())
		SignInWithPassword(ctx context.Context, email, password string) error
		SignUp(ctx context.Context, email, password string, md Metadata) error
		SignOut(ctx context.Context) error
		CurrentUserMetadata(ctx context.Context) (Metadata, error)
		UpdateCurrentUserMetadata(ctx context.Context, md Metadata) error
	}

	// StudentRecord is the result of the signup-time registration lookup.
	StudentRecord struct {
		ID       string
		TenantID string
	}

	// StudentDirectory is the single point lookup the guardian signup flow
	// performs against the tenant data store.
	StudentDirectory interface {
		// FindByRegistrationNumber returns ErrRegistrationNotFound
		// (possibly wrapped) when no student matches.
		FindByRegistrationNumber(ctx context.Context, number string) (StudentRecord, error)
	}
)
