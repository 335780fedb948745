package session

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// Gate is the session state container: the only writer of the Session
// projection, with arbitrarily many readers. It owns the subscription to the
// identity provider's session-change notifications and applies them in
// provider order; a slower-resolving earlier event never clobbers a faster
// later one (last-writer-by-event-order, enforced with the event's sequence
// token, not wall-clock time).
type Gate struct {
	provider IdentityProvider
	students StudentDirectory
	logger   core.Logger

	initOnce sync.Once
	unsub    func()

	mu        sync.Mutex
	state     State
	current   Session
	latestSeq uint64

	nextSubID int
	subs      map[int]func(State, Session)
}

func NewGate(provider IdentityProvider, students StudentDirectory, logger core.Logger) *Gate {
	return &Gate{
		provider: provider,
		students: students,
		logger:   logger,
		state:    StateUninitialized,
		subs:     make(map[int]func(State, Session)),
	}
}

// Current returns the gate's state and a copy of the current Session.
func (g *Gate) Current() (State, Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, copySession(g.current)
}

// Subscribe registers fn to be called on every Session replacement and
// returns an unsubscribe handle. Propagation is push-based; there is no
// polling.
func (g *Gate) Subscribe(fn func(State, Session)) (unsubscribe func()) {
	g.mu.Lock()
	id := g.nextSubID
	g.nextSubID++
	g.subs[id] = fn
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}
}

// Initialize performs the one-time startup session check: it establishes the
// change subscription, reads any existing provider session and resolves it.
// While it is outstanding, consumers observe StateLoading (not "no user") so
// route guards do not prematurely redirect. Subsequent calls are no-ops.
func (g *Gate) Initialize(ctx context.Context) error {
	var err error
	g.initOnce.Do(func() { err = g.initialize(ctx) })
	return err
}

func (g *Gate) initialize(ctx context.Context) error {
	g.setLoading()

	// subscription outlives initialization; torn down via Close
	g.unsub = g.provider.SubscribeToSessionChanges(g.onSessionChanged)

	ps, err := g.provider.CurrentSession(ctx)
	if err != nil {
		g.apply(g.seq(), Session{})
		return errors.Wrapf(ErrProviderUnavailable, "reading current session: %v", err)
	}
	if ps == nil {
		g.apply(g.seq(), Session{})
		return nil
	}

	md, err := g.provider.CurrentUserMetadata(ctx)
	if err != nil {
		g.apply(g.seq(), Session{})
		return errors.Wrapf(ErrProviderUnavailable, "resolving session metadata: %v", err)
	}
	g.apply(g.seq(), Resolve(ps.UserID, ps.Email, md))
	return nil
}

// Close tears down the provider subscription. The gate otherwise runs for
// the life of the process.
func (g *Gate) Close() {
	if g.unsub != nil {
		g.unsub()
	}
}

// Login forwards credentials to the identity provider. On success the
// provider's own change notification updates the Session (login never sets
// it independently); the returned path is the role-based post-login
// redirect, honoring the deep-linked next path when the role may access it.
// On failure the Session is left unchanged.
func (g *Gate) Login(ctx context.Context, email, password, next string) (redirect string, err error) {
	email = core.CleanString(email, true /* lower */)

	if err = g.provider.SignInWithPassword(ctx, email, password); err != nil {
		if errors.Cause(err) == ErrAuthenticationFailed {
			return "", ErrAuthenticationFailed
		}
		return "", errors.Wrapf(ErrProviderUnavailable, "signing in: %v", err)
	}

	// the change event is already in flight; compute the redirect from a
	// direct metadata read instead of racing the gate's own resolution.
	md, err := g.provider.CurrentUserMetadata(ctx)
	if err != nil {
		return "", errors.Wrapf(ErrProviderUnavailable, "resolving session metadata: %v", err)
	}
	return RedirectAfterLogin(ParseRole(md.Role), next), nil
}

// Logout requests session termination from the provider. Best-effort:
// provider errors are logged, not escalated, and the empty Session is
// applied either way since the user-facing effect must happen regardless.
func (g *Gate) Logout(ctx context.Context) {
	if err := g.provider.SignOut(ctx); err != nil {
		g.logger.Error("signing out", errors.Wrap(err, "signing out"))
	}

	g.mu.Lock()
	g.latestSeq++
	seq := g.latestSeq
	g.mu.Unlock()
	g.apply(seq, Session{})
}

// Registration is the guardian self-registration input.
type Registration struct {
	Name               string `json:"name" validate:"required"`
	Email              string `json:"email" validate:"required,email"`
	RegistrationNumber string `json:"registration_number" validate:"required"`
	Password           string `json:"password" validate:"required"`
	PasswordConfirm    string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (r *Registration) Validate(validate *validator.Validate) error {
	r.Name = core.CleanString(r.Name)
	r.Email = core.CleanString(r.Email, true /* lower */)
	r.RegistrationNumber = core.CleanString(r.RegistrationNumber, true /* lower */)
	return validate.Struct(r)
}

// GuardianMetadata resolves a registration number through dir and derives the
// metadata a new guardian account must carry: the guardian role, the student's
// school as tenant scope, and the student as sole dependent. An unknown number
// comes back as a field-level validation error on registration_number.
func GuardianMetadata(ctx context.Context, dir StudentDirectory, number string) (Metadata, error) {
	rec, err := dir.FindByRegistrationNumber(ctx, number)
	if err != nil {
		if errors.Cause(err) == ErrRegistrationNotFound {
			return Metadata{}, core.NewValidationError(
				ErrRegistrationNotFound,
				core.FieldError{Field: "registration_number", Error: ErrRegistrationNotFound.Error()},
			)
		}
		return Metadata{}, errors.Wrap(err, "looking up registration number")
	}

	return Metadata{
		Role:         string(RoleGuardian),
		TenantID:     rec.TenantID,
		DependentIDs: []string{rec.ID},
	}, nil
}

// Signup creates a guardian account. The supplied registration number is
// validated against the tenant data store first; role and scope are embedded
// as metadata at creation time and never escalated through this path.
func (g *Gate) Signup(ctx context.Context, reg Registration) error {
	md, err := GuardianMetadata(ctx, g.students, reg.RegistrationNumber)
	if err != nil {
		return err
	}

	if err = g.provider.SignUp(ctx, reg.Email, reg.Password, md); err != nil {
		if verr, ok := errors.Cause(err).(*core.ValidationError); ok {
			return verr
		}
		return errors.Wrapf(ErrProviderUnavailable, "signing up: %v", err)
	}
	return nil
}

// onSessionChanged records the event's sequence token in delivery order,
// then resolves off the delivery goroutine; apply discards resolutions
// whose token is no longer the latest issued.
func (g *Gate) onSessionChanged(evt ChangeEvent) {
	g.mu.Lock()
	if evt.Seq > g.latestSeq {
		g.latestSeq = evt.Seq
	}
	g.mu.Unlock()

	if evt.Session == nil {
		g.apply(evt.Seq, Session{})
		return
	}

	ps := *evt.Session
	go func() {
		md, err := g.provider.CurrentUserMetadata(context.Background())
		if err != nil {
			// session stays at its last known value on transport errors
			g.logger.Error("resolving session metadata", errors.Wrap(err, "resolving session metadata"))
			return
		}
		g.apply(evt.Seq, Resolve(ps.UserID, ps.Email, md))
	}()
}

func (g *Gate) seq() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latestSeq
}

func (g *Gate) setLoading() {
	g.mu.Lock()
	g.state = StateLoading
	st, sess, subs := g.state, copySession(g.current), g.snapshotSubs()
	g.mu.Unlock()
	for _, fn := range subs {
		fn(st, sess)
	}
}

// apply replaces the Session wholesale iff seq is still the latest issued
// token, and notifies subscribers.
func (g *Gate) apply(seq uint64, next Session) {
	g.mu.Lock()
	if seq != g.latestSeq {
		g.mu.Unlock()
		return // superseded; discard
	}
	g.current = next
	if next.Authenticated() {
		g.state = StateAuthenticated
	} else {
		g.state = StateUnauthenticated
	}
	st, sess, subs := g.state, copySession(g.current), g.snapshotSubs()
	g.mu.Unlock()

	for _, fn := range subs {
		fn(st, sess)
	}
}

func (g *Gate) snapshotSubs() []func(State, Session) {
	subs := make([]func(State, Session), 0, len(g.subs))
	for _, fn := range g.subs {
		subs = append(subs, fn)
	}
	return subs
}

func copySession(s Session) Session {
	if s.DependentIDs != nil {
		deps := make([]string, len(s.DependentIDs))
		copy(deps, s.DependentIDs)
		s.DependentIDs = deps
	}
	return s
}
