package identitysvc

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/user"
)

// Provider is the JWT-backed identity provider; it verifies credentials
// against the user service, issues signed session tokens and notifies
// subscribers of every session transition in order.
type Provider struct {
	conf   *core.Config
	usrSvc user.ServiceInterface
	logger core.Logger

	mu      sync.Mutex
	seq     uint64
	current *session.ProviderSession
	subs    map[int]func(session.ChangeEvent)
	nextSub int
}

var _ session.IdentityProvider = (*Provider)(nil) // interface compliance check

func NewProvider(conf *core.Config, usrSvc user.ServiceInterface, logger core.Logger) *Provider {
	return &Provider{
		conf:   conf,
		usrSvc: usrSvc,
		logger: logger,
		subs:   make(map[int]func(session.ChangeEvent)),
	}
}

func (p *Provider) CurrentSession(_ context.Context) (*session.ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, nil
	}
	sess := *p.current
	return &sess, nil
}

func (p *Provider) SubscribeToSessionChanges(fn func(session.ChangeEvent)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) error {
	usr, err := p.usrSvc.GetByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return session.ErrAuthenticationFailed
		}
		return errors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(password); err != nil {
		return session.ErrAuthenticationFailed
	}
	if !usr.Active() {
		return session.ErrAuthenticationFailed
	}

	usr, err = p.usrSvc.SetLastLogin(ctx, usr)
	if err != nil {
		return errors.Wrap(err, "setting lastLogin")
	}

	token, err := GenerateToken(p.conf, NewUserClaims(p.conf, usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	p.setSession(&session.ProviderSession{UserID: usr.ID, Email: usr.Email, Token: token})
	return nil
}

// SignUp creates the account with its identity metadata embedded, then opens
// a session for it.
func (p *Provider) SignUp(ctx context.Context, email, password string, md session.Metadata) error {
	name := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		name = email[:at]
	}

	usr, err := p.usrSvc.Create(ctx, user.NewUser{
		Name:            name,
		Email:           email,
		Role:            md.Role,
		TenantID:        md.TenantID,
		DependentIDs:    md.DependentIDs,
		Password:        password,
		PasswordConfirm: password,
	})
	if err != nil {
		if errors.Cause(err) == user.ErrEmailExists {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: user.ErrEmailExists.Error()})
		}
		return errors.Wrap(err, "creating account")
	}

	token, err := GenerateToken(p.conf, NewUserClaims(p.conf, usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	p.setSession(&session.ProviderSession{UserID: usr.ID, Email: usr.Email, Token: token})
	return nil
}

func (p *Provider) SignOut(_ context.Context) error {
	p.setSession(nil)
	return nil
}

func (p *Provider) CurrentUserMetadata(ctx context.Context) (session.Metadata, error) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if current == nil {
		return session.Metadata{}, session.ErrAuthenticationFailed
	}

	usr, err := p.usrSvc.GetByID(ctx, current.UserID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return session.Metadata{}, session.ErrAuthenticationFailed
		}
		return session.Metadata{}, errors.Wrap(err, "finding user by ID")
	}
	return usr.Metadata(), nil
}

func (p *Provider) UpdateCurrentUserMetadata(ctx context.Context, md session.Metadata) error {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if current == nil {
		return session.ErrAuthenticationFailed
	}

	_, err := p.usrSvc.Update(ctx, current.UserID, user.UpdateUser{
		Role:         md.Role,
		TenantID:     md.TenantID,
		DependentIDs: md.DependentIDs,
	})
	return errors.Wrap(err, "updating user metadata")
}

// setSession records the transition and notifies subscribers. Delivery
// happens under the lock so events reach every subscriber in seq order.
func (p *Provider) setSession(sess *session.ProviderSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	p.current = sess
	for _, fn := range p.subs {
		var evtSess *session.ProviderSession
		if sess != nil {
			cp := *sess
			evtSess = &cp
		}
		fn(session.ChangeEvent{Seq: p.seq, Session: evtSess})
	}
}
