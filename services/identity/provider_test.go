package identitysvc_test

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	identitysvc "github.com/trezcool/shule/services/identity"
	logsvc "github.com/trezcool/shule/services/logger"
	inmemdb "github.com/trezcool/shule/storage/database/inmem"
	testutil "github.com/trezcool/shule/tests"
)

func setup(t *testing.T) (*identitysvc.Provider, user.Repository) {
	t.Helper()

	conf := testutil.NewConfig()
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open(): %v", err)
	}
	usrRepo := inmemdb.NewUserRepository(db)

	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "TEST : ", log.LstdFlags), conf)
	logger.Enable(false)
	usrSvc := user.NewService(conf, usrRepo, emailsvc.NewConsoleServiceMock(conf), logger)

	return identitysvc.NewProvider(conf, usrSvc, logger), usrRepo
}

func TestProvider_signInEventOrdering(t *testing.T) {
	provider, usrRepo := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, usrRepo, "Guardian", "parent@test.cd", "LolC@t123", string(session.RoleGuardian), "sch-1", nil, true)

	var events []session.ChangeEvent
	unsubscribe := provider.SubscribeToSessionChanges(func(evt session.ChangeEvent) {
		events = append(events, evt)
	})

	// failed attempts do not touch the session
	if err := provider.SignInWithPassword(ctx, usr.Email, "wrong"); err != session.ErrAuthenticationFailed {
		t.Fatalf("SignInWithPassword() error = %v; want %v", err, session.ErrAuthenticationFailed)
	}
	if err := provider.SignInWithPassword(ctx, "ghost@test.cd", "LolC@t123"); err != session.ErrAuthenticationFailed {
		t.Fatalf("SignInWithPassword() error = %v; want %v", err, session.ErrAuthenticationFailed)
	}
	if len(events) != 0 {
		t.Fatalf("failed! %d events delivered for failed sign-ins", len(events))
	}

	if err := provider.SignInWithPassword(ctx, usr.Email, "LolC@t123"); err != nil {
		t.Fatalf("SignInWithPassword(): %v", err)
	}
	if err := provider.SignOut(ctx); err != nil {
		t.Fatalf("SignOut(): %v", err)
	}
	if err := provider.SignInWithPassword(ctx, usr.Email, "LolC@t123"); err != nil {
		t.Fatalf("SignInWithPassword(): %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("failed! len(events) = %d; want 3", len(events))
	}
	// strictly increasing sequence, in delivery order
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Errorf("failed! seq %d after %d", events[i].Seq, events[i-1].Seq)
		}
	}
	if events[0].Session == nil || events[0].Session.UserID != usr.ID {
		t.Errorf("failed! first event session = %+v", events[0].Session)
	}
	if events[1].Session != nil {
		t.Errorf("failed! sign-out event carries a session: %+v", events[1].Session)
	}
	if events[2].Session == nil {
		t.Error("failed! second sign-in event carries no session")
	}

	unsubscribe()
	if err := provider.SignOut(ctx); err != nil {
		t.Fatalf("SignOut(): %v", err)
	}
	if len(events) != 3 {
		t.Errorf("failed! event delivered after unsubscribe")
	}
}

func TestProvider_sessionTokenCarriesMetadata(t *testing.T) {
	provider, usrRepo := setup(t)
	ctx := context.Background()

	conf := testutil.NewConfig()
	usr := testutil.CreateUser(t, usrRepo, "Guardian", "parent@test.cd", "LolC@t123", string(session.RoleGuardian), "sch-1", []string{"std-1"}, true)

	if err := provider.SignInWithPassword(ctx, usr.Email, "LolC@t123"); err != nil {
		t.Fatalf("SignInWithPassword(): %v", err)
	}
	sess, err := provider.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession(): %v", err)
	}
	if sess == nil || sess.Token == "" {
		t.Fatalf("failed! session = %+v", sess)
	}

	claims, err := identitysvc.ParseToken(conf, sess.Token)
	if err != nil {
		t.Fatalf("ParseToken(): %v", err)
	}
	md := claims.Metadata()
	if md.Role != string(session.RoleGuardian) || md.TenantID != "sch-1" {
		t.Errorf("failed! metadata = %+v", md)
	}
	if len(md.DependentIDs) != 1 || md.DependentIDs[0] != "std-1" {
		t.Errorf("failed! dependentIDs = %v", md.DependentIDs)
	}
}

func TestProvider_currentUserMetadata(t *testing.T) {
	provider, usrRepo := setup(t)
	ctx := context.Background()

	if _, err := provider.CurrentUserMetadata(ctx); err != session.ErrAuthenticationFailed {
		t.Fatalf("CurrentUserMetadata() error = %v; want %v", err, session.ErrAuthenticationFailed)
	}
	if err := provider.UpdateCurrentUserMetadata(ctx, session.Metadata{}); err != session.ErrAuthenticationFailed {
		t.Fatalf("UpdateCurrentUserMetadata() error = %v; want %v", err, session.ErrAuthenticationFailed)
	}

	usr := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@test.cd", "LolC@t123", string(session.RoleTeacher), "sch-1", nil, true)
	if err := provider.SignInWithPassword(ctx, usr.Email, "LolC@t123"); err != nil {
		t.Fatalf("SignInWithPassword(): %v", err)
	}

	md, err := provider.CurrentUserMetadata(ctx)
	if err != nil {
		t.Fatalf("CurrentUserMetadata(): %v", err)
	}
	if md.Role != string(session.RoleTeacher) || md.TenantID != "sch-1" {
		t.Errorf("failed! metadata = %+v", md)
	}

	// metadata updates land on the stored account
	if err = provider.UpdateCurrentUserMetadata(ctx, session.Metadata{Role: string(session.RoleTenantAdmin), TenantID: "sch-1"}); err != nil {
		t.Fatalf("UpdateCurrentUserMetadata(): %v", err)
	}
	md, err = provider.CurrentUserMetadata(ctx)
	if err != nil {
		t.Fatalf("CurrentUserMetadata(): %v", err)
	}
	if md.Role != string(session.RoleTenantAdmin) {
		t.Errorf("failed! role = %v; want %v", md.Role, session.RoleTenantAdmin)
	}
}
