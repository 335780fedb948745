package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"testing"
	"time"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	identitysvc "github.com/trezcool/shule/services/identity"
	testutil "github.com/trezcool/shule/tests"
)

func Test_authApi_login(t *testing.T) {
	resetDB(t)

	sch := testutil.CreateSchool(t, schoolRepo, "Kivu High", "12 Lake Rd, Goma")
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "LolC@t123", string(session.RolePlatformAdmin), "", nil, true)
	guardian := testutil.CreateUser(t, usrRepo, "Guardian", "parent@test.cd", "LolC@t123", string(session.RoleGuardian), sch.ID, nil, true)
	naughty := testutil.CreateUser(t, usrRepo, "N Dog", "ndog@test.cd", "LolC@t123", string(session.RoleGuardian), sch.ID, nil, false) // 😂

	login := func(email, pwd, next string) []byte {
		return marchallObj(t, echoapi.LoginRequest{Email: email, Password: pwd, Next: next})
	}
	reqMsg := "this field is required"

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": reqMsg, "password": reqMsg}),
		},
		{
			name: "invalid email", wantCode: http.StatusBadRequest, body: login("lol", "LolC@t123", ""),
			wantData: marchallObj(t, map[string]string{"email": "email must be a valid email address"}),
		},
		{
			name: "unknown email", wantCode: http.StatusBadRequest, body: login("lol@test.cd", "LolC@t123", ""),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest, body: login(admin.Email, "lol", ""),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated account", wantCode: http.StatusForbidden, body: login(naughty.Email, "LolC@t123", ""),
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "platform admin lands on platform dashboard", wantCode: http.StatusOK, body: login(admin.Email, "LolC@t123", ""), extra: session.PlatformDashboardPath},
		{name: "guardian lands on parent dashboard", wantCode: http.StatusOK, body: login(guardian.Email, "LolC@t123", ""), extra: session.ParentDashboardPath},
		{
			name: "deep link preserved when in reach", wantCode: http.StatusOK,
			body: login(guardian.Email, "LolC@t123", "/parent/dashboard?tab=attendance"), extra: "/parent/dashboard?tab=attendance",
		},
		{
			name: "deep link to another role's section is dropped", wantCode: http.StatusOK,
			body: login(guardian.Email, "LolC@t123", session.PlatformDashboardPath), extra: session.ParentDashboardPath,
		},
		{
			name: "off-site deep link is dropped", wantCode: http.StatusOK,
			body: login(guardian.Email, "LolC@t123", "https://evil.example.com/"), extra: session.ParentDashboardPath,
		},
		{
			name: "scheme-relative deep link is dropped", wantCode: http.StatusOK,
			body: login(guardian.Email, "LolC@t123", "//evil.example.com/"), extra: session.ParentDashboardPath,
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/auth/login"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			// cannot guess the token; check it separately on success
			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				if wantRedirect := tt.extra.(string); respData.Redirect != wantRedirect {
					t.Errorf("failed! redirect = %v; want %v", respData.Redirect, wantRedirect)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_authApi_signup(t *testing.T) {
	resetDB(t)

	sch := testutil.CreateSchool(t, schoolRepo, "Kivu High", "12 Lake Rd, Goma")
	std := testutil.CreateStudent(t, schoolRepo, sch.ID, "", "Junior Tre", "kvu-2026-0042")
	testutil.CreateUser(t, usrRepo, "Taken", "taken@test.cd", "LolC@t123", string(session.RoleGuardian), sch.ID, nil, true)

	signup := func(name, email, regNum string) []byte {
		return marchallObj(t, session.Registration{
			Name:               name,
			Email:              email,
			RegistrationNumber: regNum,
			Password:           "LolC@t123",
			PasswordConfirm:    "LolC@t123",
		})
	}
	reqMsg := "this field is required"

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"name":                reqMsg,
				"email":               reqMsg,
				"registration_number": reqMsg,
				"password":            reqMsg,
				"password_confirm":    reqMsg,
			}),
		},
		{
			name: "unknown registration number", wantCode: http.StatusBadRequest,
			body:     signup("Papa Tre", "papa@test.cd", "kvu-0000-9999"),
			wantData: marchallObj(t, map[string]string{"registration_number": "no student found with this registration number"}),
		},
		{
			name: "email already taken", wantCode: http.StatusBadRequest,
			body:     signup("Papa Tre", "taken@test.cd", "kvu-2026-0042"),
			wantData: marchallObj(t, map[string]string{"email": "a user with this email already exists"}),
		},
		{name: "account created", wantCode: http.StatusCreated, body: signup("Papa Tre", "papa@test.cd", "kvu-2026-0042")},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/auth/signup"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				if respData.Redirect != session.ParentDashboardPath {
					t.Errorf("failed! redirect = %v; want %v", respData.Redirect, session.ParentDashboardPath)
				}

				// the account carries the guardian role, the student's school
				// and the student link; none of these come from the payload
				usr, err := usrRepo.GetUserByEmail(context.Background(), "papa@test.cd")
				if err != nil {
					t.Fatalf("GetUserByEmail(): %v", err)
				}
				if usr.Role != string(session.RoleGuardian) {
					t.Errorf("failed! role = %v; want %v", usr.Role, session.RoleGuardian)
				}
				if usr.TenantID != sch.ID {
					t.Errorf("failed! tenantID = %v; want %v", usr.TenantID, sch.ID)
				}
				if len(usr.DependentIDs) != 1 || usr.DependentIDs[0] != std.ID {
					t.Errorf("failed! dependentIDs = %v; want [%v]", usr.DependentIDs, std.ID)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_authApi_resetPassword(t *testing.T) {
	resetDB(t)

	usr := testutil.CreateUser(t, usrRepo, "Hero", "hero@test.cd", "LolC@t123", string(session.RolePlatformAdmin), "", nil, true)
	successData := marchallObj(t, echoapi.SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})

	pathRegex := regexp.MustCompile("/password-reset/.+/.+")

	type extraTest struct {
		emailSent bool
		to        mail.Address
	}
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": "this field is required"}),
		},
		{
			name: "invalid email", wantCode: http.StatusBadRequest, body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol"}),
			wantData: marchallObj(t, map[string]string{"email": "email must be a valid email address"}),
		},
		{
			name: "unknown email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol@test.com"}),
			wantData: successData, extra: extraTest{emailSent: false},
		},
		{
			name: "known email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.PasswordResetRequest{Email: usr.Email}),
			wantData: successData, extra: extraTest{emailSent: true, to: mail.Address{Name: usr.Name, Address: usr.Email}},
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/auth/password-reset"

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ClearSentMessages()

			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if extra, ok := tt.extra.(extraTest); ok {
				if extra.emailSent {
					if len(emailsvc.SentMessages) != 1 {
						t.Fatalf("failed! len(SentMessages) = %d; want 1", len(emailsvc.SentMessages))
					}
					msg := emailsvc.SentMessages[0]
					if msg.To[0] != extra.to {
						t.Errorf("failed! To = %v; want %v", msg.To[0], extra.to)
					}
					if !strings.Contains(msg.TextContent, extra.to.Name) {
						t.Errorf("failed! text content does not contain recipient's name %q", extra.to.Name)
					}
					if !pathRegex.MatchString(msg.TextContent) {
						t.Errorf("failed! text content does not match pathRegex %v", pathRegex)
					}
					if !pathRegex.MatchString(msg.HTMLContent) {
						t.Errorf("failed! HTML content does not match pathRegex %v", pathRegex)
					}
				} else {
					if len(emailsvc.SentMessages) > 0 {
						t.Errorf("failed! len(SentMessages) = %d; want 0", len(emailsvc.SentMessages))
					}
				}
			}
		})
	}
}

func Test_authApi_confirmPasswordReset(t *testing.T) {
	resetDB(t)

	usr := testutil.CreateUser(t, usrRepo, "Hero", "hero@test.cd", "OldC@t123", string(session.RolePlatformAdmin), "", nil, true)

	// request a reset and fish the (uid, token) pair out of the email
	req, rec := newRequest(http.MethodPost, "/v1/auth/password-reset", marchallObj(t, echoapi.PasswordResetRequest{Email: usr.Email}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("password-reset failed! code = %v; body %s", rec.Code, rec.Body.String())
	}
	if len(emailsvc.SentMessages) != 1 {
		t.Fatalf("failed! len(SentMessages) = %d; want 1", len(emailsvc.SentMessages))
	}
	linkRegex := regexp.MustCompile(`/password-reset/([^/\s]+)/([^/\s]+)`)
	m := linkRegex.FindStringSubmatch(emailsvc.SentMessages[0].TextContent)
	if m == nil {
		t.Fatalf("failed! no reset link in %q", emailsvc.SentMessages[0].TextContent)
	}
	validUID, validToken := m[1], m[2]

	confirm := func(uid, token, pwd string) []byte {
		return marchallObj(t, user.ResetUserPassword{UID: uid, Token: token, Password: pwd, PasswordConfirm: pwd})
	}

	tests := []httpTest{
		{
			name: "PasswordConfirm must = Password", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.ResetUserPassword{UID: validUID, Token: validToken, Password: "LolC@t123", PasswordConfirm: "lol"}),
			wantData: marchallObj(t, map[string]string{"password_confirm": "password_confirm must be equal to Password"}),
		},
		{
			name: "invalid uid", wantCode: http.StatusBadRequest, body: confirm("@@@", validToken, "LolC@t123"),
			wantData: marchallObj(t, httpErr{Error: "invalid token"}),
		},
		{
			name: "unknown user", wantCode: http.StatusBadRequest, body: confirm("OTk5", validToken, "LolC@t123"),
			wantData: marchallObj(t, httpErr{Error: "invalid token"}),
		},
		{
			name: "invalid token", wantCode: http.StatusBadRequest, body: confirm(validUID, "HE4TS-sigsigsig", "LolC@t123"),
			wantData: marchallObj(t, httpErr{Error: "invalid token"}),
		},
		{
			name: "valid token", wantCode: http.StatusOK, body: confirm(validUID, validToken, "LolC@t123"),
			wantData: marchallObj(t, echoapi.SuccessResponse{Success: "Password has been reset with the new password."}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/auth/password-reset-confirm"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				refreshed, err := usrRepo.GetUserByID(context.Background(), usr.ID)
				if err != nil {
					t.Fatalf("GetUserByID(): %v", err)
				}
				if err = refreshed.CheckPassword("LolC@t123"); err != nil {
					t.Error("failed to set the new password")
				}
			}
		})
	}
}

func Test_authApi_refreshToken(t *testing.T) {
	resetDB(t)

	usr := testutil.CreateUser(t, usrRepo, "Hero", "hero@test.cd", "LolC@t123", string(session.RolePlatformAdmin), "", nil, true)
	naughty := testutil.CreateUser(t, usrRepo, "N Dog", "ndog@test.cd", "LolC@t123", string(session.RoleGuardian), "", nil, false) // 😂

	// a token past its refresh window
	staleIat := time.Now().Add(-2 * conf.Server.JWTRefreshExpirationDelta).Unix()
	unrefreshableToken, err := identitysvc.GenerateToken(conf, identitysvc.NewUserClaims(conf, usr, staleIat))
	if err != nil {
		t.Fatalf("GenerateToken(): %v", err)
	}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Inactive user not allowed", token: getToken(t, naughty), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Token refreshed", token: getToken(t, usr), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/auth/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			// cannot guess new token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}
