package echoapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/user"
	identitysvc "github.com/trezcool/shule/services/identity"
)

const (
	contextClaimsKey = "userClaims"
	contextUserKey   = "user"
)

// jwtMiddleware rejects requests without a valid Bearer token and stores the
// verified claims on the context.
func jwtMiddleware(conf *core.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := extractClaims(ctx, conf)
			if err != nil {
				return err
			}
			ctx.Set(contextClaimsKey, claims)
			return next(ctx)
		}
	}
}

// jwtOptionalMiddleware stores claims when a valid token is present but lets
// unauthenticated requests through; the route guard decides what they see.
func jwtOptionalMiddleware(conf *core.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if claims, err := extractClaims(ctx, conf); err == nil {
				ctx.Set(contextClaimsKey, claims)
			}
			return next(ctx)
		}
	}
}

func extractClaims(ctx echo.Context, conf *core.Config) (*identitysvc.Claims, error) {
	auth := ctx.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil, errMissingToken
	}
	claims, err := identitysvc.ParseToken(conf, strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		return nil, errMissingToken
	}
	return claims, nil
}

func getContextClaims(ctx echo.Context) (identitysvc.Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(*identitysvc.Claims); ok {
		return *claims, nil
	}
	return identitysvc.Claims{}, errUnauthorized
}

// contextSession derives the guard inputs from the request: state is known
// either way once the middleware ran, so Wait never applies server-side.
func contextSession(ctx echo.Context) (session.State, session.Session) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return session.StateUnauthenticated, session.Session{}
	}
	return session.StateAuthenticated, session.Resolve(claims.Subject, claims.Email, claims.Metadata())
}

func getContextUser(ctx echo.Context, svc user.ServiceInterface, clms ...identitysvc.Claims) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}

	var claims identitysvc.Claims
	var err error
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		claims, err = getContextClaims(ctx)
		if err != nil {
			return user.User{}, errors.Wrap(err, "getting context claims")
		}
	}

	usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}

func authenticate(ctx echo.Context, email, pwd string, conf *core.Config, svc user.ServiceInterface) (*identitysvc.Claims, error) {
	usr, err := svc.GetByEmail(ctx.Request().Context(), email)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return nil, errAuthenticationFailed
		}
		return nil, errors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return nil, errAuthenticationFailed
	}
	if !usr.Active() {
		return nil, errAccountDeactivated
	}
	usr, err = svc.SetLastLogin(ctx.Request().Context(), usr)
	if err != nil {
		return nil, errors.Wrap(err, "setting lastLogin")
	}
	return identitysvc.NewUserClaims(conf, usr), nil
}

func refreshToken(ctx echo.Context, conf *core.Config, svc user.ServiceInterface) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	usr, err := getContextUser(ctx, svc, claims)
	if err != nil {
		return "", errors.Wrap(err, "getting context user")
	}

	// check if user is still active
	if !usr.Active() {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	newClaims := identitysvc.NewUserClaims(conf, usr, claims.OrigIssuedAt)
	token, err := identitysvc.GenerateToken(conf, newClaims)
	return token, errors.Wrap(err, "generating token")
}

var errMissingToken = echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed jwt")
