package echoapi

import (
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/shule/core/session"
)

// sectionGate guards a role-partitioned section. A missing or unrecognized
// role gets the login redirect with the requested location preserved; a
// recognized but wrong role gets sent to the default landing path, never to
// an error page that leaks the section's existence.
func sectionGate(allowed ...session.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			path := strings.TrimPrefix(ctx.Request().URL.Path, "/v1")
			state, sess := contextSession(ctx)

			res := session.Evaluate(state, sess, allowed, path)
			switch res.Decision {
			case session.DecisionRender:
				return next(ctx)
			case session.DecisionLoginRedirect:
				loc := res.Location
				if res.Next != "" {
					loc += "?next=" + url.QueryEscape(res.Next)
				}
				ctx.Response().Header().Set(echo.HeaderLocation, loc)
				return errUnauthorized
			case session.DecisionDefaultRedirect:
				ctx.Response().Header().Set(echo.HeaderLocation, res.Location)
				return errHTTPForbidden
			}
			return errHTTPForbidden
		}
	}
}

// requireRoles rejects authenticated users whose resolved role is not in the
// allowed set. Fail-closed on unrecognized roles.
func requireRoles(roles ...session.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			_, sess := contextSession(ctx)
			if !sess.Authenticated() {
				return errUnauthorized
			}
			if !sess.HasRole(roles...) {
				return errHTTPForbidden
			}
			return next(ctx)
		}
	}
}
