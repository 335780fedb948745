package echoapi

import (
	"net/http"
	"sort"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/user"
)

var (
	errUsrNotFoundInCtx = errors.New("user object not found in echo.Context")
	errNoPermsForRole   = "not enough rights to assign this role"
	errTenantOutOfScope = "cannot manage accounts outside your school"
)

type userApi struct {
	svc        user.ServiceInterface
	validate   *validator.Validate
	translator ut.Translator
}

func registerUserAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := userApi{
		svc:        deps.UserSvc,
		validate:   deps.Validate,
		translator: deps.Translator,
	}

	adminOnly := requireRoles(session.RolePlatformAdmin, session.RoleTenantAdmin)

	ug := g.Group("/users", jwt)
	ug.POST("", api.create, adminOnly)
	ug.GET("", api.query, adminOnly)
	ug.DELETE("", api.destroyMultiple, adminOnly)
	ug.GET("/roles", api.queryRoles, adminOnly)

	// detail endpoints
	dg := ug.Group("/:id", ctxUserOrAdminMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, adminOnly)
	dg.DELETE("", api.destroy, adminOnly)
}

// Handlers

func (api *userApi) create(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(api.validate, api.svc); err != nil {
		return err
	}

	if err := api.checkRoleScope(ctx, data.Role, &data.TenantID); err != nil {
		return err
	}

	usr, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}

	return ctx.JSON(http.StatusCreated, usr)
}

// checkRoleScope enforces who may assign what: a tenant admin can only
// manage non-platform roles within their own school; the tenant id is forced
// to theirs regardless of the payload.
func (api *userApi) checkRoleScope(ctx echo.Context, role string, tenantID *string) error {
	_, sess := contextSession(ctx)
	if sess.Role == session.RolePlatformAdmin {
		return nil
	}

	if session.ParseRole(role) == session.RolePlatformAdmin {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: errNoPermsForRole})
	}
	scope, err := sess.RequireTenant()
	if err != nil {
		return err
	}
	if *tenantID != "" && *tenantID != scope {
		return core.NewValidationError(nil, core.FieldError{Field: "tenant_id", Error: errTenantOutOfScope})
	}
	*tenantID = scope
	return nil
}

func (api *userApi) query(ctx echo.Context) error {
	filter := new(user.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []user.User{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	// tenant admins only see their own school's accounts
	_, sess := contextSession(ctx)
	if sess.Role == session.RoleTenantAdmin {
		scope, err := sess.RequireTenant()
		if err != nil {
			return err
		}
		filter.TenantID = scope
	}

	users, err := api.svc.Filter(ctx.Request().Context(), *filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *userApi) retrieve(ctx echo.Context) error {
	usr, ok := ctx.Get("object").(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) update(ctx echo.Context) error {
	usr, ok := ctx.Get("object").(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	var data user.UpdateUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}
	if err := data.Validate(api.validate, usr, api.svc); err != nil {
		return err
	}

	if data.Role != "" {
		if err := api.checkRoleScope(ctx, data.Role, &data.TenantID); err != nil {
			return err
		}
	}

	usr, err := api.svc.Update(ctx.Request().Context(), usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}

	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) destroy(ctx echo.Context) error {
	usr, ok := ctx.Get("object").(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	// Say No to Suicide! ctxUser cannot delete themselves
	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.ID == ctxUsr.ID {
		return errHTTPForbidden
	}

	if err := api.svc.Delete(ctx.Request().Context(), usr.ID); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) destroyMultiple(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}

	// Say No to Suicide! ctxUser cannot delete themselves
	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sort.Strings(query.IDs)
	if i := sort.SearchStrings(query.IDs, ctxUsr.ID); i < len(query.IDs) {
		if match := query.IDs[i]; ctxUsr.ID == match {
			return errHTTPForbidden
		}
	}

	// tenant admins cannot reach across schools; out-of-scope ids are dropped
	// the same way the detail endpoints mask them as not found
	_, sess := contextSession(ctx)
	if sess.Role != session.RolePlatformAdmin {
		scope, err := sess.RequireTenant()
		if err != nil {
			return err
		}
		ids := query.IDs[:0]
		for _, id := range query.IDs {
			usr, err := api.svc.GetByID(ctx.Request().Context(), id)
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					continue
				}
				return errors.Wrap(err, "finding user by ID")
			}
			if usr.TenantID == scope {
				ids = append(ids, id)
			}
		}
		if query.IDs = ids; len(query.IDs) == 0 {
			return ctx.NoContent(http.StatusNoContent)
		}
	}

	if err := api.svc.Delete(ctx.Request().Context(), query.IDs...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, session.AllRoles)
}

func ctxUserOrAdminMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := getContextUser(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}

			_, sess := contextSession(ctx)
			isAdmin := sess.HasRole(session.RolePlatformAdmin, session.RoleTenantAdmin)
			if ctx.Param("id") == ctxUsr.ID || isAdmin {
				if usr, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id")); err == nil {
					// tenant admins cannot reach across schools
					if sess.Role == session.RoleTenantAdmin && usr.TenantID != sess.TenantID && usr.ID != ctxUsr.ID {
						return errHTTPNotFound
					}
					ctx.Set("object", usr)
					return next(ctx)
				} else if errors.Cause(err) != user.ErrNotFound {
					return errors.Wrap(err, "finding user by ID")
				}
			}
			return errHTTPNotFound
		}
	}
}
