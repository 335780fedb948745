package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/user"
	identitysvc "github.com/trezcool/shule/services/identity"
)

type authApi struct {
	conf       *core.Config
	usrSvc     user.ServiceInterface
	schoolSvc  school.ServiceInterface
	validate   *validator.Validate
	translator ut.Translator
}

func registerAuthAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := authApi{
		conf:       deps.Conf,
		usrSvc:     deps.UserSvc,
		schoolSvc:  deps.SchoolSvc,
		validate:   deps.Validate,
		translator: deps.Translator,
	}

	ag := g.Group("/auth")

	// un-authed endpoints
	// TODO: rate limit `/password-reset` & `/password-reset-confirm`
	ag.POST("/login", api.login)
	ag.POST("/signup", api.signup)
	ag.POST("/password-reset", api.resetPassword)
	ag.POST("/password-reset-confirm", api.confirmPasswordReset)

	// authed endpoints
	ag.POST("/token-refresh", api.refreshToken, jwt)
}

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := authenticate(ctx, data.Email, data.Password, api.conf, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := identitysvc.GenerateToken(api.conf, claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	return ctx.JSON(http.StatusOK, LoginResponse{
		Token:    token,
		Redirect: session.RedirectAfterLogin(session.ParseRole(claims.Role), data.Next),
	})
}

// signup self-registers a guardian account. The registration number is
// checked against the tenant data store first; role and scope are embedded
// at creation time and cannot be escalated through this endpoint.
func (api *authApi) signup(ctx echo.Context) error {
	var data session.Registration
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Registration")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	md, err := session.GuardianMetadata(ctx.Request().Context(), api.schoolSvc, data.RegistrationNumber)
	if err != nil {
		return errors.Wrap(err, "deriving guardian metadata")
	}

	usr, err := api.usrSvc.Create(ctx.Request().Context(), user.NewUser{
		Name:            data.Name,
		Email:           data.Email,
		Role:            md.Role,
		TenantID:        md.TenantID,
		DependentIDs:    md.DependentIDs,
		Password:        data.Password,
		PasswordConfirm: data.PasswordConfirm,
	})
	if err != nil {
		if errors.Cause(err) == user.ErrEmailExists {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: user.ErrEmailExists.Error()})
		}
		return errors.Wrap(err, "creating account")
	}

	token, err := identitysvc.GenerateToken(api.conf, identitysvc.NewUserClaims(api.conf, usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	return ctx.JSON(http.StatusCreated, LoginResponse{
		Token:    token,
		Redirect: session.LandingPath(session.RoleGuardian),
	})
}

func (api *authApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.usrSvc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || errors.Cause(err) == user.ErrNotFound) {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *authApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.usrSvc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *authApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.conf, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
		Next     string `json:"next"`
	}

	LoginResponse struct {
		Token    string `json:"token"`
		Redirect string `json:"redirect,omitempty"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
