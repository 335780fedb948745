package user

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/session"
)

var (
	knownRoleTag  = "knownrole"
	knownRoleText = "invalid role"

	tenantScopeTag  = "tenantscope"
	tenantScopeText = "a school is required for this role"
)

// InitValidators registers the user domain's custom validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(knownRoleTag, knownRoleValidation)
	core.RegisterCustomTranslation(validate, translator, knownRoleTag, knownRoleText)

	validate.RegisterStructValidation(newUserStructValidation, NewUser{})
	core.RegisterCustomTranslation(validate, translator, tenantScopeTag, tenantScopeText)
}

// knownRoleValidation checks that the value is in the closed role set.
func knownRoleValidation(fl validator.FieldLevel) bool {
	return session.ParseRole(fl.Field().String()).Recognized()
}

// newUserStructValidation requires a tenant id for tenant-scoped roles.
// Accounts created through privileged flows must carry a complete scope;
// only the guardian signup path derives it.
func newUserStructValidation(sl validator.StructLevel) {
	nu := sl.Current().Interface().(NewUser)
	if session.ParseRole(nu.Role).RequiresTenant() && nu.TenantID == "" {
		sl.ReportError(nu.TenantID, "tenant_id", "TenantID", tenantScopeTag, "")
	}
}
