package school

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

var (
	regNumTag   = "regnum"
	regNumText  = "invalid registration number"
	regNumRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

	attStatusTag  = "attstatus"
	attStatusText = "invalid attendance status"
)

// InitValidators registers the school domain's custom validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(regNumTag, regNumValidation)
	core.RegisterCustomTranslation(validate, translator, regNumTag, regNumText)

	_ = validate.RegisterValidation(attStatusTag, attStatusValidation)
	core.RegisterCustomTranslation(validate, translator, attStatusTag, attStatusText)
}

func regNumValidation(fl validator.FieldLevel) bool {
	return regNumRegex.MatchString(fl.Field().String())
}

func attStatusValidation(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case AttendancePresent, AttendanceAbsent, AttendanceLate:
		return true
	}
	return false
}
