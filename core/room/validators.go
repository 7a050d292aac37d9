package room

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
)

var (
	roomCodeTag  = "roomcode"
	roomCodeText = "{0} is not a valid room code"
)

// InitValidators registers the room validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(roomCodeTag, roomCodeValidation)
	core.RegisterCustomTranslation(validate, translator, roomCodeTag, roomCodeText)
}

func roomCodeValidation(fl validator.FieldLevel) bool {
	return ValidCode(fl.Field().String())
}
