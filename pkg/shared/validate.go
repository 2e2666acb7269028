package shared

import (
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"

	"github.com/spatialops/importer/pkg/constants"
)

var translator ut.Translator

func init() {
	english := en.New()
	translator, _ = ut.New(english, english).GetTranslator("en")
	if err := entranslations.RegisterDefaultTranslations(constants.Validate, translator); err != nil {
		panic(err)
	}
}

// Validate runs the shared validator and returns field name to translated
// message for everything that failed.
func Validate(v interface{}) (map[string]string, bool) {
	errs := constants.Validate.Struct(v)
	if errs == nil {
		return nil, true
	}
	messages := make(map[string]string)
	for _, err := range errs.(validator.ValidationErrors) {
		messages[err.Field()] = err.Translate(translator)
	}
	return messages, false
}
