package lending

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// lendingValidate checks drafts and requests before they reach the Store's collections.
var lendingValidate *validator.Validate

func init() {
	lendingValidate = validator.New()
	lendingValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	_ = lendingValidate.RegisterValidation("condition", func(fl validator.FieldLevel) bool {
		return Condition(fl.Field().String()).Valid()
	})
}

// validateStruct runs the struct tags on v and converts the first violation
// into a KindValidationFailed error.
func validateStruct(v any) error {
	err := lendingValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ValidationError("", err.Error())
	}
	fe := verrs[0]
	return ValidationError(fe.Field(), describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "url":
		return "must be a URL"
	case "condition":
		return "must be one of excellent, good, fair, needs repair"
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}
