package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "kcc-issuer/pkg/domain-errors"
)

var (
	countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)
	didPattern     = regexp.MustCompile(`^did:[a-z0-9]+:\S+$`)

	defaultValidator = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("country", func(fl validator.FieldLevel) bool {
		return countryPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("did", func(fl validator.FieldLevel) bool {
		return didPattern.MatchString(fl.Field().String())
	})
	return v
}

// jsonFieldName reports fields by their wire name so messages match what callers sent.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// IsCountryCode reports whether value is a two-letter uppercase country code.
func IsCountryCode(value string) bool {
	return countryPattern.MatchString(value)
}

// IsDID reports whether value has the did:<method>:<id> shape.
func IsDID(value string) bool {
	return didPattern.MatchString(value)
}

// Validate validates a struct using the default validator and returns a domain error
func Validate(req any) error {
	if err := defaultValidator.Struct(req); err != nil {
		return dErrors.New(dErrors.CodeValidation, ErrorMessage(err))
	}
	return nil
}

// ErrorMessage converts a validator error into a human-readable message
func ErrorMessage(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return "invalid request body"
	}

	fe := validationErrs[0]
	field := fieldPath(fe)

	switch fe.ActualTag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "country":
		return fmt.Sprintf("%s must be a two-letter uppercase country code", field)
	case "did":
		return fmt.Sprintf("%s must be a DID", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "notblank":
		return fmt.Sprintf("%s must not be blank", field)
	default:
		if field == "" {
			return "invalid request body"
		}
		return fmt.Sprintf("%s is invalid", field)
	}
}

// fieldPath drops the root struct name from the namespace: "jurisdiction.country".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	if fe.Field() != "" {
		return fe.Field()
	}
	return fe.StructField()
}
