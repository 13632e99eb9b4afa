// Package validate wraps go-playground/validator and converts its errors
// into per-field apperr validation errors keyed by JSON field name.
package validate

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"backend-ratemycoffee/internal/shared/apperr"

	"github.com/go-playground/validator/v10"
)

var std = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("halfstep", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return f*2 == math.Trunc(f*2)
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := ParseClock(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.DateOnly, fl.Field().String())
		return err == nil
	})
	return v
}

// Struct validates s and returns an *apperr.Error of kind validation when
// any rule fails.
func Struct(s any) error {
	err := std.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := map[string][]string{}
	for _, fe := range verrs {
		key := fieldPath(fe.Namespace())
		fields[key] = append(fields[key], message(fe))
	}
	return apperr.Validation(fields)
}

// ParseClock accepts HH:MM or HH:MM:SS and returns the canonical HH:MM:SS.
func ParseClock(s string) (string, error) {
	for _, layout := range []string{time.TimeOnly, "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.TimeOnly), nil
		}
	}
	return "", fmt.Errorf("invalid time %q", s)
}

// fieldPath turns "createRequest.ratings[vibe]" into "ratings.vibe".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	ns = strings.ReplaceAll(ns, "[", ".")
	return strings.ReplaceAll(ns, "]", "")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_unless", "required_without":
		return "is required"
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("may not be greater than %s characters", fe.Param())
		}
		return fmt.Sprintf("may not be greater than %s", fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "latitude":
		return "must be between -90 and 90"
	case "longitude":
		return "must be between -180 and 180"
	case "halfstep":
		return "must be in 0.5 increments"
	case "clock":
		return "must be a time in HH:MM:SS format"
	case "isodate":
		return "must be a date in YYYY-MM-DD format"
	default:
		return "is invalid"
	}
}
