package processor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
)

var validate = newValidator()

// newValidator reports fields under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeInput unmarshals raw into dst, rejecting unknown fields, and checks
// its struct tags. Failures wrap domain.ErrValidation.
func decodeInput(raw json.RawMessage, dst any) error {
	if !domain.HasPayload(raw) {
		return domain.Validationf("input is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Validationf("malformed input: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return domain.Validationf("%s", describe(err))
	}
	return nil
}

// describe turns validator errors into a short client-facing message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", field))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "excluded_with":
			parts = append(parts, fmt.Sprintf("%s cannot be combined with %s", field, strings.ToLower(fe.Param())))
		case "max":
			parts = append(parts, fmt.Sprintf("%s exceeds the maximum of %s", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid (%s)", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
