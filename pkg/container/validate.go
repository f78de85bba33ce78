package container

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs tag based validation on a configuration struct and
// reports the first failing field as a ValidationError. Domain configurations
// use it for their own fields.
func ValidateStruct(config any) error {
	err := validate.Struct(config)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &ValidationError{Field: fieldErrs[0].Field(), Tag: fieldErrs[0].Tag()}
	}

	return fmt.Errorf("validation error: %w", err)
}
