package upstream

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"

	"medportal/internal/shared"
)

// RegisterValidations adds the custom rules used by requests and responses:
//
//	nullemail  the field is nil, empty, or a valid email address
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation("nullemail", func(fl validator.FieldLevel) bool {
		f := fl.Field()
		for f.Kind() == reflect.Pointer || f.Kind() == reflect.Interface {
			if f.IsNil() {
				return true
			}
			f = f.Elem()
		}
		if f.Kind() != reflect.String {
			return false
		}
		s := f.String()
		return s == "" || v.Var(s, "email") == nil
	}, true)
}

// NewValidator returns a validator with the custom rules registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterValidations(v); err != nil {
		panic(err)
	}
	return v
}

// validationError maps validator failures onto *shared.ValidationError.
func validationError(err error, prefix string) error {
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	fields := make(map[string]string, len(ves))
	for _, fe := range ves {
		fields[prefix+fe.Namespace()] = fe.Tag()
	}
	return &shared.ValidationError{Fields: fields, Err: err}
}

func checkOne(v *validator.Validate, item any) error {
	return validationError(v.Struct(item), "")
}

func checkAll[T any](v *validator.Validate, items []T) error {
	for i := range items {
		if err := validationError(v.Struct(&items[i]), fmt.Sprintf("[%d].", i)); err != nil {
			return err
		}
	}
	return nil
}

func validated[T any](v *validator.Validate, out *T) (*T, error) {
	if err := checkOne(v, out); err != nil {
		return nil, err
	}
	return out, nil
}
