package validation

import (
	"fmt"
	"strings"

	"example.com/backstage/services/telemetry/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	RegisterCustomValidations(validate)
}

// ValidateStruct validates a struct using its validate tags
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// IsEquipmentType reports whether t names a known equipment type
func IsEquipmentType(t string) bool {
	switch models.EquipmentType(t) {
	case models.EquipmentAntenna, models.EquipmentRRU, models.EquipmentMicrolink:
		return true
	}
	return false
}

// RegisterCustomValidations registers the domain validation tags on v
func RegisterCustomValidations(v *validator.Validate) {
	_ = v.RegisterValidation("equipment_type", func(fl validator.FieldLevel) bool {
		return IsEquipmentType(fl.Field().String())
	})
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return field + " must be one of [" + fe.Param() + "], got " + quote(fe.Value())
	case "gt", "gte", "min":
		return field + " must be " + fe.Tag() + " " + fe.Param()
	case "equipment_type":
		return field + ": unknown equipment type " + quote(fe.Value())
	}
	return field + " failed " + fe.Tag() + " validation"
}

func quote(v interface{}) string {
	return fmt.Sprintf("%q", fmt.Sprint(v))
}
