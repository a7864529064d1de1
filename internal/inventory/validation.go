package inventory

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rxoptima/rxoptima/internal/shared"
)

// MaxBatchDigits bounds batch numbers.
const MaxBatchDigits = 5

var (
	batchPattern = regexp.MustCompile(`^[0-9]{1,5}$`)
	nonDigits    = regexp.MustCompile(`[^0-9]`)
)

// SanitizeBatchNumber strips non-digits from raw input. ok is false when
// more than MaxBatchDigits digits remain, in which case the input is rejected.
func SanitizeBatchNumber(raw string) (string, bool) {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) > MaxBatchDigits {
		return "", false
	}
	return digits, true
}

// NewValidator returns a validator with the batchno rule and JSON field names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("batchno", func(fl validator.FieldLevel) bool {
		return batchPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks an item before any write.
func Validate(v *validator.Validate, item Item) error {
	if item.QuantityInStock < 0 || item.UnitPrice.IsNegative() {
		return &shared.ValidationError{Field: FieldQuantityInStock, Message: "Quantity and Price cannot be negative."}
	}
	err := v.Struct(item)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &shared.ValidationError{Message: err.Error()}
	}
	first := fieldErrs[0]
	if first.Tag() == "batchno" {
		return &shared.ValidationError{Field: first.Field(), Message: "Batch Number must be 1 to 5 digits."}
	}
	return &shared.ValidationError{Field: first.Field(), Message: "Name, Batch Number, and Expiry Date are required."}
}
