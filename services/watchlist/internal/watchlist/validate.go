package watchlist

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidItem is matched by every ValidationError.
var ErrInvalidItem = errors.New("watchlist: invalid item")

// ValidationError reports the first field of an item that broke the contract.
type ValidationError struct {
	ID    ItemID
	Field string
	Rule  string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("watchlist: invalid item %q: field %s failed %s", e.ID.String(), e.Field, e.Rule)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidItem}
	}
	return []error{ErrInvalidItem, e.Err}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(f reflect.Value) interface{} {
		id, ok := f.Interface().(ItemID)
		if !ok || id.IsZero() {
			return ""
		}
		return id.String()
	}, ItemID{})
	return v
}

// Validate checks the required-field contract.
func (it Item) Validate() error {
	err := validate.Struct(it)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{ID: it.ID, Field: fe.Field(), Rule: fe.Tag(), Err: err}
	}
	return &ValidationError{ID: it.ID, Field: "item", Rule: "struct", Err: err}
}

// ValidateAll stops at the first invalid item and rejects duplicate IDs.
func ValidateAll(items []Item) error {
	seen := make(map[ItemID]struct{}, len(items))
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return err
		}
		if _, dup := seen[it.ID]; dup {
			return &ValidationError{ID: it.ID, Field: "id", Rule: "unique"}
		}
		seen[it.ID] = struct{}{}
	}
	return nil
}
