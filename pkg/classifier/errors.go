package classifier

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var errInvariant = errors.New("critical classification requires immediate=true or confidence>=0.7")

// SchemaError wraps a validation failure against the Classification
// schema; M2 surfaces it as a hard error per spec.md §3.
type SchemaError struct {
	Cause error
}

func (e *SchemaError) Error() string { return "classification schema validation failed: " + e.Cause.Error() }
func (e *SchemaError) Unwrap() error { return e.Cause }
func (e *SchemaError) Retriable() bool { return false }

// ErrClassificationFailed is returned by Classify after the one permitted
// retry on a second schema-validation failure (spec.md §4.9 step 5).
var ErrClassificationFailed = errors.New("classification_failed")

// ErrBudgetExceeded surfaces a token-budget rejection without calling L7.
var ErrBudgetExceeded = errors.New("budget_exceeded")
