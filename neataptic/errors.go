package neataptic

import "fmt"

// The engine distinguishes four failure classes. All of them are synchronous
// and raised before or at the point of the offending operation; callers should
// treat them as programmer errors to fix, not transient conditions to retry.

// StructuralError reports an operation that is impossible on the given graph
// shape: crossover size mismatches, duplicate or invalid edges, export of a
// non-layered topology.
type StructuralError struct {
	Op     string // the operation that failed, e.g. "crossover"
	Detail string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error in %s: %s", e.Op, e.Detail)
}

// ValidationError reports malformed caller input: dataset shape, missing
// stopping conditions, out-of-range training parameters.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Detail)
}

// ConfigurationError reports an unrecognized or contradictory configuration
// value, such as an unknown optimizer name or a nested lookahead optimizer.
type ConfigurationError struct {
	Option string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Option, e.Detail)
}

// NumericGuardError records a rejected weight or bias update. The update is
// discarded and the prior value retained; the error itself is logged rather
// than returned on the hot path.
type NumericGuardError struct {
	Op    string
	Value float64
}

func (e *NumericGuardError) Error() string {
	return fmt.Sprintf("numeric guard: %s produced non-finite value %v; update discarded", e.Op, e.Value)
}

func structuralErrorf(op, format string, args ...interface{}) error {
	return &StructuralError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

func validationErrorf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Detail: fmt.Sprintf(format, args...)}
}

func configErrorf(option, format string, args ...interface{}) error {
	return &ConfigurationError{Option: option, Detail: fmt.Sprintf(format, args...)}
}
