package aggregate

import "fmt"

// ParameterError reports invalid caller input. It is returned before any
// network activity.
type ParameterError struct {
	Field string
	Err   error
}

// Error implements the error interface.
func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ParameterError) Unwrap() error {
	return e.Err
}
