package system

import (
	"errors"
	"fmt"
)

// Setup-time configuration errors.
var (
	// ErrDuplicateVariable indicates two unknowns resolving to one promoted name,
	// or a component declaring the same variable twice.
	ErrDuplicateVariable = errors.New("system: duplicate variable")

	// ErrMultipleSources indicates a param connected to more than one unknown.
	ErrMultipleSources = errors.New("system: param connected to multiple sources")

	// ErrUnresolvedParam indicates a param with neither a connection nor a default.
	ErrUnresolvedParam = errors.New("system: param has no source and no default value")

	// ErrShapeMismatch indicates a connection between variables of different size or flatness.
	ErrShapeMismatch = errors.New("system: connected variables differ in shape")

	// ErrNoSuchVariable indicates a connection naming a variable that does not exist.
	ErrNoSuchVariable = errors.New("system: no such variable")

	// ErrInvalidSource indicates a connection whose source is a param.
	ErrInvalidSource = errors.New("system: connection source must be an unknown")

	// ErrInvalidTarget indicates a connection whose target is an unknown.
	ErrInvalidTarget = errors.New("system: connection target must be a param")

	// ErrDuplicateSubsystem indicates two children of one group with the same name.
	ErrDuplicateSubsystem = errors.New("system: duplicate subsystem name")
)

// ConfigError wraps a setup failure with the pathname it concerns.
type ConfigError struct {
	Pathname string
	Wrapped  error
	Detail   string
}

func (e *ConfigError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %s", e.Wrapped, e.Pathname)
	}
	return fmt.Sprintf("%v: %s: %s", e.Wrapped, e.Pathname, e.Detail)
}

func (e *ConfigError) Unwrap() error {
	return e.Wrapped
}

// EvalError records which system failed during evaluation.
type EvalError struct {
	Pathname string
	Wrapped  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("system: evaluating %s: %v", e.Pathname, e.Wrapped)
}

func (e *EvalError) Unwrap() error {
	return e.Wrapped
}

func evalError(pathname string, err error) error {
	var ee *EvalError
	if errors.As(err, &ee) {
		return err
	}
	return &EvalError{Pathname: pathname, Wrapped: err}
}
