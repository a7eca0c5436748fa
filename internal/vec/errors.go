package vec

import (
	"errors"
	"fmt"
)

var (
	// ErrSizeMismatch indicates a value whose element count differs from the variable size.
	ErrSizeMismatch = errors.New("vec: size mismatch")

	// ErrNoSuchName indicates a lookup of a name the vector does not hold.
	ErrNoSuchName = errors.New("vec: no such variable")

	// ErrDuplicateName indicates two descriptors with the same relative name.
	ErrDuplicateName = errors.New("vec: duplicate variable name")

	// ErrNotFlat indicates a non-flattenable value where a flat one is required.
	ErrNotFlat = errors.New("vec: value is not flattenable")

	// ErrRagged indicates a nested slice whose rows differ in length.
	ErrRagged = errors.New("vec: ragged array")

	ErrNotContiguous = errors.New("vec: view variables are not contiguous")
)

// SizeError carries the variable name and both sizes of a failed set.
type SizeError struct {
	Name     string
	Expected int
	Actual   int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("vec: %s: expected %d elements, got %d", e.Name, e.Expected, e.Actual)
}

func (e *SizeError) Unwrap() error {
	return ErrSizeMismatch
}
