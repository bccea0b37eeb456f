package status

import "errors"

var (
	// ErrInvalidInput is returned by SelfDiagnose for an empty symptom set.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSideEffect wraps side-effect failures that happened after the new
	// state was saved. The transition itself was applied.
	ErrSideEffect = errors.New("side effect failed")
)
