package amd64

import "errors"

// The failures of the lowering. None of them is recoverable: emitting code
// after any of them would silently produce wrong or unsafe machine code.
// Callers match them with errors.Is.
var (
	// ErrConfigurationFatal is returned for unusable configurations, such as
	// an unimplemented sandbox mode or inconsistent condition tables.
	ErrConfigurationFatal = errors.New("fatal configuration error")
	// ErrInvalidRegisterClass is returned when a register is queried as a
	// member of a class it does not belong to.
	ErrInvalidRegisterClass = errors.New("invalid register class")
	// ErrInvalidAddressing is returned for memory operands which cannot be
	// encoded or sandboxed.
	ErrInvalidAddressing = errors.New("invalid addressing")
	// ErrIncompleteImplementation is returned for target features which are
	// recognized but not implemented.
	ErrIncompleteImplementation = errors.New("not implemented")
)
