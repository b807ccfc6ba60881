package sandbox

import "errors"

var (
	// ErrConfinement is returned when a path or scope would leave the
	// conversation's workspace.
	ErrConfinement = errors.New("path escapes sandbox confinement")

	// ErrTooLarge is returned when a file exceeds a byte ceiling.
	ErrTooLarge = errors.New("file exceeds size limit")

	// ErrNotFound is returned when a required file does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrAlreadyExists is returned when a file must not exist but does.
	ErrAlreadyExists = errors.New("file already exists")

	// ErrNotRegular is returned when a path is not a regular file.
	ErrNotRegular = errors.New("not a regular file")

	// ErrExecutionTimeout is returned when a sandboxed command times out.
	ErrExecutionTimeout = errors.New("execution timed out")
)
