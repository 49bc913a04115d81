package thymio

import (
	"errors"
	"fmt"
	"log/slog"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoNodeFound matches every *NoNodeFoundError.
	ErrNoNodeFound = errors.New("thymio: no node found")

	// ErrInvalidColor matches every *InvalidColorError.
	ErrInvalidColor = errors.New("thymio: invalid color")

	// ErrCommandFailure matches every *CommandFailureError.
	ErrCommandFailure = errors.New("thymio: command failed")

	// ErrNotLocked is returned when a command is issued without a locked node.
	ErrNotLocked = errors.New("thymio: node not locked")
)

// noNodeSelected is the message used when the selector was cancelled.
const noNodeSelected = "No Node Selected"

// NoNodeFoundError is returned by Open when no node could be selected.
type NoNodeFoundError struct {
	// NodeName is the requested name, empty when none was given.
	NodeName string

	// Msg overrides the default message.
	Msg string

	// Suggestion is the closest visible node name, if any.
	Suggestion string
}

// Error implements the error interface.
func (e *NoNodeFoundError) Error() string {
	var msg string
	switch {
	case e.Msg != "":
		msg = e.Msg
	case e.NodeName != "":
		msg = fmt.Sprintf("no nodes found with name '%s'", e.NodeName)
	default:
		msg = "no nodes found"
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean '%s'?)", e.Suggestion)
	}
	return "thymio: " + msg
}

// Is reports whether target is ErrNoNodeFound.
func (e *NoNodeFoundError) Is(target error) bool {
	return target == ErrNoNodeFound
}

// Cancelled reports whether the error came from a cancelled selection.
func (e *NoNodeFoundError) Cancelled() bool {
	return e.Msg == noNodeSelected
}

// InvalidColorError is returned when a hex color string is malformed.
type InvalidColorError struct {
	Value string
}

// Error implements the error interface.
func (e *InvalidColorError) Error() string {
	return fmt.Sprintf("thymio: invalid hex code: %q", e.Value)
}

// Is reports whether target is ErrInvalidColor.
func (e *InvalidColorError) Is(target error) bool {
	return target == ErrInvalidColor
}

// CommandFailureError wraps a failed compile, run or variable write.
type CommandFailureError struct {
	// Step is "compile", "run" or "set_variables".
	Step string

	// Program is the micro-program text, empty for variable writes.
	Program string

	Err error
}

// Error implements the error interface.
func (e *CommandFailureError) Error() string {
	if e.Program != "" {
		return fmt.Sprintf("thymio: %s failed for %q: %v", e.Step, e.Program, e.Err)
	}
	return fmt.Sprintf("thymio: %s failed: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *CommandFailureError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrCommandFailure.
func (e *CommandFailureError) Is(target error) bool {
	return target == ErrCommandFailure
}

// raise logs err at error level and returns it.
func raise(logger *slog.Logger, err error) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error(err.Error())
	return err
}
