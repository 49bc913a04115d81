package tdm

import (
	"errors"
	"fmt"
)

// Sentinel errors for manager client operations.
var (
	// ErrClosed indicates the connection to the manager is gone.
	ErrClosed = errors.New("tdm: connection closed")

	// ErrRemote indicates the manager rejected a request.
	ErrRemote = errors.New("tdm: request rejected")

	// ErrUnexpectedReply indicates the manager answered with the wrong message type.
	ErrUnexpectedReply = errors.New("tdm: unexpected reply")
)

// RemoteError carries the manager's reason for rejecting a request.
type RemoteError struct {
	// Op is the request type, e.g. "lock" or "compile".
	Op string

	// Node is the target node ID, empty for manager-level requests.
	Node string

	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("tdm: %s on node %s failed: %s", e.Op, e.Node, e.Message)
	}
	return fmt.Sprintf("tdm: %s failed: %s", e.Op, e.Message)
}

// Is allows errors.Is(err, ErrRemote) to match.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}
