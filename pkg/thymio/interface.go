// Package thymio provides a session-oriented client for Thymio robots reached
// through a device manager.
//
// The package is split along the same lines as the manager protocol itself.
// A Manager enumerates Nodes; a Session picks one Node and holds its lock; a
// Router fans out variable-change batches to subscriptions; the Thymio facade
// ties these together and exposes actuator and indicator commands.
//
// The transport is not part of this package. Anything that satisfies Manager
// and Node can be used (see pkg/tdm for a websocket implementation and
// pkg/sim for a simulated manager).
package thymio

import (
	"context"
	"time"
)

// VariablesHandler receives a batch of variables that changed together on
// a node.
type VariablesHandler func(node Node, vars Variables)

// Node is a manager-side handle for one physical robot.
// A Session borrows a Node; the Manager owns it.
type Node interface {
	// ID is the manager-assigned identifier. Stable for the node's lifetime.
	ID() string

	// Name is the display name of the robot.
	Name() string

	// Lock requests exclusive access. It may block until the manager grants it.
	Lock(ctx context.Context) error

	// Unlock releases exclusive access.
	Unlock(ctx context.Context) error

	// Compile sends a micro-program to the node without running it.
	Compile(ctx context.Context, program string) error

	// Run executes the most recently compiled micro-program.
	Run(ctx context.Context) error

	// SetVariables writes variables directly.
	SetVariables(ctx context.Context, vars map[string][]int) error

	// WatchVariables registers a handler for variable-change batches.
	WatchVariables(fn VariablesHandler)
}

// Manager is a live link to a device manager.
type Manager interface {
	// Nodes returns the nodes currently visible through the manager.
	Nodes() []Node

	// Sleep suspends for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error

	// WaitForNode blocks until the manager reports more nodes or ctx is done.
	WaitForNode(ctx context.Context) error
}

// Selector picks a node when the choice cannot be made automatically.
// A nil Node with a nil error means the user cancelled.
type Selector interface {
	SelectNode(ctx context.Context, nodes map[string]Node) (Node, error)
}

// SelectorFunc adapts a function to the Selector interface.
type SelectorFunc func(ctx context.Context, nodes map[string]Node) (Node, error)

// SelectNode calls f.
func (f SelectorFunc) SelectNode(ctx context.Context, nodes map[string]Node) (Node, error) {
	return f(ctx, nodes)
}

// NodesByName indexes nodes by display name. Later duplicates win, which
// matches what a name-keyed picker can show.
func NodesByName(nodes []Node) map[string]Node {
	out := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		out[n.Name()] = n
	}
	return out
}
