package tdm

import (
	"context"
	"sync"

	"github.com/teslashibe/go-thymio/pkg/protocol"
	"github.com/teslashibe/go-thymio/pkg/thymio"
)

// Node is a robot reported by the manager. It implements thymio.Node.
type Node struct {
	client *Client
	id     string

	mu       sync.RWMutex
	name     string
	status   string
	handlers []thymio.VariablesHandler
}

// ID returns the manager-assigned node ID.
func (n *Node) ID() string { return n.id }

// Name returns the display name.
func (n *Node) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

// Status returns "available" or "busy" as last reported by the manager.
func (n *Node) Status() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Lock acquires exclusive control of the node.
func (n *Node) Lock(ctx context.Context) error {
	return n.client.call(ctx, protocol.TypeLock, n.id, func(id string) (*protocol.Message, error) {
		return protocol.NewLockMessage(id, n.id)
	})
}

// Unlock releases the node.
func (n *Node) Unlock(ctx context.Context) error {
	return n.client.call(ctx, protocol.TypeUnlock, n.id, func(id string) (*protocol.Message, error) {
		return protocol.NewUnlockMessage(id, n.id)
	})
}

// Compile sends program source to the node.
func (n *Node) Compile(ctx context.Context, program string) error {
	return n.client.call(ctx, protocol.TypeCompile, n.id, func(id string) (*protocol.Message, error) {
		return protocol.NewCompileMessage(id, n.id, program)
	})
}

// Run starts the last compiled program.
func (n *Node) Run(ctx context.Context) error {
	return n.client.call(ctx, protocol.TypeRun, n.id, func(id string) (*protocol.Message, error) {
		return protocol.NewRunMessage(id, n.id)
	})
}

// SetVariables writes variables on the node.
func (n *Node) SetVariables(ctx context.Context, vars map[string][]int) error {
	return n.client.call(ctx, protocol.TypeSetVariables, n.id, func(id string) (*protocol.Message, error) {
		return protocol.NewSetVariablesMessage(id, n.id, vars)
	})
}

// WatchVariables adds a handler for variable notifications from this node.
func (n *Node) WatchVariables(fn thymio.VariablesHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, fn)
}

func (n *Node) update(info protocol.NodeInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.name = info.Name
	n.status = info.Status
}

func (n *Node) deliver(vars thymio.Variables) {
	n.mu.RLock()
	handlers := make([]thymio.VariablesHandler, len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.RUnlock()

	for _, h := range handlers {
		h(n, vars)
	}
}
