package thymio

import (
	"context"
	"sync"
	"time"
)

// mockNode records every call made against it.
type mockNode struct {
	id   string
	name string

	mu         sync.Mutex
	locks      int
	unlocks    int
	compiled   []string
	runs       int
	writes     []map[string][]int
	handlers   []VariablesHandler
	compileErr error
	runErr     error
	writeErr   error
}

func newMockNode(id, name string) *mockNode {
	return &mockNode{id: id, name: name}
}

func (n *mockNode) ID() string   { return n.id }
func (n *mockNode) Name() string { return n.name }

func (n *mockNode) Lock(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locks++
	return nil
}

func (n *mockNode) Unlock(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unlocks++
	return nil
}

func (n *mockNode) Compile(_ context.Context, program string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.compiled = append(n.compiled, program)
	return n.compileErr
}

func (n *mockNode) Run(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs++
	return n.runErr
}

func (n *mockNode) SetVariables(_ context.Context, vars map[string][]int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writes = append(n.writes, vars)
	return n.writeErr
}

func (n *mockNode) WatchVariables(fn VariablesHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, fn)
}

// emit delivers a batch as the manager would.
func (n *mockNode) emit(vars Variables) {
	n.mu.Lock()
	handlers := append([]VariablesHandler(nil), n.handlers...)
	n.mu.Unlock()
	for _, h := range handlers {
		h(n, vars)
	}
}

func (n *mockNode) counts() (locks, unlocks, compiles, runs, writes int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.locks, n.unlocks, len(n.compiled), n.runs, len(n.writes)
}

func (n *mockNode) lastProgram() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.compiled) == 0 {
		return ""
	}
	return n.compiled[len(n.compiled)-1]
}

func (n *mockNode) lastWrite() map[string][]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.writes) == 0 {
		return nil
	}
	return n.writes[len(n.writes)-1]
}

// mockManager serves a fixed node list.
type mockManager struct {
	nodes  []Node
	slept  []time.Duration
	waited int
}

func (m *mockManager) Nodes() []Node { return m.nodes }

func (m *mockManager) Sleep(ctx context.Context, d time.Duration) error {
	m.slept = append(m.slept, d)
	return ctx.Err()
}

func (m *mockManager) WaitForNode(ctx context.Context) error {
	m.waited++
	return ctx.Err()
}

// countingSelector records how often it was asked and returns pick.
type countingSelector struct {
	calls int
	seen  map[string]Node
	pick  string
}

func (s *countingSelector) SelectNode(_ context.Context, nodes map[string]Node) (Node, error) {
	s.calls++
	s.seen = nodes
	if s.pick == "" {
		return nil, nil
	}
	return nodes[s.pick], nil
}

// lockedThymio returns a facade over a single mock node.
func lockedThymio(opts Options) (*Thymio, *mockNode) {
	node := newMockNode("n1", "thymio-1")
	mgr := &mockManager{nodes: []Node{node}}
	session, err := Open(context.Background(), mgr, SessionConfig{})
	if err != nil {
		panic(err)
	}
	t, err := New(session, opts)
	if err != nil {
		panic(err)
	}
	return t, node
}
