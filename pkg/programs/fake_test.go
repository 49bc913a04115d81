package programs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-thymio/pkg/thymio"
)

type fakeNode struct {
	mu       sync.Mutex
	writes   []map[string][]int
	programs []string
	handlers []thymio.VariablesHandler
}

func (n *fakeNode) ID() string                   { return "fake-1" }
func (n *fakeNode) Name() string                 { return "fake" }
func (n *fakeNode) Lock(context.Context) error   { return nil }
func (n *fakeNode) Unlock(context.Context) error { return nil }
func (n *fakeNode) Run(context.Context) error    { return nil }

func (n *fakeNode) Compile(_ context.Context, program string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.programs = append(n.programs, program)
	return nil
}

func (n *fakeNode) SetVariables(_ context.Context, vars map[string][]int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writes = append(n.writes, vars)
	return nil
}

func (n *fakeNode) WatchVariables(fn thymio.VariablesHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, fn)
}

func (n *fakeNode) emit(vars thymio.Variables) {
	n.mu.Lock()
	handlers := append([]thymio.VariablesHandler(nil), n.handlers...)
	n.mu.Unlock()
	for _, h := range handlers {
		h(n, vars)
	}
}

// motors returns every motor write as [left, right] pairs.
func (n *fakeNode) motors() [][2]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out [][2]int
	for _, w := range n.writes {
		l, lok := w[thymio.VarMotorLeftTarget]
		r, rok := w[thymio.VarMotorRightTarget]
		if lok && rok {
			out = append(out, [2]int{l[0], r[0]})
		}
	}
	return out
}

type fakeManager struct{ node *fakeNode }

func (m *fakeManager) Nodes() []thymio.Node { return []thymio.Node{m.node} }

func (m *fakeManager) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *fakeManager) WaitForNode(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// connect returns a facade over a fresh fake node.
func connect(t *testing.T) (*thymio.Thymio, *fakeNode, *fakeManager) {
	t.Helper()
	node := &fakeNode{}
	mgr := &fakeManager{node: node}

	cfg := thymio.DefaultConfig()
	cfg.Session.DiscoveryDelay = 0
	th, err := thymio.Connect(context.Background(), mgr, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = th.Close(context.Background()) })
	return th, node, mgr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
