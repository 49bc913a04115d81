package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/teslashibe/go-thymio/pkg/thymio"
)

type stubNode struct{ id, name string }

func (n stubNode) ID() string                                           { return n.id }
func (n stubNode) Name() string                                         { return n.name }
func (n stubNode) Lock(context.Context) error                           { return nil }
func (n stubNode) Unlock(context.Context) error                         { return nil }
func (n stubNode) Compile(context.Context, string) error                { return nil }
func (n stubNode) Run(context.Context) error                            { return nil }
func (n stubNode) SetVariables(context.Context, map[string][]int) error { return nil }
func (n stubNode) WatchVariables(thymio.VariablesHandler)               {}

type stubManager struct {
	nodes  []thymio.Node
	waited int
	add    thymio.Node
}

func (m *stubManager) Nodes() []thymio.Node { return m.nodes }

func (m *stubManager) Sleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func (m *stubManager) WaitForNode(ctx context.Context) error {
	m.waited++
	if m.add != nil {
		m.nodes = append(m.nodes, m.add)
		m.add = nil
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func nodeMap(names ...string) map[string]thymio.Node {
	out := make(map[string]thymio.Node, len(names))
	for _, n := range names {
		out[n] = stubNode{id: "id-" + n, name: n}
	}
	return out
}

// scripted returns a ChooseFunc that answers with the given values in turn
// and records the option labels it was shown.
func scripted(answers ...string) (ChooseFunc, *[][]string) {
	var shown [][]string
	return func(_ context.Context, _ string, options []huh.Option[string]) (string, error) {
		labels := make([]string, len(options))
		for i, o := range options {
			labels[i] = o.Key
		}
		shown = append(shown, labels)

		if len(answers) == 0 {
			return "", huh.ErrUserAborted
		}
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}, &shown
}

func TestPrompt_SelectsChoice(t *testing.T) {
	choose, shown := scripted("beta")
	p := &Prompt{Choose: choose}

	node, err := p.SelectNode(context.Background(), nodeMap("beta", "alpha"))
	if err != nil {
		t.Fatalf("SelectNode error: %v", err)
	}
	if node == nil || node.Name() != "beta" {
		t.Fatalf("node = %v, want beta", node)
	}

	labels := (*shown)[0]
	if len(labels) != 2 || labels[0] != "alpha" || labels[1] != "beta" {
		t.Errorf("options = %v, want sorted [alpha beta] without refresh", labels)
	}
}

func TestPrompt_AbortCancels(t *testing.T) {
	choose, _ := scripted()
	p := &Prompt{Choose: choose}

	node, err := p.SelectNode(context.Background(), nodeMap("alpha", "beta"))
	if err != nil || node != nil {
		t.Errorf("SelectNode = %v, %v; want nil, nil", node, err)
	}
}

func TestPrompt_OtherErrorsPropagate(t *testing.T) {
	boom := errors.New("tty gone")
	p := &Prompt{Choose: func(context.Context, string, []huh.Option[string]) (string, error) {
		return "", boom
	}}

	if _, err := p.SelectNode(context.Background(), nodeMap("a")); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestPrompt_Refresh(t *testing.T) {
	mgr := &stubManager{
		nodes: []thymio.Node{stubNode{"1", "alpha"}},
		add:   stubNode{"2", "gamma"},
	}
	choose, shown := scripted(refreshValue, "gamma")
	p := NewPrompt(mgr, time.Second)
	p.Choose = choose

	node, err := p.SelectNode(context.Background(), thymio.NodesByName(mgr.Nodes()))
	if err != nil {
		t.Fatalf("SelectNode error: %v", err)
	}
	if node == nil || node.ID() != "2" {
		t.Fatalf("node = %v, want gamma", node)
	}
	if mgr.waited != 1 {
		t.Errorf("waited = %d, want 1", mgr.waited)
	}
	if got := (*shown)[1]; len(got) != 3 || got[1] != "gamma" || got[2] != "↻ Refresh" {
		t.Errorf("second options = %v", got)
	}
}

func TestRefreshFrom_TimeoutStillLists(t *testing.T) {
	mgr := &stubManager{nodes: []thymio.Node{stubNode{"1", "alpha"}}}

	nodes, err := RefreshFrom(mgr, 10*time.Millisecond)(context.Background())
	if err != nil {
		t.Fatalf("refresh error: %v", err)
	}
	if len(nodes) != 1 {
		t.Errorf("len(nodes) = %d, want 1", len(nodes))
	}
}

func TestRefreshFrom_ContextCancelled(t *testing.T) {
	mgr := &stubManager{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := RefreshFrom(mgr, time.Second)(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFixed(t *testing.T) {
	nodes := nodeMap("alpha", "beta")

	node, _ := Fixed("beta").SelectNode(context.Background(), nodes)
	if node == nil || node.Name() != "beta" {
		t.Errorf("Fixed(beta) = %v", node)
	}

	node, err := Fixed("zeta").SelectNode(context.Background(), nodes)
	if node != nil || err != nil {
		t.Errorf("Fixed(zeta) = %v, %v; want cancel", node, err)
	}
}

func TestFirst(t *testing.T) {
	node, _ := First().SelectNode(context.Background(), nodeMap("charlie", "alpha", "bravo"))
	if node == nil || node.Name() != "alpha" {
		t.Errorf("First() = %v, want alpha", node)
	}

	node, _ = First().SelectNode(context.Background(), nil)
	if node != nil {
		t.Errorf("First() on no nodes = %v, want nil", node)
	}
}

func TestPrompt_SkipsUnnamedNodes(t *testing.T) {
	choose, shown := scripted(refreshValue)
	mgr := &stubManager{nodes: []thymio.Node{stubNode{id: "id-alpha", name: "alpha"}}}
	p := &Prompt{
		Choose: choose,
		Refresh: func(context.Context) (map[string]thymio.Node, error) {
			return thymio.NodesByName(mgr.Nodes()), nil
		},
	}

	node, err := p.SelectNode(context.Background(), nodeMap("", "alpha"))
	if err != nil {
		t.Fatalf("SelectNode error: %v", err)
	}
	if node != nil {
		t.Errorf("node = %v, want nil after the aborted second prompt", node)
	}

	if len(*shown) != 2 {
		t.Fatalf("prompted %d times, want 2 (refresh chosen, then abort)", len(*shown))
	}
	first := (*shown)[0]
	if len(first) != 2 || first[0] != "alpha" {
		t.Errorf("options = %q, want alpha and refresh only", first)
	}
}
