// Package selector provides thymio.Selector implementations: an interactive
// terminal prompt and fixed policies for headless use.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/teslashibe/go-thymio/pkg/thymio"
)

// refreshValue is the option value of the refresh entry. Unnamed nodes are
// not offered, so it cannot collide with a node.
const refreshValue = ""

// RefreshFunc returns the nodes currently visible.
type RefreshFunc func(ctx context.Context) (map[string]thymio.Node, error)

// ChooseFunc asks the user to pick one option value.
type ChooseFunc func(ctx context.Context, title string, options []huh.Option[string]) (string, error)

// Prompt asks the user to pick a node in the terminal.
type Prompt struct {
	// Title is shown above the list.
	Title string

	// Refresh, when set, adds a "Refresh" entry that re-lists nodes.
	Refresh RefreshFunc

	// Choose renders the list. Defaults to a huh select form.
	Choose ChooseFunc
}

// NewPrompt creates a prompt that refreshes from mgr, waiting up to wait for
// a new node to appear.
func NewPrompt(mgr thymio.Manager, wait time.Duration) *Prompt {
	return &Prompt{
		Title:   "Select a Thymio",
		Refresh: RefreshFrom(mgr, wait),
	}
}

// SelectNode implements thymio.Selector. An aborted prompt returns nil, nil.
func (p *Prompt) SelectNode(ctx context.Context, nodes map[string]thymio.Node) (thymio.Node, error) {
	choose := p.Choose
	if choose == nil {
		choose = chooseWithForm
	}
	title := p.Title
	if title == "" {
		title = "Select a node"
	}

	for {
		choice, err := choose(ctx, title, p.options(nodes))
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("selector: prompt: %w", err)
		}

		if choice != refreshValue {
			return nodes[choice], nil
		}
		if p.Refresh == nil {
			return nil, nil
		}
		nodes, err = p.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("selector: refresh: %w", err)
		}
	}
}

func (p *Prompt) options(nodes map[string]thymio.Node) []huh.Option[string] {
	names := Names(nodes)
	opts := make([]huh.Option[string], 0, len(names)+1)
	for _, name := range names {
		if name == refreshValue {
			continue
		}
		opts = append(opts, huh.NewOption(name, name))
	}
	if p.Refresh != nil {
		opts = append(opts, huh.NewOption("↻ Refresh", refreshValue))
	}
	return opts
}

func chooseWithForm(ctx context.Context, title string, options []huh.Option[string]) (string, error) {
	var choice string
	err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(title).
			Options(options...).
			Value(&choice),
	)).RunWithContext(ctx)
	return choice, err
}

// RefreshFrom waits up to wait for a new node on mgr, then lists its nodes.
func RefreshFrom(mgr thymio.Manager, wait time.Duration) RefreshFunc {
	return func(ctx context.Context) (map[string]thymio.Node, error) {
		if wait > 0 {
			waitCtx, cancel := context.WithTimeout(ctx, wait)
			err := mgr.WaitForNode(waitCtx)
			cancel()
			if err != nil && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
		}
		return thymio.NodesByName(mgr.Nodes()), nil
	}
}

// Names returns the node names in sorted order.
func Names(nodes map[string]thymio.Node) []string {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fixed selects the node with the given name, or cancels if it is absent.
func Fixed(name string) thymio.Selector {
	return thymio.SelectorFunc(func(_ context.Context, nodes map[string]thymio.Node) (thymio.Node, error) {
		return nodes[name], nil
	})
}

// First selects the node whose name sorts first.
func First() thymio.Selector {
	return thymio.SelectorFunc(func(_ context.Context, nodes map[string]thymio.Node) (thymio.Node, error) {
		names := Names(nodes)
		if len(names) == 0 {
			return nil, nil
		}
		return nodes[names[0]], nil
	})
}
