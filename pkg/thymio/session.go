package thymio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
)

// DefaultDiscoveryDelay is how long Open waits for the manager to list nodes.
const DefaultDiscoveryDelay = 500 * time.Millisecond

// maxSuggestionDistance bounds how different a suggested node name may be.
const maxSuggestionDistance = 3

// State is the lifecycle state of a Session.
type State int

const (
	StateConnecting State = iota
	StateAwaitingNodeSelection
	StateLocked
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingNodeSelection:
		return "awaiting_node_selection"
	case StateLocked:
		return "locked"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SessionConfig controls node discovery and selection.
type SessionConfig struct {
	// DiscoveryDelay is a fixed grace period before nodes are listed.
	// Nodes that appear later are not seen by Open.
	DiscoveryDelay time.Duration

	// NodeName selects a node by exact display name.
	NodeName string

	// ForcePrompt always delegates to Selector, even with a single node.
	ForcePrompt bool

	// Selector is used when the choice is ambiguous or forced.
	// A nil Selector behaves like a cancelled prompt.
	Selector Selector

	Logger *slog.Logger
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		DiscoveryDelay: DefaultDiscoveryDelay,
	}
}

// Session owns the lock on one node for its lifetime.
type Session struct {
	logger *slog.Logger

	mu    sync.Mutex
	state State
	node  Node
}

// Open waits for discovery, selects exactly one node and locks it.
//
// Selection order: a forced prompt; failure when no node is visible; an
// exact name match; the only visible node; the Selector.
func Open(ctx context.Context, mgr Manager, cfg SessionConfig) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		logger: logger.With("component", "session"),
		state:  StateConnecting,
	}

	if err := mgr.Sleep(ctx, cfg.DiscoveryDelay); err != nil {
		return nil, fmt.Errorf("thymio: waiting for nodes: %w", err)
	}

	node, err := s.selectNode(ctx, mgr, cfg)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, raise(s.logger, &NoNodeFoundError{Msg: noNodeSelected})
	}

	s.logger.Info("connecting to node", "name", node.Name(), "id", node.ID())
	if err := node.Lock(ctx); err != nil {
		return nil, fmt.Errorf("thymio: locking node '%s': %w", node.Name(), err)
	}

	s.mu.Lock()
	s.node = node
	s.state = StateLocked
	s.mu.Unlock()

	s.logger.Debug("node locked", "name", node.Name())
	return s, nil
}

func (s *Session) selectNode(ctx context.Context, mgr Manager, cfg SessionConfig) (Node, error) {
	nodes := mgr.Nodes()

	switch {
	case cfg.ForcePrompt:
		s.logger.Debug("prompting for node")
		return s.prompt(ctx, cfg.Selector, nodes)

	case len(nodes) == 0:
		return nil, raise(s.logger, &NoNodeFoundError{})

	case cfg.NodeName != "":
		for _, n := range nodes {
			if n.Name() == cfg.NodeName {
				return n, nil
			}
		}
		return nil, raise(s.logger, &NoNodeFoundError{
			NodeName:   cfg.NodeName,
			Suggestion: closestName(cfg.NodeName, nodes),
		})

	case len(nodes) == 1:
		return nodes[0], nil

	default:
		return s.prompt(ctx, cfg.Selector, nodes)
	}
}

func (s *Session) prompt(ctx context.Context, sel Selector, nodes []Node) (Node, error) {
	s.setState(StateAwaitingNodeSelection)
	if sel == nil {
		s.logger.Debug("no selector configured")
		return nil, nil
	}
	node, err := sel.SelectNode(ctx, NodesByName(nodes))
	if err != nil {
		return nil, fmt.Errorf("thymio: selecting node: %w", err)
	}
	return node, nil
}

// closestName returns the visible node name nearest to want, if close enough.
func closestName(want string, nodes []Node) string {
	best, bestDist := "", maxSuggestionDistance+1
	for _, n := range nodes {
		d := levenshtein.ComputeDistance(want, n.Name())
		if d < bestDist {
			best, bestDist = n.Name(), d
		}
	}
	return best
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	if s == nil {
		return StateDisconnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Node returns the locked node, or nil once disconnected.
func (s *Session) Node() Node {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLocked {
		return nil
	}
	return s.node
}

// Disconnect unlocks the node. It is safe to call more than once and on a
// nil Session; only the first call after a successful Open unlocks.
// Commands still in flight are not cancelled.
func (s *Session) Disconnect(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	node := s.node
	wasLocked := s.state == StateLocked
	s.state = StateDisconnected
	s.node = nil
	s.mu.Unlock()

	if !wasLocked || node == nil {
		return nil
	}

	s.logger.Info("disconnecting from node", "name", node.Name())
	if err := node.Unlock(ctx); err != nil {
		return fmt.Errorf("thymio: unlocking node '%s': %w", node.Name(), err)
	}
	return nil
}
