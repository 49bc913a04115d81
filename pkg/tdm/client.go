package tdm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-thymio/pkg/protocol"
	"github.com/teslashibe/go-thymio/pkg/thymio"
)

const (
	clientName   = "go-thymio"
	writeTimeout = 5 * time.Second
)

// Client is a websocket connection to a device manager.
// It implements thymio.Manager.
type Client struct {
	cfg    Config
	logger *slog.Logger
	ws     *websocket.Conn
	wsMu   sync.Mutex

	mu           sync.Mutex
	nodes        []*Node
	byID         map[string]*Node
	pending      map[string]chan *protocol.Message
	nodesChanged chan struct{}

	// events hands variable batches to watchers off the read goroutine,
	// so a watcher may issue requests without stalling replies.
	events *eventQueue

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// Stats
	requestsSent   atomic.Int64
	repliesRecv    atomic.Int64
	eventsRecv     atomic.Int64
	remoteErrors   atomic.Int64
	variablesBatch atomic.Int64
}

// Dial connects to the manager and completes the handshake.
// A rejected password is returned as a *RemoteError.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tdm: invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, cfg.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("tdm: failed to connect to %s: %w", cfg.URL(), err)
	}

	c := &Client{
		cfg:          cfg,
		logger:       logger.With("component", "tdm"),
		ws:           ws,
		byID:         make(map[string]*Node),
		pending:      make(map[string]chan *protocol.Message),
		nodesChanged: make(chan struct{}),
		events:       newEventQueue(),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	go c.events.run(c.done)

	reply, err := c.request(ctx, protocol.TypeHello, "", func(id string) (*protocol.Message, error) {
		return protocol.NewHelloMessage(id, cfg.Password, clientName)
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if reply.Type != protocol.TypeWelcome {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %s to hello", ErrUnexpectedReply, reply.Type)
	}
	if err := c.applyNodes(reply); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.logger.Info("connected to device manager", "url", cfg.URL(), "nodes", len(c.Nodes()))
	return c, nil
}

// Nodes returns a snapshot of the nodes the manager currently reports.
func (c *Client) Nodes() []thymio.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]thymio.Node, len(c.nodes))
	for i, n := range c.nodes {
		out[i] = n
	}
	return out
}

// Node returns a node by ID, or nil.
func (c *Client) Node(id string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byID[id]
}

// Sleep waits for d while notifications keep being processed.
func (c *Client) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// WaitForNode blocks until a new node appears or ctx ends.
func (c *Client) WaitForNode(ctx context.Context) error {
	c.mu.Lock()
	changed := c.nodesChanged
	c.mu.Unlock()

	select {
	case <-changed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Refresh asks the manager for its node list.
func (c *Client) Refresh(ctx context.Context) error {
	reply, err := c.request(ctx, protocol.TypeListNodes, "", func(id string) (*protocol.Message, error) {
		return protocol.NewListNodesMessage(id)
	})
	if err != nil {
		return err
	}
	return c.applyNodes(reply)
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. Pending requests fail with ErrClosed.
// Safe to call more than once.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	c.wsMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wsMu.Unlock()

	c.shutdown(ErrClosed)
	return c.ws.Close()
}

// request sends a message built with a fresh ID and waits for its reply.
// An error reply becomes a *RemoteError.
func (c *Client) request(ctx context.Context, op protocol.MessageType, node string, build func(id string) (*protocol.Message, error)) (*protocol.Message, error) {
	if c.cfg.RequestTimeout > 0 && op != protocol.TypeLock {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	msg, err := build(id)
	if err != nil {
		return nil, err
	}

	replyCh := make(chan *protocol.Message, 1)
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[id] = replyCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(msg); err != nil {
		return nil, err
	}
	c.requestsSent.Add(1)

	var reply *protocol.Message
	select {
	case reply = <-replyCh:
	case <-ctx.Done():
		return nil, fmt.Errorf("tdm: %s: %w", op, ctx.Err())
	case <-c.done:
		select {
		case reply = <-replyCh:
		default:
			return nil, ErrClosed
		}
	}

	if reply.Type == protocol.TypeError {
		c.remoteErrors.Add(1)
		data, _ := reply.GetErrorData()
		remote := &RemoteError{Op: string(op), Node: node}
		if data != nil {
			remote.Message = data.Message
		}
		return nil, remote
	}
	return reply, nil
}

// call sends a node request that expects a plain ack.
func (c *Client) call(ctx context.Context, op protocol.MessageType, node string, build func(id string) (*protocol.Message, error)) error {
	reply, err := c.request(ctx, op, node, build)
	if err != nil {
		return err
	}
	if reply.Type != protocol.TypeAck {
		return fmt.Errorf("%w: %s to %s", ErrUnexpectedReply, reply.Type, op)
	}
	return nil
}

func (c *Client) send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("tdm: write %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("connection lost", "error", err)
			}
			c.shutdown(err)
			_ = c.ws.Close()
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Warn("dropping malformed message", "error", err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg *protocol.Message) {
	if msg.IsReply() {
		c.repliesRecv.Add(1)
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if ok {
			ch <- msg
		} else {
			c.logger.Debug("reply for unknown request", "id", msg.ID, "type", msg.Type)
		}
		return
	}

	c.eventsRecv.Add(1)
	switch msg.Type {
	case protocol.TypeNodes:
		if err := c.applyNodes(msg); err != nil {
			c.logger.Warn("bad node list", "error", err)
		}

	case protocol.TypeVariables:
		data, err := msg.GetVariablesData()
		if err != nil {
			c.logger.Warn("bad variables event", "error", err)
			return
		}
		node := c.Node(msg.Node)
		if node == nil {
			c.logger.Debug("variables for unknown node", "node", msg.Node)
			return
		}
		c.variablesBatch.Add(1)
		c.events.push(event{node: node, vars: thymio.Variables(data.Variables)})

	default:
		c.logger.Debug("ignoring event", "type", msg.Type)
	}
}

// applyNodes replaces the node list, keeping existing Node values so that
// watchers survive updates.
func (c *Client) applyNodes(msg *protocol.Message) error {
	data, err := msg.GetNodesData()
	if err != nil {
		return fmt.Errorf("tdm: parse node list: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	added := false
	nodes := make([]*Node, 0, len(data.Nodes))
	for _, info := range data.Nodes {
		n, ok := c.byID[info.ID]
		if !ok {
			n = &Node{client: c, id: info.ID}
			c.byID[info.ID] = n
			added = true
		}
		n.update(info)
		nodes = append(nodes, n)
	}
	c.nodes = nodes

	if added {
		close(c.nodesChanged)
		c.nodesChanged = make(chan struct{})
	}
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		close(c.done)
		c.mu.Unlock()
	})
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Stats returns client statistics.
func (c *Client) Stats() Stats {
	return Stats{
		RequestsSent:    c.requestsSent.Load(),
		RepliesReceived: c.repliesRecv.Load(),
		EventsReceived:  c.eventsRecv.Load(),
		RemoteErrors:    c.remoteErrors.Load(),
		VariableBatches: c.variablesBatch.Load(),
	}
}

// Stats contains client statistics.
type Stats struct {
	RequestsSent    int64 `json:"requests_sent"`
	RepliesReceived int64 `json:"replies_received"`
	EventsReceived  int64 `json:"events_received"`
	RemoteErrors    int64 `json:"remote_errors"`
	VariableBatches int64 `json:"variable_batches"`
}
