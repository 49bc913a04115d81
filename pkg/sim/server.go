package sim

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-thymio/pkg/protocol"
	"github.com/teslashibe/go-thymio/pkg/thymio"
)

// clientConn is one websocket client of the simulator.
type clientConn struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	mu     sync.Mutex
	authed bool
}

// Send sends a message to the client
func (c *clientConn) Send(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

func (c *clientConn) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

// Server is a simulated device manager.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	robots  []*Robot
	clients map[string]*clientConn

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	ticks            atomic.Uint64
}

// New creates a simulator with the robots named in cfg.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sim: invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger.With("component", "sim"),
		clients: make(map[string]*clientConn),
	}
	for _, name := range cfg.Robots {
		s.robots = append(s.robots, NewRobot(name, cfg.WallDistance, cfg.Temperature))
	}
	return s, nil
}

// AddRobot adds a robot and notifies connected clients.
func (s *Server) AddRobot(name string) *Robot {
	r := NewRobot(name, s.cfg.WallDistance, s.cfg.Temperature)
	s.mu.Lock()
	s.robots = append(s.robots, r)
	s.mu.Unlock()

	s.logger.Info("robot added", "name", name, "id", r.ID())
	s.broadcastNodes()
	return r
}

// Robots returns the simulated robots in creation order.
func (s *Server) Robots() []*Robot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Robot(nil), s.robots...)
}

// Robot returns a robot by ID, or nil.
func (s *Server) Robot(id string) *Robot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.robots {
		if r.ID() == id {
			return r
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) nodeInfos() []protocol.NodeInfo {
	robots := s.Robots()
	infos := make([]protocol.NodeInfo, len(robots))
	for i, r := range robots {
		infos[i] = r.Info()
	}
	return infos
}

// App returns a fiber app with the websocket and API routes registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	s.RegisterRoutes(app)
	s.RegisterAPIRoutes(app.Group("/api"))
	return app
}

// RegisterRoutes registers the manager websocket endpoint on a Fiber app
func (s *Server) RegisterRoutes(app *fiber.App) {
	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(s.handleClient))
}

// RegisterAPIRoutes registers the robot inspection API
func (s *Server) RegisterAPIRoutes(api fiber.Router) {
	robots := api.Group("/robots")

	robots.Get("/", func(c *fiber.Ctx) error {
		states := make([]RobotState, 0)
		for _, r := range s.Robots() {
			states = append(states, r.State())
		}
		return c.JSON(fiber.Map{
			"robots": states,
			"count":  len(states),
		})
	})

	robots.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.Stats())
	})

	robots.Get("/:id", func(c *fiber.Ctx) error {
		r := s.Robot(c.Params("id"))
		if r == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown robot"})
		}
		return c.JSON(r.State())
	})
}

// Serve runs the physics loop and serves HTTP on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	app := s.App()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runPhysics(ctx)
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- app.Listener(ln) }()

	s.logger.Info("simulated device manager listening", "addr", ln.Addr().String(), "robots", len(s.Robots()))

	var err error
	select {
	case <-ctx.Done():
		err = app.Shutdown()
	case err = <-errCh:
	}
	cancel()
	wg.Wait()
	return err
}

// ListenAndServe listens on the configured port and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("sim: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) runPhysics(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step(s.cfg.Tick)
		}
	}
}

// Step advances every robot by dt and pushes sensor batches to lock owners.
func (s *Server) Step(dt time.Duration) {
	s.ticks.Add(1)
	for _, r := range s.Robots() {
		vars := r.Step(dt.Seconds())
		if owner := r.Owner(); owner != "" {
			s.pushVariables(owner, r, vars)
		}
	}
}

// handleClient handles a client WebSocket connection
func (s *Server) handleClient(c *websocket.Conn) {
	client := &clientConn{
		ID:        uuid.NewString(),
		Conn:      c,
		Connected: time.Now(),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Debug("client connected", "client", client.ID, "total", count)

	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()

		released := false
		for _, r := range s.Robots() {
			if r.releaseIfOwner(client.ID) {
				s.logger.Info("lock released on disconnect", "robot", r.Name())
				released = true
			}
		}
		if released {
			s.broadcastNodes()
		}
		s.logger.Debug("client disconnected", "client", client.ID)
	}()

	// Read loop
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}

		s.messagesReceived.Add(1)
		if !s.handleMessage(client, data) {
			return
		}
	}
}

// handleMessage processes one request. It returns false to drop the client.
func (s *Server) handleMessage(client *clientConn, data []byte) bool {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.logger.Warn("parse error", "client", client.ID, "error", err)
		return true
	}

	if msg.Type == protocol.TypeHello {
		return s.handleHello(client, msg)
	}
	if !client.authenticated() {
		s.replyError(client, msg, "hello required")
		return true
	}

	switch msg.Type {
	case protocol.TypeListNodes:
		reply, _ := protocol.NewNodesMessage(msg.ID, s.nodeInfos())
		s.send(client, reply)
		return true
	case protocol.TypeLock, protocol.TypeUnlock, protocol.TypeCompile, protocol.TypeRun, protocol.TypeSetVariables:
	default:
		s.replyError(client, msg, fmt.Sprintf("unsupported message type '%s'", msg.Type))
		return true
	}

	r := s.Robot(msg.Node)
	if r == nil {
		s.replyError(client, msg, "unknown node")
		return true
	}

	switch msg.Type {
	case protocol.TypeLock:
		if err := r.lock(client.ID); err != nil {
			s.replyError(client, msg, err.Error())
			return true
		}
		s.ack(client, msg)
		s.broadcastNodes()
		return true

	case protocol.TypeUnlock:
		if err := r.unlock(client.ID); err != nil {
			s.replyError(client, msg, err.Error())
			return true
		}
		s.ack(client, msg)
		s.broadcastNodes()
		return true
	}

	if !r.ownedBy(client.ID) {
		s.replyError(client, msg, "node not locked")
		return true
	}

	switch msg.Type {
	case protocol.TypeCompile:
		data, err := msg.GetCompileData()
		if err != nil {
			s.replyError(client, msg, err.Error())
			return true
		}
		if err := r.compile(data.Program); err != nil {
			s.replyError(client, msg, err.Error())
			return true
		}
		s.ack(client, msg)

	case protocol.TypeRun:
		changed, err := r.run()
		if err != nil {
			s.replyError(client, msg, err.Error())
			return true
		}
		s.ack(client, msg)
		if len(changed) > 0 {
			s.pushVariables(client.ID, r, changed)
		}

	case protocol.TypeSetVariables:
		data, err := msg.GetSetVariablesData()
		if err != nil {
			s.replyError(client, msg, err.Error())
			return true
		}
		changed, err := r.setVariables(data.Variables)
		if err != nil {
			s.replyError(client, msg, err.Error())
			return true
		}
		s.ack(client, msg)
		s.pushVariables(client.ID, r, changed)
	}
	return true
}

func (s *Server) handleHello(client *clientConn, msg *protocol.Message) bool {
	hello, err := msg.GetHelloData()
	if err != nil {
		s.replyError(client, msg, err.Error())
		return false
	}
	if s.cfg.Password != "" && hello.Password != s.cfg.Password {
		s.logger.Warn("rejected client with bad password", "client", client.ID)
		s.replyError(client, msg, "invalid password")
		return false
	}

	client.mu.Lock()
	client.authed = true
	client.mu.Unlock()

	reply, _ := protocol.NewWelcomeMessage(msg.ID, s.nodeInfos())
	s.send(client, reply)
	return true
}

func (s *Server) ack(client *clientConn, req *protocol.Message) {
	reply, _ := protocol.NewAckMessage(req.ID, req.Node)
	s.send(client, reply)
}

func (s *Server) replyError(client *clientConn, req *protocol.Message, text string) {
	reply, _ := protocol.NewErrorMessage(req.ID, req.Node, text)
	s.send(client, reply)
}

func (s *Server) pushVariables(clientID string, r *Robot, vars thymio.Variables) {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	msg, err := protocol.NewVariablesMessage(r.ID(), vars)
	if err != nil {
		return
	}
	s.send(client, msg)
}

// broadcastNodes sends the node list to every authenticated client.
func (s *Server) broadcastNodes() {
	msg, err := protocol.NewNodesMessage("", s.nodeInfos())
	if err != nil {
		return
	}

	s.mu.RLock()
	clients := make([]*clientConn, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if c.authenticated() {
			s.send(c, msg)
		}
	}
}

func (s *Server) send(client *clientConn, msg *protocol.Message) {
	if err := client.Send(msg); err != nil {
		s.logger.Debug("send error", "client", client.ID, "error", err)
		return
	}
	s.messagesSent.Add(1)
}

// Stats contains simulator statistics
type Stats struct {
	Robots           int    `json:"robots"`
	Clients          int    `json:"clients"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Ticks            uint64 `json:"ticks"`
}

// Stats returns simulator statistics
func (s *Server) Stats() Stats {
	return Stats{
		Robots:           len(s.Robots()),
		Clients:          s.ClientCount(),
		MessagesReceived: s.messagesReceived.Load(),
		MessagesSent:     s.messagesSent.Load(),
		Ticks:            s.ticks.Load(),
	}
}
