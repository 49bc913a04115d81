// Package web provides a live dashboard and REST control surface for a
// locked Thymio.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-thymio/pkg/hub"
	"github.com/teslashibe/go-thymio/pkg/thymio"
)

// Config holds dashboard configuration.
type Config struct {
	Port int `yaml:"port" json:"port" mapstructure:"port"`

	// CommandTimeout bounds each robot command issued over REST.
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout" mapstructure:"command_timeout"`
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		CommandTimeout: 2 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("web: invalid port %d", c.Port)
	}
	return nil
}

// Commander executes robot commands. *thymio.Thymio implements it.
type Commander interface {
	Motors(ctx context.Context, left, right int) error
	TopLeds(ctx context.Context, color thymio.LEDColor) error
	PlaySystemSound(ctx context.Context, s thymio.Sound) error
}

// Status is the dashboard summary.
type Status struct {
	Node      string    `json:"node"`
	Connected bool      `json:"connected"`
	Clients   int       `json:"clients"`
	Batches   int64     `json:"batches"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Commands  int64     `json:"commands"`
}

// Update is broadcast on /ws/variables after every batch.
type Update struct {
	Node      string           `json:"node"`
	Time      time.Time        `json:"ts"`
	Changed   []string         `json:"changed"`
	Variables thymio.Variables `json:"variables"`
}

// Server is the dashboard server.
type Server struct {
	cfg    Config
	cmd    Commander
	logger *slog.Logger

	variablesHub *hub.Hub

	mu        sync.RWMutex
	node      string
	snapshot  thymio.Variables
	updatedAt time.Time

	batches  atomic.Int64
	commands atomic.Int64
}

// NewServer creates a dashboard. cmd may be nil for a read-only dashboard.
func NewServer(cfg Config, cmd Commander, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")
	return &Server{
		cfg:          cfg,
		cmd:          cmd,
		logger:       logger,
		variablesHub: hub.New("variables", logger),
		snapshot:     make(thymio.Variables),
	}, nil
}

// App builds the fiber application.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Thymio Dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/variables", s.handleVariables)
	api.Post("/motors", s.handleMotors)
	api.Post("/leds/top", s.handleTopLeds)
	api.Post("/sound/system", s.handleSystemSound)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/variables", websocket.New(s.handleVariablesWS))

	return app
}

// Serve runs the hub and serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	app := s.App()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hubDone := make(chan struct{})
	go func() {
		s.variablesHub.Run(ctx)
		close(hubDone)
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- app.Listener(ln) }()

	s.logger.Info("dashboard listening", "addr", ln.Addr().String())

	var err error
	select {
	case <-ctx.Done():
		err = app.Shutdown()
	case err = <-errCh:
	}
	cancel()
	<-hubDone
	return err
}

// ListenAndServe listens on the configured port and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("web: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Publish merges a batch into the snapshot and broadcasts it.
func (s *Server) Publish(node string, batch thymio.Variables) {
	changed := make([]string, 0, len(batch))

	s.mu.Lock()
	s.node = node
	for k, v := range batch {
		s.snapshot[k] = append([]float64(nil), v...)
		changed = append(changed, k)
	}
	s.updatedAt = time.Now()
	sort.Strings(changed)
	update := Update{
		Node:      node,
		Time:      s.updatedAt,
		Changed:   changed,
		Variables: s.snapshot.Clone(),
	}
	s.mu.Unlock()

	s.batches.Add(1)
	if err := s.variablesHub.BroadcastJSON(update); err != nil {
		s.logger.Warn("failed to broadcast variables", "error", err)
	}
}

// Attach publishes every batch the facade receives.
func (s *Server) Attach(t *thymio.Thymio) *thymio.Subscription {
	return t.RegisterCallback(func(node thymio.Node, vars thymio.Variables) {
		s.Publish(node.Name(), vars)
	})
}

// Status returns the dashboard summary.
func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Node:      s.node,
		Connected: s.cmd != nil,
		Clients:   s.variablesHub.ClientCount(),
		Batches:   s.batches.Load(),
		UpdatedAt: s.updatedAt,
		Commands:  s.commands.Load(),
	}
}

func (s *Server) current() Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.snapshot))
	for k := range s.snapshot {
		names = append(names, k)
	}
	sort.Strings(names)
	return Update{
		Node:      s.node,
		Time:      s.updatedAt,
		Changed:   names,
		Variables: s.snapshot.Clone(),
	}
}
