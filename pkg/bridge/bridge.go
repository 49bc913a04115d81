package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/teslashibe/go-thymio/pkg/thymio"
)

// Errors returned by the bridge.
var (
	ErrNotStarted     = errors.New("bridge: not started")
	ErrBadCommand     = errors.New("bridge: malformed command")
	ErrUnknownCommand = errors.New("bridge: unknown command")
)

// Commander executes robot commands. *thymio.Thymio implements it.
type Commander interface {
	Motors(ctx context.Context, left, right int) error
	TopLeds(ctx context.Context, color thymio.LEDColor) error
	PlaySystemSound(ctx context.Context, s thymio.Sound) error
	PlaySoundFile(ctx context.Context, name string) error
}

// Bridge connects one Commander to an MQTT broker.
type Bridge struct {
	cfg    Config
	cmd    Commander
	logger *slog.Logger

	mu         sync.Mutex
	cm         *autopaho.ConnectionManager
	ctx        context.Context
	subscribed chan struct{}
	subOnce    sync.Once

	published atomic.Int64
	commands  atomic.Int64
	dropped   atomic.Int64
}

// Stats holds bridge counters.
type Stats struct {
	Published int64 `json:"published"`
	Commands  int64 `json:"commands"`
	Dropped   int64 `json:"dropped"`
}

// New creates a bridge. cmd may be nil for a publish-only bridge.
func New(cfg Config, cmd Commander, logger *slog.Logger) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:        cfg,
		cmd:        cmd,
		logger:     logger.With("component", "bridge"),
		subscribed: make(chan struct{}),
	}, nil
}

// Start connects to the broker and returns once the command subscription is
// in place. The connection is kept up until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	u, err := url.Parse(b.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("bridge: invalid broker_url: %w", err)
	}

	filter := b.cfg.CommandFilter()
	cliCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{u},
		KeepAlive:                     b.cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		ConnectUsername:               b.cfg.Username,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connection up", "broker", b.cfg.BrokerURL)
			if b.cmd == nil {
				b.markSubscribed()
				return
			}
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: 1}},
			}); err != nil {
				b.logger.Error("failed to subscribe", "filter", filter, "error", err)
				return
			}
			b.logger.Debug("subscribed", "filter", filter)
			b.markSubscribed()
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection attempt failed", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					b.handle(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				b.logger.Warn("mqtt client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				b.logger.Warn("mqtt server requested disconnect", "reason_code", d.ReasonCode)
			},
		},
	}
	if b.cfg.Password != "" {
		cliCfg.ConnectPassword = []byte(b.cfg.Password)
	}

	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return fmt.Errorf("bridge: connect: %w", err)
	}
	b.mu.Lock()
	b.cm = cm
	b.ctx = ctx
	b.mu.Unlock()

	if err := cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("bridge: await connection: %w", err)
	}
	select {
	case <-b.subscribed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) markSubscribed() {
	b.subOnce.Do(func() { close(b.subscribed) })
}

// Done is closed when the connection manager has shut down.
func (b *Bridge) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cm == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return b.cm.Done()
}

// Publish sends a batch for node as JSON.
func (b *Bridge) Publish(ctx context.Context, node string, batch thymio.Variables) error {
	b.mu.Lock()
	cm := b.cm
	b.mu.Unlock()
	if cm == nil {
		return ErrNotStarted
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("bridge: encode batch: %w", err)
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.cfg.VariablesTopic(node),
		QoS:     0,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("bridge: publish: %w", err)
	}
	b.published.Add(1)
	return nil
}

// Attach publishes every batch the facade receives.
func (b *Bridge) Attach(t *thymio.Thymio) *thymio.Subscription {
	return t.RegisterCallback(func(node thymio.Node, vars thymio.Variables) {
		ctx, cancel := context.WithTimeout(b.context(), 2*time.Second)
		defer cancel()
		if err := b.Publish(ctx, node.Name(), vars); err != nil {
			b.logger.Debug("dropping batch", "node", node.Name(), "error", err)
		}
	})
}

func (b *Bridge) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// Stats returns bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Commands:  b.commands.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// handle executes one command message. Bad messages are logged and dropped.
func (b *Bridge) handle(ctx context.Context, topic string, payload []byte) {
	if err := b.execute(ctx, topic, payload); err != nil {
		b.dropped.Add(1)
		b.logger.Warn("dropping command", "topic", topic, "error", err)
		return
	}
	b.commands.Add(1)
}

func (b *Bridge) execute(ctx context.Context, topic string, payload []byte) error {
	if b.cmd == nil {
		return ErrUnknownCommand
	}
	command, ok := b.commandName(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, topic)
	}

	if b.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.CommandTimeout)
		defer cancel()
	}

	switch command {
	case "motors":
		var p struct {
			Left  *int `json:"left"`
			Right *int `json:"right"`
		}
		if err := decode(payload, &p); err != nil {
			return err
		}
		if p.Left == nil || p.Right == nil {
			return fmt.Errorf("%w: left and right are required", ErrBadCommand)
		}
		return b.cmd.Motors(ctx, *p.Left, *p.Right)

	case "leds/top":
		var p struct {
			Hex   string `json:"hex"`
			Color string `json:"color"`
		}
		if err := decode(payload, &p); err != nil {
			return err
		}
		switch {
		case p.Hex != "":
			return b.cmd.TopLeds(ctx, thymio.Hex(p.Hex))
		case p.Color != "":
			c, err := thymio.ParseColor(p.Color)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrBadCommand, err)
			}
			return b.cmd.TopLeds(ctx, thymio.Named(c))
		}
		return fmt.Errorf("%w: hex or color is required", ErrBadCommand)

	case "sound/system":
		var p struct {
			Sound string `json:"sound"`
		}
		if err := decode(payload, &p); err != nil {
			return err
		}
		s, err := thymio.ParseSound(p.Sound)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadCommand, err)
		}
		return b.cmd.PlaySystemSound(ctx, s)

	case "sound/play":
		var p struct {
			File string `json:"file"`
		}
		if err := decode(payload, &p); err != nil {
			return err
		}
		if p.File == "" {
			return fmt.Errorf("%w: file is required", ErrBadCommand)
		}
		return b.cmd.PlaySoundFile(ctx, p.File)
	}
	return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
}

// commandName strips "<prefix>/<node>/cmd/" from topic.
func (b *Bridge) commandName(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.cfg.Prefix+"/")
	if !ok {
		return "", false
	}
	node, rest, ok := strings.Cut(rest, "/")
	if !ok || node == "" || (b.cfg.Node != "" && node != b.cfg.Node) {
		return "", false
	}
	return strings.CutPrefix(rest, "cmd/")
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	return nil
}
