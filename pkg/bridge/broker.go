package bridge

import (
	"fmt"
	"log/slog"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

// BrokerConfig configures the embedded broker.
type BrokerConfig struct {
	// Addr is the TCP listen address, e.g. ":1883".
	Addr string `yaml:"addr" json:"addr" mapstructure:"addr"`

	// Username and Password, when set, are required from remote clients.
	// Local connections are always allowed.
	Username string `yaml:"username" json:"username" mapstructure:"username"`
	Password string `yaml:"password" json:"-" mapstructure:"password"`
}

// Broker is an in-process MQTT broker with an inline client.
type Broker struct {
	server *mochi.Server
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
}

// StartBroker starts an embedded broker listening on cfg.Addr.
func StartBroker(cfg BrokerConfig, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt-broker")

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       logger,
	})

	if cfg.Username == "" {
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, fmt.Errorf("bridge: broker auth: %w", err)
		}
	} else {
		err := server.AddHook(new(auth.Hook), &auth.Options{
			Ledger: &auth.Ledger{
				Auth: auth.AuthRules{
					{Username: auth.RString(cfg.Username), Password: auth.RString(cfg.Password), Allow: true},
					{Remote: "127.0.0.1:*", Allow: true},
					{Remote: "localhost:*", Allow: true},
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("bridge: broker auth: %w", err)
		}
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: cfg.Addr})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("bridge: broker listen on %s: %w", cfg.Addr, err)
	}

	go func() {
		if err := server.Serve(); err != nil {
			logger.Error("broker stopped", "error", err)
		}
	}()

	logger.Info("mqtt broker listening", "addr", cfg.Addr)
	return &Broker{server: server, logger: logger, nextID: 1}, nil
}

// Publish sends a message from the inline client.
func (b *Broker) Publish(topic string, payload []byte, retain bool) error {
	return b.server.Publish(topic, payload, retain, 0)
}

// Subscribe registers an inline handler for filter.
func (b *Broker) Subscribe(filter string, fn func(topic string, payload []byte)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.mu.Unlock()
	return b.server.Subscribe(filter, id, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		fn(pk.TopicName, pk.Payload)
	})
}

// Close stops the broker.
func (b *Broker) Close() error {
	return b.server.Close()
}
