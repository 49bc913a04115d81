// Package bridge relays a Thymio over MQTT: variable batches are published
// as JSON and commands arrive on per-node topics.
//
// Topics:
//
//	<prefix>/<node>/variables          outgoing batches
//	<prefix>/<node>/cmd/motors         {"left": 100, "right": 100}
//	<prefix>/<node>/cmd/leds/top       {"hex": "#FF0000"} or {"color": "red"}
//	<prefix>/<node>/cmd/sound/system   {"sound": "beep"}
//	<prefix>/<node>/cmd/sound/play     {"file": "p1"}
package bridge

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds MQTT bridge configuration.
type Config struct {
	// BrokerURL, e.g. "mqtt://localhost:1883".
	BrokerURL string `yaml:"broker_url" json:"broker_url" mapstructure:"broker_url"`

	// ClientID must be unique on the broker.
	ClientID string `yaml:"client_id" json:"client_id" mapstructure:"client_id"`

	// Prefix is the first topic level.
	Prefix string `yaml:"prefix" json:"prefix" mapstructure:"prefix"`

	// Node restricts accepted commands to one node name. Empty accepts any.
	Node string `yaml:"node" json:"node" mapstructure:"node"`

	Username string `yaml:"username" json:"username" mapstructure:"username"`
	Password string `yaml:"password" json:"-" mapstructure:"password"`

	// KeepAlive in seconds.
	KeepAlive uint16 `yaml:"keep_alive" json:"keep_alive" mapstructure:"keep_alive"`

	// CommandTimeout bounds each command sent to the robot.
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout" mapstructure:"command_timeout"`
}

// DefaultConfig returns a Config for a broker on localhost.
func DefaultConfig() Config {
	return Config{
		BrokerURL:      "mqtt://localhost:1883",
		ClientID:       "thymio-bridge-" + uuid.NewString()[:8],
		Prefix:         "thymio",
		KeepAlive:      20,
		CommandTimeout: 2 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("bridge: broker_url is required")
	}
	if _, err := url.Parse(c.BrokerURL); err != nil {
		return fmt.Errorf("bridge: invalid broker_url: %w", err)
	}
	if c.ClientID == "" {
		return fmt.Errorf("bridge: client_id is required")
	}
	if c.Prefix == "" || strings.ContainsAny(c.Prefix, "+#") {
		return fmt.Errorf("bridge: invalid prefix %q", c.Prefix)
	}
	if strings.ContainsAny(c.Node, "/+#") {
		return fmt.Errorf("bridge: invalid node %q", c.Node)
	}
	if c.CommandTimeout < 0 {
		return fmt.Errorf("bridge: command_timeout must not be negative")
	}
	return nil
}

// VariablesTopic returns the topic batches for node are published on.
func (c Config) VariablesTopic(node string) string {
	return c.Prefix + "/" + node + "/variables"
}

// CommandFilter returns the subscription filter for incoming commands.
func (c Config) CommandFilter() string {
	node := c.Node
	if node == "" {
		node = "+"
	}
	return c.Prefix + "/" + node + "/cmd/#"
}
