// Package config loads go-thymio configuration from defaults, an optional
// YAML file, .env files and THYMIO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-thymio/internal/log"
	"github.com/teslashibe/go-thymio/pkg/bridge"
	"github.com/teslashibe/go-thymio/pkg/recorder"
	"github.com/teslashibe/go-thymio/pkg/sim"
	"github.com/teslashibe/go-thymio/pkg/tdm"
	"github.com/teslashibe/go-thymio/pkg/thymio"
	"github.com/teslashibe/go-thymio/pkg/web"
)

// EnvPrefix prefixes every environment override, e.g. THYMIO_MANAGER_PORT.
const EnvPrefix = "THYMIO"

// EnvFile names the config file when no path is given explicitly.
const EnvFile = EnvPrefix + "_CONFIG"

const masked = "********"

// Config is the full go-thymio configuration.
type Config struct {
	Manager   tdm.Config          `yaml:"manager" json:"manager" mapstructure:"manager"`
	Session   Session             `yaml:"session" json:"session" mapstructure:"session"`
	Log       log.Options         `yaml:"log" json:"log" mapstructure:"log"`
	Dashboard web.Config          `yaml:"dashboard" json:"dashboard" mapstructure:"dashboard"`
	MQTT      bridge.Config       `yaml:"mqtt" json:"mqtt" mapstructure:"mqtt"`
	Broker    bridge.BrokerConfig `yaml:"broker" json:"broker" mapstructure:"broker"`
	Recorder  recorder.Config     `yaml:"recorder" json:"recorder" mapstructure:"recorder"`
	Sim       sim.Config          `yaml:"sim" json:"sim" mapstructure:"sim"`
}

// Session holds node selection and facade options.
type Session struct {
	// Node selects a node by display name.
	Node string `yaml:"node" json:"node" mapstructure:"node"`

	// Prompt always asks which node to use.
	Prompt bool `yaml:"prompt" json:"prompt" mapstructure:"prompt"`

	// Fahrenheit reports temperature in Fahrenheit.
	Fahrenheit bool `yaml:"fahrenheit" json:"fahrenheit" mapstructure:"fahrenheit"`

	// DiscoveryDelay is how long to wait for the manager to list nodes.
	DiscoveryDelay time.Duration `yaml:"discovery_delay" json:"discovery_delay" mapstructure:"discovery_delay"`

	// Isolated runs each callback on its own goroutine.
	Isolated bool `yaml:"isolated" json:"isolated" mapstructure:"isolated"`

	// Program is the control loop run by the CLI.
	Program string `yaml:"program" json:"program" mapstructure:"program"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	th := thymio.DefaultConfig()
	return Config{
		Manager: tdm.DefaultConfig(),
		Session: Session{
			Fahrenheit:     th.Options.Fahrenheit,
			DiscoveryDelay: th.Session.DiscoveryDelay,
			Program:        "test",
		},
		Log:       log.Options{Level: "info"},
		Dashboard: web.DefaultConfig(),
		MQTT:      bridge.DefaultConfig(),
		Broker:    bridge.BrokerConfig{Addr: ":1883"},
		Recorder:  recorder.DefaultConfig(),
		Sim:       sim.DefaultConfig(),
	}
}

// Thymio converts the session settings for thymio.Connect. The selector is
// left for the caller.
func (s Session) Thymio() thymio.Config {
	cfg := thymio.DefaultConfig()
	cfg.Session.NodeName = s.Node
	cfg.Session.ForcePrompt = s.Prompt
	cfg.Session.DiscoveryDelay = s.DiscoveryDelay
	cfg.Options.Fahrenheit = s.Fahrenheit
	cfg.Options.IsolatedCallbacks = s.Isolated
	return cfg
}

// Load reads configuration. path, or $THYMIO_CONFIG when path is empty,
// names an optional YAML file; a named file that cannot be read is an error.
// Environment variables override both, e.g. THYMIO_SESSION_NODE.
func Load(path string) (Config, error) {
	v := viper.New()
	if err := setDefaults(v, Default()); err != nil {
		return Config{}, err
	}

	if path == "" {
		path = os.Getenv(EnvFile)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return c, nil
}

// setDefaults registers every key of def with v so that environment
// overrides apply to keys missing from the file.
func setDefaults(v *viper.Viper, def Config) error {
	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("config: encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("config: decode defaults: %w", err)
	}
	walk("", tree, v.SetDefault)
	return nil
}

func walk(prefix string, tree map[string]any, set func(string, any)) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			walk(key, sub, set)
			continue
		}
		set(key, val)
	}
}

// LoadDotEnv loads environment variables from path. Missing files are ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Manager.Validate(); err != nil {
		return fmt.Errorf("config: manager: %w", err)
	}
	if c.Session.DiscoveryDelay < 0 {
		return fmt.Errorf("config: session: discovery_delay must not be negative")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Dashboard.Validate(); err != nil {
		return fmt.Errorf("config: dashboard: %w", err)
	}
	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("config: mqtt: %w", err)
	}
	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("config: recorder: %w", err)
	}
	if err := c.Sim.Validate(); err != nil {
		return fmt.Errorf("config: sim: %w", err)
	}
	return nil
}

// Dump renders cfg as YAML with passwords masked.
func Dump(cfg Config) (string, error) {
	for _, p := range []*string{
		&cfg.Manager.Password,
		&cfg.MQTT.Password,
		&cfg.Broker.Password,
		&cfg.Sim.Password,
	} {
		if *p != "" {
			*p = masked
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("config: dump: %w", err)
	}
	return string(data), nil
}
