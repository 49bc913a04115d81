// Package sim is a simulated Thymio device manager.
//
// It speaks the pkg/protocol websocket protocol, hosts one or more simulated
// robots, enforces node locks, interprets the micro-programs produced by the
// command encoder and streams sensor variables from a simple physics model.
package sim

import (
	"fmt"
	"time"
)

// Config holds simulator configuration.
type Config struct {
	// Port is the HTTP/websocket listen port.
	Port int `yaml:"port" json:"port" mapstructure:"port"`

	// Password, when set, must be presented in the hello message.
	Password string `yaml:"password" json:"-" mapstructure:"password"`

	// Robots are the display names of the simulated robots.
	Robots []string `yaml:"robots" json:"robots" mapstructure:"robots"`

	// Tick is the physics step and variable push interval.
	Tick time.Duration `yaml:"tick" json:"tick" mapstructure:"tick"`

	// WallDistance is the starting distance to the obstacle ahead, in mm.
	WallDistance float64 `yaml:"wall_distance" json:"wall_distance" mapstructure:"wall_distance"`

	// Temperature is the ambient temperature in Celsius.
	Temperature float64 `yaml:"temperature" json:"temperature" mapstructure:"temperature"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:         8597,
		Robots:       []string{"thymio-sim"},
		Tick:         100 * time.Millisecond,
		WallDistance: 300,
		Temperature:  22,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive")
	}
	if c.WallDistance < 0 {
		return fmt.Errorf("wall_distance must not be negative")
	}
	seen := make(map[string]bool, len(c.Robots))
	for _, name := range c.Robots {
		if name == "" {
			return fmt.Errorf("robot names must not be empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate robot name '%s'", name)
		}
		seen[name] = true
	}
	return nil
}
