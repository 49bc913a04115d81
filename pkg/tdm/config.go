// Package tdm connects to a Thymio device manager over a websocket and
// exposes it as a thymio.Manager.
//
// This package handles:
//   - The hello/welcome handshake, with an optional password
//   - Node discovery and change notifications
//   - Request/reply correlation for lock, compile, run and variable writes
//   - Fan-out of variable notifications to node watchers
package tdm

import (
	"fmt"
	"time"
)

// Config holds manager client configuration.
type Config struct {
	// Addr is the manager host.
	Addr string `yaml:"addr" json:"addr" mapstructure:"addr"`

	// Port is the manager websocket port.
	Port int `yaml:"port" json:"port" mapstructure:"port"`

	// Password is sent in the hello message when set.
	Password string `yaml:"password" json:"-" mapstructure:"password"`

	// Path is the websocket endpoint on the manager.
	Path string `yaml:"path" json:"path" mapstructure:"path"`

	// RequestTimeout bounds every request except lock, which waits for
	// the caller's context.
	// 0 disables the timeout.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" mapstructure:"request_timeout"`

	// HandshakeTimeout bounds the websocket upgrade.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout" mapstructure:"handshake_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:             "localhost",
		Port:             8597,
		Path:             "/ws",
		RequestTimeout:   5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	return nil
}

// URL returns the websocket URL of the manager.
func (c *Config) URL() string {
	path := c.Path
	if path == "" {
		path = "/"
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf("ws://%s:%d%s", c.Addr, c.Port, path)
}
