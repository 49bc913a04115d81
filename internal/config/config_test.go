package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvFile, "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	def := Default()
	assert.Equal(t, def.Manager, cfg.Manager)
	assert.Equal(t, def.Session, cfg.Session)
	assert.Equal(t, def.Sim.Robots, cfg.Sim.Robots)
	assert.Equal(t, 5*time.Second, cfg.Manager.RequestTimeout)
	assert.True(t, cfg.Session.Fahrenheit)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "thymio.yaml", `
manager:
  addr: 192.168.1.20
  port: 9000
session:
  node: alpha
  discovery_delay: 2s
sim:
  robots: [alpha, beta]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.20", cfg.Manager.Addr)
	assert.Equal(t, 9000, cfg.Manager.Port)
	assert.Equal(t, "/ws", cfg.Manager.Path, "unset keys keep defaults")
	assert.Equal(t, "alpha", cfg.Session.Node)
	assert.Equal(t, 2*time.Second, cfg.Session.DiscoveryDelay)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Sim.Robots)
}

func TestLoad_FileFromEnv(t *testing.T) {
	path := writeFile(t, "thymio.yaml", "log:\n  level: debug\n")
	t.Setenv(EnvFile, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "thymio.yaml", "manager:\n  port: 9000\n")
	t.Setenv("THYMIO_MANAGER_PORT", "9100")
	t.Setenv("THYMIO_SESSION_PROGRAM", "avoid_obstacles")
	t.Setenv("THYMIO_MQTT_PREFIX", "lab")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Manager.Port)
	assert.Equal(t, "avoid_obstacles", cfg.Session.Program)
	assert.Equal(t, "lab", cfg.MQTT.Prefix)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")), "missing file is ignored")

	path := writeFile(t, ".env", "THYMIO_TEST_DOTENV=loaded\n")
	t.Cleanup(func() { os.Unsetenv("THYMIO_TEST_DOTENV") })
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("THYMIO_TEST_DOTENV"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"manager port", func(c *Config) { c.Manager.Port = 0 }},
		{"discovery delay", func(c *Config) { c.Session.DiscoveryDelay = -time.Second }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"dashboard port", func(c *Config) { c.Dashboard.Port = 70000 }},
		{"mqtt prefix", func(c *Config) { c.MQTT.Prefix = "a/#" }},
		{"recorder path", func(c *Config) { c.Recorder.Path = "" }},
		{"sim tick", func(c *Config) { c.Sim.Tick = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSession_Thymio(t *testing.T) {
	s := Session{Node: "alpha", Prompt: true, Fahrenheit: false, DiscoveryDelay: time.Second, Isolated: true}
	cfg := s.Thymio()

	assert.Equal(t, "alpha", cfg.Session.NodeName)
	assert.True(t, cfg.Session.ForcePrompt)
	assert.Equal(t, time.Second, cfg.Session.DiscoveryDelay)
	assert.False(t, cfg.Options.Fahrenheit)
	assert.True(t, cfg.Options.IsolatedCallbacks)
}

func TestDump_MasksPasswords(t *testing.T) {
	cfg := Default()
	cfg.Manager.Password = "hunter2"
	cfg.MQTT.Password = "secret"

	out, err := Dump(cfg)
	require.NoError(t, err)

	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, masked)
	assert.Contains(t, out, "request_timeout: 5s")
	assert.Equal(t, "hunter2", cfg.Manager.Password, "caller's config is untouched")
	assert.True(t, strings.HasPrefix(out, "manager:"))
}
