// thymio: run a named control loop against a Thymio device manager
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/teslashibe/go-thymio/internal/config"
	"github.com/teslashibe/go-thymio/internal/log"
	"github.com/teslashibe/go-thymio/pkg/bridge"
	"github.com/teslashibe/go-thymio/pkg/programs"
	"github.com/teslashibe/go-thymio/pkg/recorder"
	"github.com/teslashibe/go-thymio/pkg/selector"
	"github.com/teslashibe/go-thymio/pkg/sim"
	"github.com/teslashibe/go-thymio/pkg/tdm"
	"github.com/teslashibe/go-thymio/pkg/thymio"
	"github.com/teslashibe/go-thymio/pkg/web"
)

// refreshWait bounds how long the node prompt's refresh entry waits.
const refreshWait = 2 * time.Second

type options struct {
	configPath string
	envPath    string

	listPrograms bool
	printConfig  bool

	sim          bool
	dashboard    bool
	mqtt         string
	mqttEmbedded bool
	record       string
}

// bridged reports whether batches also leave the process. Those subscribers
// may block on I/O, so each gets its own goroutine.
func (o options) bridged() bool {
	return o.mqtt != "" || o.mqttEmbedded || o.record != ""
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Critical("thymio failed", "error", err)
		_ = log.Close()
		os.Exit(1)
	}
	_ = log.Close()
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	registry := programs.Default()

	fs := flag.NewFlagSet("thymio", flag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "YAML config file (default $"+config.EnvFile+")")
	fs.StringVar(&opts.envPath, "env", ".env", ".env file to load, ignored when missing")
	fs.BoolVar(&opts.listPrograms, "list-programs", false, "print the available programs and exit")
	fs.BoolVar(&opts.printConfig, "print-config", false, "print the effective configuration and exit")
	fs.BoolVar(&opts.sim, "sim", false, "run against an in-process simulated manager")
	fs.BoolVar(&opts.dashboard, "dashboard", false, "serve the live dashboard")
	fs.StringVar(&opts.mqtt, "mqtt", "", "MQTT broker URL to bridge to, e.g. mqtt://localhost:1883")
	fs.BoolVar(&opts.mqttEmbedded, "mqtt-embedded", false, "start an embedded MQTT broker and bridge to it")
	fs.StringVar(&opts.record, "record", "", "record telemetry to this SQLite file")

	// Config-backed flags; only flags given on the command line override.
	loglevel := fs.String("loglevel", "info", "log level: critical, error, warn, info, debug")
	clientAddr := fs.String("client_addr", "localhost", "device manager host")
	clientPort := fs.Int("client_port", 8597, "device manager port")
	clientPassword := fs.String("client_password", "", "device manager password")
	program := fs.String("program", "test", "program to run")
	node := fs.String("node", "", "node name to use")
	prompt := fs.Bool("prompt", false, "always ask which node to use")
	fahrenheit := fs.Bool("fahrenheit", true, "report temperature in Fahrenheit")
	delay := fs.Duration("delay", thymio.DefaultDiscoveryDelay, "node discovery delay")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.LoadDotEnv(opts.envPath); err != nil {
		return fmt.Errorf("load %s: %w", opts.envPath, err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "loglevel":
			cfg.Log.Level = *loglevel
		case "client_addr":
			cfg.Manager.Addr = *clientAddr
		case "client_port":
			cfg.Manager.Port = *clientPort
		case "client_password":
			cfg.Manager.Password = *clientPassword
		case "program":
			cfg.Session.Program = *program
		case "node":
			cfg.Session.Node = *node
		case "prompt":
			cfg.Session.Prompt = *prompt
		case "fahrenheit":
			cfg.Session.Fahrenheit = *fahrenheit
		case "delay":
			cfg.Session.DiscoveryDelay = *delay
		case "record":
			cfg.Recorder.Path = opts.record
		case "mqtt":
			cfg.MQTT.BrokerURL = opts.mqtt
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	if opts.listPrograms {
		for _, name := range registry.Names() {
			fmt.Fprintf(stdout, "%-16s %s\n", name, registry.Description(name))
		}
		return nil
	}
	if opts.printConfig {
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, out)
		return nil
	}

	prog, err := registry.Lookup(cfg.Session.Program)
	if err != nil {
		return err
	}

	if err := log.Init(cfg.Log); err != nil {
		return err
	}
	logger := log.L()

	if opts.sim {
		addr, err := startSim(ctx, cfg.Sim, logger)
		if err != nil {
			return err
		}
		cfg.Manager.Addr = addr.IP.String()
		cfg.Manager.Port = addr.Port
		cfg.Manager.Password = cfg.Sim.Password
	}

	if opts.mqttEmbedded {
		broker, err := bridge.StartBroker(cfg.Broker, logger)
		if err != nil {
			return err
		}
		defer broker.Close()
		if opts.mqtt == "" {
			url, err := localBrokerURL(cfg.Broker.Addr)
			if err != nil {
				return err
			}
			cfg.MQTT.BrokerURL = url
		}
	}

	var rec *recorder.Recorder
	if opts.record != "" {
		rec, err = recorder.Open(cfg.Recorder, logger)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	client, err := tdm.Dial(ctx, cfg.Manager, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	thCfg := cfg.Session.Thymio()
	thCfg.Session.Selector = selector.NewPrompt(client, refreshWait)
	thCfg.Options.Logger = logger
	if opts.bridged() {
		thCfg.Options.IsolatedCallbacks = true
	}

	err = runRecorded(ctx, rec, client, thCfg, func(ctx context.Context, th *thymio.Thymio) error {
		if opts.dashboard {
			srv, err := web.NewServer(cfg.Dashboard, th, logger)
			if err != nil {
				return err
			}
			srv.Attach(th)
			go func() {
				if err := srv.ListenAndServe(ctx); err != nil {
					logger.Error("dashboard stopped", "error", err)
				}
			}()
		}

		if opts.mqtt != "" || opts.mqttEmbedded {
			b, err := bridge.New(cfg.MQTT, th, logger)
			if err != nil {
				return err
			}
			if err := b.Start(ctx); err != nil {
				return err
			}
			b.Attach(th)
		}

		logger.Info("running program", "program", cfg.Session.Program, "node", th.Node().Name())
		return prog(ctx, programs.Env{
			Thymio:  th,
			Manager: client,
			Logger:  logger,
			In:      stdin,
			Out:     stdout,
		})
	})
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted")
		return nil
	}
	return err
}

// runRecorded runs fn on a locked node. When rec is set, the node's batches
// are recorded into a new episode that ends once the node is released, so
// no batch arrives after the episode is closed.
func runRecorded(ctx context.Context, rec *recorder.Recorder, mgr thymio.Manager, cfg thymio.Config, fn func(ctx context.Context, th *thymio.Thymio) error) error {
	if rec == nil {
		return thymio.Run(ctx, mgr, cfg, fn)
	}

	var episode string
	err := thymio.Run(ctx, mgr, cfg, func(ctx context.Context, th *thymio.Thymio) error {
		id, err := rec.StartEpisode(ctx, th.Node().Name())
		if err != nil {
			return err
		}
		episode = id
		rec.Attach(th, episode)
		return fn(ctx, th)
	})
	if episode == "" {
		return err
	}
	endErr := rec.EndEpisode(context.WithoutCancel(ctx), episode, outcome(err))
	return errors.Join(err, endErr)
}

// startSim serves a simulated manager on a loopback port until ctx ends.
func startSim(ctx context.Context, cfg sim.Config, logger *slog.Logger) (*net.TCPAddr, error) {
	srv, err := sim.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("sim: listen: %w", err)
	}
	go func() {
		if err := srv.Serve(ctx, ln); err != nil {
			logger.Error("simulator stopped", "error", err)
		}
	}()
	return ln.Addr().(*net.TCPAddr), nil
}

func localBrokerURL(addr string) (string, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("broker addr %q: %w", addr, err)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("broker addr %q: invalid port", addr)
	}
	return "mqtt://127.0.0.1:" + port, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	default:
		return err.Error()
	}
}
