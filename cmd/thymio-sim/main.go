// thymio-sim: simulated Thymio device manager for development without a robot
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/teslashibe/go-thymio/internal/config"
	"github.com/teslashibe/go-thymio/internal/log"
	"github.com/teslashibe/go-thymio/pkg/sim"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Critical("thymio-sim failed", "error", err)
		_ = log.Close()
		os.Exit(1)
	}
	_ = log.Close()
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("thymio-sim", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (default $"+config.EnvFile+")")
	envPath := fs.String("env", ".env", ".env file to load, ignored when missing")
	printConfig := fs.Bool("print-config", false, "print the effective simulator configuration and exit")
	loglevel := fs.String("loglevel", "info", "log level: critical, error, warn, info, debug")
	port := fs.Int("port", 8597, "listen port")
	password := fs.String("password", "", "password clients must send")
	robots := fs.String("robots", "thymio-sim", "comma-separated robot names")
	tick := fs.Duration("tick", 0, "physics step (default from config)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := config.LoadDotEnv(*envPath); err != nil {
		return fmt.Errorf("load %s: %w", *envPath, err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "loglevel":
			cfg.Log.Level = *loglevel
		case "port":
			cfg.Sim.Port = *port
		case "password":
			cfg.Sim.Password = *password
		case "robots":
			cfg.Sim.Robots = splitNames(*robots)
		case "tick":
			cfg.Sim.Tick = *tick
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	if *printConfig {
		out, err := config.Dump(config.Config{Sim: cfg.Sim, Log: cfg.Log})
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, out)
		return nil
	}

	if err := log.Init(cfg.Log); err != nil {
		return err
	}
	srv, err := sim.New(cfg.Sim, log.L())
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Thymio simulator: ws://localhost:%d/ws, robots: %s\n", cfg.Sim.Port, strings.Join(cfg.Sim.Robots, ", "))
	return srv.ListenAndServe(ctx)
}

func splitNames(s string) []string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
