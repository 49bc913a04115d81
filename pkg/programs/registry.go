// Package programs holds the named control loops the CLI can run against a
// locked Thymio.
package programs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/teslashibe/go-thymio/pkg/thymio"
)

// Sentinel errors for control loops.
var (
	// ErrUnknownProgram is returned by Lookup for unregistered names.
	ErrUnknownProgram = errors.New("programs: unknown program")

	// ErrTooClose stops obstacle avoidance when a front sensor is saturated.
	ErrTooClose = errors.New("programs: too close to an obstacle")

	// ErrDuplicateProgram is returned when a name is registered twice.
	ErrDuplicateProgram = errors.New("programs: duplicate program")
)

// Env is what a program gets to work with.
type Env struct {
	Thymio  *thymio.Thymio
	Manager thymio.Manager
	Logger  *slog.Logger

	// In and Out are the terminal for interactive programs.
	In  io.Reader
	Out io.Writer
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Program is a control loop. It returns when done, on ctx cancellation, or
// on a fatal condition.
type Program func(ctx context.Context, env Env) error

type entry struct {
	program     Program
	description string
}

// Registry maps names to programs.
type Registry struct {
	mu       sync.RWMutex
	programs map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{programs: make(map[string]entry)}
}

// Default returns a registry with the built-in programs.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister("test", "switch the top LED off and stop the motors", Test)
	r.MustRegister("avoid_obstacles", "drive forward and steer away from obstacles", AvoidObstacles(DefaultAvoidConfig()))
	r.MustRegister("drive", "keyboard teleoperation with proximity feedback", Drive(DefaultDriveConfig()))
	return r
}

// Register adds a program.
func (r *Registry) Register(name, description string, p Program) error {
	if name == "" || p == nil {
		return fmt.Errorf("programs: name and program are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.programs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProgram, name)
	}
	r.programs[name] = entry{program: p, description: description}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name, description string, p Program) {
	if err := r.Register(name, description, p); err != nil {
		panic(err)
	}
}

// Lookup returns a program by name. Unknown names suggest the closest match.
func (r *Registry) Lookup(name string) (Program, error) {
	r.mu.RLock()
	e, ok := r.programs[name]
	r.mu.RUnlock()
	if ok {
		return e.program, nil
	}

	if s := r.closest(name); s != "" {
		return nil, fmt.Errorf("%w '%s' (did you mean '%s'?)", ErrUnknownProgram, name, s)
	}
	return nil, fmt.Errorf("%w '%s'", ErrUnknownProgram, name)
}

// Description returns the one-line help for a program.
func (r *Registry) Description(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.programs[name].description
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.programs))
	for name := range r.programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) closest(name string) string {
	best, bestDist := "", 4
	for _, n := range r.Names() {
		if d := levenshtein.ComputeDistance(name, n); d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}

// Test switches the top LED off and stops the motors.
func Test(ctx context.Context, env Env) error {
	if err := env.Thymio.TopLeds(ctx, thymio.Named(thymio.Off)); err != nil {
		return err
	}
	return env.Thymio.Motors(ctx, 0, 0)
}
