package thymio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Options configures a Thymio facade.
type Options struct {
	// Fahrenheit reports temperature in Fahrenheit to callbacks.
	Fahrenheit bool

	// IsolatedCallbacks runs each subscription on its own goroutine.
	IsolatedCallbacks bool

	Logger *slog.Logger
}

// Config combines session and facade options for Connect and Run.
type Config struct {
	Session SessionConfig
	Options Options
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Session: DefaultSessionConfig(),
		Options: Options{Fahrenheit: true},
	}
}

// Thymio is the command and subscription surface for one locked robot.
type Thymio struct {
	session *Session
	router  *Router
	logger  *slog.Logger
}

// New wraps a locked session. Variable batches from the session's node are
// routed to callbacks registered with RegisterCallback.
func New(session *Session, opts Options) (*Thymio, error) {
	node := session.Node()
	if node == nil {
		return nil, ErrNotLocked
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("node", node.Name())

	t := &Thymio{
		session: session,
		router: NewRouter(node, RouterConfig{
			Fahrenheit: opts.Fahrenheit,
			Isolated:   opts.IsolatedCallbacks,
			Logger:     logger,
		}),
		logger: logger,
	}
	node.WatchVariables(t.router.Dispatch)
	return t, nil
}

// Connect opens a session against mgr and wraps it.
func Connect(ctx context.Context, mgr Manager, cfg Config) (*Thymio, error) {
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = cfg.Options.Logger
	}
	session, err := Open(ctx, mgr, cfg.Session)
	if err != nil {
		return nil, err
	}
	t, err := New(session, cfg.Options)
	if err != nil {
		_ = session.Disconnect(ctx)
		return nil, err
	}
	return t, nil
}

// Run connects, calls fn and always disconnects afterwards, including when
// fn fails or panics.
func Run(ctx context.Context, mgr Manager, cfg Config, fn func(ctx context.Context, t *Thymio) error) (err error) {
	t, err := Connect(ctx, mgr, cfg)
	if err != nil {
		return err
	}
	defer func() {
		// The run context may already be cancelled; unlocking still has to
		// reach the manager.
		closeErr := t.Close(context.WithoutCancel(ctx))
		err = errors.Join(err, closeErr)
	}()
	return fn(ctx, t)
}

// Session returns the underlying session.
func (t *Thymio) Session() *Session {
	return t.session
}

// Node returns the locked node, or nil once closed.
func (t *Thymio) Node() Node {
	return t.session.Node()
}

// Close stops callbacks and unlocks the node. Safe to call repeatedly.
func (t *Thymio) Close(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.router.Close()
	return t.session.Disconnect(ctx)
}

// RegisterCallback subscribes cb to batches that contain every key.
// With no keys, cb receives every batch.
func (t *Thymio) RegisterCallback(cb Callback, keys ...string) *Subscription {
	return t.router.Register(cb, keys...)
}

// Execute sends an encoded command to the locked node.
//
// Programs are compiled and then run; a failed compile skips the run.
func (t *Thymio) Execute(ctx context.Context, cmd Command) error {
	node := t.session.Node()
	if node == nil {
		return raise(t.logger, ErrNotLocked)
	}

	switch cmd.Kind {
	case KindVariableWrite:
		t.logger.Debug("setting variables", "variables", cmd.Variables)
		if err := node.SetVariables(ctx, cmd.Variables); err != nil {
			return raise(t.logger, &CommandFailureError{Step: "set_variables", Err: err})
		}
	case KindProgram:
		t.logger.Debug("running program", "program", cmd.Program)
		if err := node.Compile(ctx, cmd.Program); err != nil {
			return raise(t.logger, &CommandFailureError{Step: "compile", Program: cmd.Program, Err: err})
		}
		if err := node.Run(ctx); err != nil {
			return raise(t.logger, &CommandFailureError{Step: "run", Program: cmd.Program, Err: err})
		}
	default:
		return fmt.Errorf("thymio: unknown command kind %v", cmd.Kind)
	}
	return nil
}

// Motors sets the wheel targets, clamped to [-500, 500].
func (t *Thymio) Motors(ctx context.Context, left, right int) error {
	return t.Execute(ctx, MotorsCommand(left, right))
}

// CircleLeds sets the ring LEDs: front, front-right, right, back-right,
// back, back-left, left, front-left. Range 0..32.
func (t *Thymio) CircleLeds(ctx context.Context, ring [8]int) error {
	return t.Execute(ctx, CircleLedsCommand(ring))
}

// TopLeds sets the top RGB LED.
func (t *Thymio) TopLeds(ctx context.Context, color LEDColor) error {
	return t.colorLed(ctx, LEDTop, color)
}

// BottomLeftLed sets the bottom-left RGB LED.
func (t *Thymio) BottomLeftLed(ctx context.Context, color LEDColor) error {
	return t.colorLed(ctx, LEDBottomLeft, color)
}

// BottomRightLed sets the bottom-right RGB LED.
func (t *Thymio) BottomRightLed(ctx context.Context, color LEDColor) error {
	return t.colorLed(ctx, LEDBottomRight, color)
}

func (t *Thymio) colorLed(ctx context.Context, led LED, color LEDColor) error {
	cmd, err := ColorLedCommand(led, color)
	if err != nil {
		return raise(t.logger, err)
	}
	return t.Execute(ctx, cmd)
}

// ButtonLeds sets the arrow-button LEDs.
func (t *Thymio) ButtonLeds(ctx context.Context, front, right, back, left int) error {
	return t.Execute(ctx, ButtonLedsCommand(front, right, back, left))
}

// ReceiverLed sets the remote-control receiver LED.
func (t *Thymio) ReceiverLed(ctx context.Context, power int) error {
	return t.Execute(ctx, ReceiverLedCommand(power))
}

// TemperatureLeds sets the temperature LEDs. By default the firmware lights
// red above 28C and blue below 15C.
func (t *Thymio) TemperatureLeds(ctx context.Context, redPower, bluePower int) error {
	return t.Execute(ctx, TemperatureLedsCommand(redPower, bluePower))
}

// MicrophoneLed sets the microphone LED.
func (t *Thymio) MicrophoneLed(ctx context.Context, power int) error {
	return t.Execute(ctx, MicrophoneLedCommand(power))
}

// PlaySystemSound plays a built-in sound.
func (t *Thymio) PlaySystemSound(ctx context.Context, s Sound) error {
	return t.Execute(ctx, SystemSoundCommand(s))
}

// PlaySoundFile plays a file from the SD card.
func (t *Thymio) PlaySoundFile(ctx context.Context, name string) error {
	return t.Execute(ctx, PlaySoundFileCommand(name))
}

// StartSoundRecording records into slot id on the SD card.
func (t *Thymio) StartSoundRecording(ctx context.Context, id int) error {
	return t.Execute(ctx, StartRecordingCommand(id))
}

// StopSoundRecording stops the current recording.
func (t *Thymio) StopSoundRecording(ctx context.Context) error {
	return t.Execute(ctx, StopRecordingCommand())
}

// ReplaySound plays back a recorded slot.
func (t *Thymio) ReplaySound(ctx context.Context, id int) error {
	return t.Execute(ctx, ReplaySoundCommand(id))
}
