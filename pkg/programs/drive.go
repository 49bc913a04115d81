package programs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/teslashibe/go-thymio/pkg/thymio"
)

// DriveConfig tunes keyboard teleoperation.
type DriveConfig struct {
	// Step is how far one key press moves an axis.
	Step float64

	// DeadZone on the steering axis.
	DeadZone float64

	MaxSpeed int

	// RumbleThreshold is the proximity reading where feedback starts.
	RumbleThreshold float64
	RumbleRange     float64
}

// DefaultDriveConfig returns the tuning used with a gamepad on the real robot.
func DefaultDriveConfig() DriveConfig {
	return DriveConfig{
		Step:            0.25,
		DeadZone:        0.1,
		MaxSpeed:        thymio.MaxMotorTarget,
		RumbleThreshold: 3000,
		RumbleRange:     1000,
	}
}

// Mix turns a steering axis lx in [-1, 1] and two triggers in [0, 1] into
// wheel speeds. rt drives forward, lt backwards. With no throttle the robot
// turns in place.
func Mix(lx, lt, rt float64, cfg DriveConfig) (left, right int) {
	if math.Abs(lx) <= cfg.DeadZone {
		lx = 0
	}
	top := float64(cfg.MaxSpeed)
	speed := int((rt - lt) * top)
	turn := int(math.Abs(lx) * top)

	switch {
	case speed == 0:
		switch {
		case lx > 0:
			return turn, -turn
		case lx < 0:
			return -turn, turn
		}
		return 0, 0
	case speed > 0:
		switch {
		case lx > 0:
			return speed, speed - turn
		case lx < 0:
			return speed - turn, speed
		}
	default:
		switch {
		case lx > 0:
			return speed, speed + turn
		case lx < 0:
			return speed + turn, speed
		}
	}
	return speed, speed
}

// Rumble maps the front sensors to left and right feedback strengths in
// [0, 1].
func Rumble(prox []float64, cfg DriveConfig) (left, right float64) {
	if len(prox) < 5 {
		return 0, 0
	}
	level := func(i int) float64 {
		return math.Min(math.Max(0, prox[i]-cfg.RumbleThreshold), cfg.RumbleRange)
	}
	fl, fml, f := level(thymio.ProxFrontLeft), level(thymio.ProxFrontMiddleLeft), level(thymio.ProxFront)
	fmr, fr := level(thymio.ProxFrontMiddleRight), level(thymio.ProxFrontRight)

	left = math.Max(fl, math.Max(fml, f)) / cfg.RumbleRange
	right = math.Max(f, math.Max(fmr, fr)) / cfg.RumbleRange
	return left, right
}

var (
	colorTitle  = lipgloss.Color("#89b4fa")
	colorFill   = lipgloss.Color("#a6e3a1")
	colorBack   = lipgloss.Color("#f38ba8")
	colorRumble = lipgloss.Color("#fab387")
	colorMuted  = lipgloss.Color("#7f849c")
	colorError  = lipgloss.Color("#f38ba8")
)

type proxMsg []float64

type motorsMsg struct {
	left, right int
	err         error
}

// driveModel is the teleop screen. Axes move with the arrow keys.
type driveModel struct {
	cfg    DriveConfig
	motors func(left, right int) error

	lx, lt, rt  float64
	left, right int
	rumbleL     float64
	rumbleR     float64
	err         error
	quitting    bool
}

func newDriveModel(cfg DriveConfig, motors func(left, right int) error) driveModel {
	return driveModel{cfg: cfg, motors: motors}
}

func (m driveModel) Init() tea.Cmd {
	return nil
}

func (m driveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case proxMsg:
		m.rumbleL, m.rumbleR = Rumble(msg, m.cfg)
	case motorsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m driveModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	step := m.cfg.Step
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "up", "w":
		if m.lt > 0 {
			m.lt = clamp01(m.lt - step)
		} else {
			m.rt = clamp01(m.rt + step)
		}
	case "down", "s":
		if m.rt > 0 {
			m.rt = clamp01(m.rt - step)
		} else {
			m.lt = clamp01(m.lt + step)
		}
	case "right", "d":
		m.lx = math.Min(1, m.lx+step)
	case "left", "a":
		m.lx = math.Max(-1, m.lx-step)
	case " ":
		m.lx, m.lt, m.rt = 0, 0, 0
	case "c":
		m.lx = 0
	default:
		return m, nil
	}
	return m, m.drive()
}

func (m *driveModel) drive() tea.Cmd {
	m.left, m.right = Mix(m.lx, m.lt, m.rt, m.cfg)
	left, right, motors := m.left, m.right, m.motors
	if motors == nil {
		return nil
	}
	return func() tea.Msg {
		return motorsMsg{left: left, right: right, err: motors(left, right)}
	}
}

func (m driveModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(colorTitle).Bold(true).Render("Thymio teleop"))
	b.WriteString("\n\n")
	b.WriteString(wheelBar("left ", m.left, m.cfg.MaxSpeed) + "\n")
	b.WriteString(wheelBar("right", m.right, m.cfg.MaxSpeed) + "\n\n")
	b.WriteString(rumbleBar("near L", m.rumbleL) + "  " + rumbleBar("near R", m.rumbleR) + "\n")
	if m.err != nil {
		b.WriteString("\n" + lipgloss.NewStyle().Foreground(colorError).Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + lipgloss.NewStyle().Foreground(colorMuted).Render("↑/↓ throttle  ←/→ steer  c center  space stop  q quit"))
	return b.String()
}

const barWidth = 20

func wheelBar(label string, speed, top int) string {
	n := 0
	if top > 0 {
		n = int(math.Round(math.Abs(float64(speed)) / float64(top) * barWidth))
	}
	n = min(n, barWidth)
	color := colorFill
	if speed < 0 {
		color = colorBack
	}
	fill := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", n))
	rest := lipgloss.NewStyle().Foreground(colorMuted).Render(strings.Repeat("░", barWidth-n))
	return fmt.Sprintf("%s %s%s %4d", label, fill, rest, speed)
}

func rumbleBar(label string, level float64) string {
	n := min(int(math.Round(level*10)), 10)
	fill := lipgloss.NewStyle().Foreground(colorRumble).Render(strings.Repeat("▮", n))
	rest := lipgloss.NewStyle().Foreground(colorMuted).Render(strings.Repeat("▯", 10-n))
	return label + " " + fill + rest
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// Drive runs a terminal teleop screen until the user quits. The motors are
// stopped on exit.
func Drive(cfg DriveConfig) Program {
	return func(ctx context.Context, env Env) error {
		logger := env.logger().With("program", "drive")
		th := env.Thymio

		motors := func(left, right int) error {
			reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return th.Motors(reqCtx, left, right)
		}

		opts := []tea.ProgramOption{tea.WithContext(ctx)}
		if env.In != nil {
			opts = append(opts, tea.WithInput(env.In))
		}
		if env.Out != nil {
			opts = append(opts, tea.WithOutput(env.Out))
		}
		p := tea.NewProgram(newDriveModel(cfg, motors), opts...)

		th.RegisterCallback(func(_ thymio.Node, vars thymio.Variables) {
			p.Send(proxMsg(vars[thymio.VarProxHorizontal]))
		}, thymio.VarProxHorizontal)

		final, runErr := p.Run()

		stopErr := th.Motors(context.WithoutCancel(ctx), 0, 0)
		if stopErr != nil {
			logger.Warn("failed to stop motors", "error", stopErr)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
			return fmt.Errorf("programs: drive: %w", runErr)
		}
		if m, ok := final.(driveModel); ok && m.err != nil {
			return errors.Join(m.err, stopErr)
		}
		return stopErr
	}
}
