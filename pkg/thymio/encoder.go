package thymio

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// CommandKind identifies how a Command reaches the node.
type CommandKind int

const (
	// KindVariableWrite commands are sent with Node.SetVariables.
	KindVariableWrite CommandKind = iota
	// KindProgram commands are compiled and then run.
	KindProgram
)

func (k CommandKind) String() string {
	switch k {
	case KindVariableWrite:
		return "variable_write"
	case KindProgram:
		return "program"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is an encoded actuator or indicator command.
type Command struct {
	Kind      CommandKind
	Variables map[string][]int
	Program   string
}

func (c Command) String() string {
	if c.Kind == KindProgram {
		return c.Program
	}
	return fmt.Sprintf("%v", c.Variables)
}

// Limits for recorded sound slots.
const (
	MinSoundID = 0
	MaxSoundID = 32767
)

// ledScale maps an 8-bit channel onto the 0..32 LED intensity range.
const ledScale = 7.96875

var hexColorPattern = regexp.MustCompile(`^#?[0-9A-Fa-f]{6}$`)

// clamp restricts v to the range [min, max].
func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// call formats a micro-program that invokes a single native function.
func call(fn string, args ...string) string {
	return fmt.Sprintf("call %s(%s)", fn, strings.Join(args, ", "))
}

func ints(vals ...int) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = strconv.Itoa(v)
	}
	return out
}

func program(fn string, args ...int) Command {
	return Command{Kind: KindProgram, Program: call(fn, ints(args...)...)}
}

// MotorsCommand sets both wheel targets, each clamped to [-500, 500].
func MotorsCommand(left, right int) Command {
	return Command{
		Kind: KindVariableWrite,
		Variables: map[string][]int{
			VarMotorLeftTarget:  {clamp(left, MinMotorTarget, MaxMotorTarget)},
			VarMotorRightTarget: {clamp(right, MinMotorTarget, MaxMotorTarget)},
		},
	}
}

// CircleLedsCommand sets the eight ring LEDs, starting at the front and going
// clockwise. Values are passed through unchanged (0..32 is meaningful).
func CircleLedsCommand(ring [8]int) Command {
	return program("leds.circle", ring[:]...)
}

// RGB is a color expressed in device LED intensities (0..32 per channel).
type RGB struct {
	R, G, B int
}

// LEDColor describes the color of an RGB LED. Hex wins over Color, which
// wins over RGB.
type LEDColor struct {
	Hex   string
	Color Color
	RGB   RGB
}

// Hex returns an LEDColor from a "#RRGGBB" or "RRGGBB" string.
func Hex(s string) LEDColor {
	return LEDColor{Hex: s}
}

// Named returns an LEDColor from a predefined color.
func Named(c Color) LEDColor {
	return LEDColor{Color: c}
}

// Intensities returns an LEDColor from raw device intensities.
func Intensities(r, g, b int) LEDColor {
	return LEDColor{RGB: RGB{R: r, G: g, B: b}}
}

// Resolve returns the device intensities for the color.
func (c LEDColor) Resolve() (RGB, error) {
	switch {
	case c.Hex != "":
		return HexToRGB(c.Hex)
	case c.Color != 0:
		if !c.Color.Valid() {
			return RGB{}, &InvalidColorError{Value: c.Color.String()}
		}
		return HexToRGB(c.Color.Hex())
	default:
		return c.RGB, nil
	}
}

// HexToRGB parses a hex color and scales each channel to LED intensity.
func HexToRGB(s string) (RGB, error) {
	if !hexColorPattern.MatchString(s) {
		return RGB{}, &InvalidColorError{Value: s}
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil {
		return RGB{}, &InvalidColorError{Value: s}
	}
	return RGB{
		R: scaleChannel(uint8(v >> 16)),
		G: scaleChannel(uint8(v >> 8)),
		B: scaleChannel(uint8(v)),
	}, nil
}

func scaleChannel(ch uint8) int {
	return int(math.Floor(float64(ch) / ledScale))
}

// ColorLedCommand sets one of the RGB LEDs.
func ColorLedCommand(led LED, color LEDColor) (Command, error) {
	fn := led.Function()
	if fn == "" {
		return Command{}, fmt.Errorf("thymio: unknown LED %d", int(led))
	}
	rgb, err := color.Resolve()
	if err != nil {
		return Command{}, err
	}
	return program("leds."+fn, rgb.R, rgb.G, rgb.B), nil
}

// ButtonLedsCommand sets the four arrow-button LEDs.
func ButtonLedsCommand(front, right, back, left int) Command {
	return program("leds.buttons", front, right, back, left)
}

// ReceiverLedCommand sets the remote-control receiver LED.
func ReceiverLedCommand(power int) Command {
	return program("leds.rc", power)
}

// TemperatureLedsCommand sets the red and blue temperature LEDs.
func TemperatureLedsCommand(redPower, bluePower int) Command {
	return program("leds.temperature", redPower, bluePower)
}

// MicrophoneLedCommand sets the microphone LED.
func MicrophoneLedCommand(power int) Command {
	return program("leds.microphone", power)
}

// SystemSoundCommand plays a built-in sound.
func SystemSoundCommand(s Sound) Command {
	return program("sound.system", s.Code())
}

// PlaySoundFileCommand plays a sound file from the SD card.
func PlaySoundFileCommand(name string) Command {
	return Command{Kind: KindProgram, Program: call("sound.play", name)}
}

// StartRecordingCommand records the microphone into slot id (0..32767).
func StartRecordingCommand(id int) Command {
	return program("sound.record", clamp(id, MinSoundID, MaxSoundID))
}

// StopRecordingCommand stops an ongoing recording.
func StopRecordingCommand() Command {
	return program("sound.record", -1)
}

// ReplaySoundCommand replays a recorded slot (0..32767).
func ReplaySoundCommand(id int) Command {
	return program("sound.replay", clamp(id, MinSoundID, MaxSoundID))
}
