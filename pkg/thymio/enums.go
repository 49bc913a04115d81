package thymio

import (
	"fmt"
	"strings"
)

// Color is a predefined LED color. The zero value means "no color set".
type Color int

// Predefined colors.
const (
	Red Color = iota + 1
	Green
	Blue
	Yellow
	Cyan
	Magenta
	White
	Off
)

var colorHex = map[Color]string{
	Red:     "#FF0000",
	Green:   "#00FF00",
	Blue:    "#0000FF",
	Yellow:  "#FFFF00",
	Cyan:    "#00FFFF",
	Magenta: "#FF00FF",
	White:   "#FFFFFF",
	Off:     "#000000",
}

var colorNames = map[Color]string{
	Red:     "RED",
	Green:   "GREEN",
	Blue:    "BLUE",
	Yellow:  "YELLOW",
	Cyan:    "CYAN",
	Magenta: "MAGENTA",
	White:   "WHITE",
	Off:     "OFF",
}

// Hex returns the color as a "#RRGGBB" string, or "" for an unknown color.
func (c Color) Hex() string {
	return colorHex[c]
}

// Valid reports whether c is one of the predefined colors.
func (c Color) Valid() bool {
	_, ok := colorHex[c]
	return ok
}

func (c Color) String() string {
	if name, ok := colorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Color(%d)", int(c))
}

// ParseColor looks up a color by name, case-insensitively.
func ParseColor(name string) (Color, error) {
	for c, n := range colorNames {
		if strings.EqualFold(n, name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("thymio: unknown color %q", name)
}

// Sound is a built-in system sound.
type Sound int

// System sounds, numbered as the firmware expects them.
const (
	SoundStartup Sound = iota
	SoundShutdown
	SoundArrowButton
	SoundCenterButton
	SoundAlarm
	SoundShock
	SoundFollowing
	SoundProximity
	SoundStop
)

var soundNames = [...]string{
	SoundStartup:      "STARTUP",
	SoundShutdown:     "SHUTDOWN",
	SoundArrowButton:  "ARROW_BTN",
	SoundCenterButton: "CENTER_BTN",
	SoundAlarm:        "ALARM",
	SoundShock:        "SCHOCK",
	SoundFollowing:    "FOLLOWING",
	SoundProximity:    "PROXIMITY",
	SoundStop:         "STOP",
}

// Code returns the firmware sound code.
func (s Sound) Code() int {
	return int(s)
}

// Valid reports whether s is a known system sound.
func (s Sound) Valid() bool {
	return s >= SoundStartup && s <= SoundStop
}

func (s Sound) String() string {
	if s.Valid() {
		return soundNames[s]
	}
	return fmt.Sprintf("Sound(%d)", int(s))
}

// ParseSound looks up a sound by name, case-insensitively.
func ParseSound(name string) (Sound, error) {
	for i, n := range soundNames {
		if strings.EqualFold(n, name) {
			return Sound(i), nil
		}
	}
	return 0, fmt.Errorf("thymio: unknown sound %q", name)
}

// LED identifies one of the RGB LEDs.
type LED int

// RGB LEDs.
const (
	LEDTop LED = iota
	LEDBottomLeft
	LEDBottomRight
)

var ledFunctions = [...]string{
	LEDTop:         "top",
	LEDBottomLeft:  "bottom.left",
	LEDBottomRight: "bottom.right",
}

// Function returns the micro-program function name within the leds namespace.
func (l LED) Function() string {
	if l < LEDTop || l > LEDBottomRight {
		return ""
	}
	return ledFunctions[l]
}

func (l LED) String() string {
	if fn := l.Function(); fn != "" {
		return fn
	}
	return fmt.Sprintf("LED(%d)", int(l))
}
