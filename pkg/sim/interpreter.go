package sim

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrCompile is matched by every *CompileError.
var ErrCompile = errors.New("sim: compile error")

// CompileError reports the first invalid line of a program.
type CompileError struct {
	Line int
	Msg  string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Is allows errors.Is(err, ErrCompile) to match.
func (e *CompileError) Is(target error) bool {
	return target == ErrCompile
}

// Call is one parsed native function call.
type Call struct {
	Fn   string
	Args []string
}

// Ints returns the arguments as integers. Compile has already validated them.
func (c Call) Ints() []int {
	out := make([]int, len(c.Args))
	for i, a := range c.Args {
		out[i], _ = strconv.Atoi(a)
	}
	return out
}

type native struct {
	arity int
	// raw arguments are passed through as names instead of integers.
	raw bool
}

var natives = map[string]native{
	"leds.top":          {arity: 3},
	"leds.bottom.left":  {arity: 3},
	"leds.bottom.right": {arity: 3},
	"leds.circle":       {arity: 8},
	"leds.buttons":      {arity: 4},
	"leds.rc":           {arity: 1},
	"leds.temperature":  {arity: 2},
	"leds.microphone":   {arity: 1},
	"sound.system":      {arity: 1},
	"sound.play":        {arity: 1, raw: true},
	"sound.record":      {arity: 1},
	"sound.replay":      {arity: 1},
}

var callPattern = regexp.MustCompile(`^call\s+([a-z]+(?:\.[a-z]+)*)\s*\((.*)\)$`)

// Compile parses a program of one native call per line.
// Blank lines and lines starting with '#' are skipped.
func Compile(program string) ([]Call, error) {
	var calls []Call
	for i, line := range strings.Split(program, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		m := callPattern.FindStringSubmatch(line)
		if m == nil {
			return nil, &CompileError{Line: i + 1, Msg: fmt.Sprintf("syntax error near '%s'", line)}
		}
		fn, argText := m[1], strings.TrimSpace(m[2])

		native, ok := natives[fn]
		if !ok {
			return nil, &CompileError{Line: i + 1, Msg: fmt.Sprintf("unknown function '%s'", fn)}
		}

		var args []string
		if argText != "" {
			for _, a := range strings.Split(argText, ",") {
				args = append(args, strings.TrimSpace(a))
			}
		}
		if len(args) != native.arity {
			return nil, &CompileError{Line: i + 1, Msg: fmt.Sprintf("%s expects %d arguments, got %d", fn, native.arity, len(args))}
		}
		for _, a := range args {
			if a == "" {
				return nil, &CompileError{Line: i + 1, Msg: "empty argument"}
			}
			if native.raw {
				continue
			}
			if _, err := strconv.Atoi(a); err != nil {
				return nil, &CompileError{Line: i + 1, Msg: fmt.Sprintf("%s expects integer arguments, got '%s'", fn, a)}
			}
		}

		calls = append(calls, Call{Fn: fn, Args: args})
	}

	if len(calls) == 0 {
		return nil, &CompileError{Line: 1, Msg: "empty program"}
	}
	return calls, nil
}
