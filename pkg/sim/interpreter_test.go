package sim

import (
	"errors"
	"testing"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		program string
		wantFn  string
		wantLen int
		wantErr bool
	}{
		{"top led", "call leds.top(32, 0, 0)", "leds.top", 3, false},
		{"bottom led", "call leds.bottom.right(1, 2, 3)", "leds.bottom.right", 3, false},
		{"circle", "call leds.circle(0, 1, 2, 3, 4, 5, 6, 7)", "leds.circle", 8, false},
		{"negative arg", "call sound.record(-1)", "sound.record", 1, false},
		{"raw name", "call sound.play(p1)", "sound.play", 1, false},
		{"comments and blanks", "# hello\n\ncall leds.rc(3)\n", "leds.rc", 1, false},
		{"unknown function", "call leds.disco(1)", "", 0, true},
		{"wrong arity", "call leds.top(1, 2)", "", 0, true},
		{"non integer", "call leds.top(1, 2, x)", "", 0, true},
		{"empty arg", "call leds.top(1, , 3)", "", 0, true},
		{"syntax", "leds.top(1, 2, 3)", "", 0, true},
		{"empty program", "  \n", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, err := Compile(tt.program)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Compile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrCompile) {
					t.Errorf("error should match ErrCompile: %v", err)
				}
				return
			}
			if len(calls) != 1 {
				t.Fatalf("len(calls) = %d, want 1", len(calls))
			}
			if calls[0].Fn != tt.wantFn {
				t.Errorf("Fn = %q, want %q", calls[0].Fn, tt.wantFn)
			}
			if len(calls[0].Args) != tt.wantLen {
				t.Errorf("len(Args) = %d, want %d", len(calls[0].Args), tt.wantLen)
			}
		})
	}
}

func TestCompile_ReportsLine(t *testing.T) {
	_, err := Compile("call leds.top(1, 2, 3)\ncall nope()")

	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CompileError", err)
	}
	if ce.Line != 2 {
		t.Errorf("Line = %d, want 2", ce.Line)
	}
}

func TestCall_Ints(t *testing.T) {
	c := Call{Fn: "leds.top", Args: []string{"32", "-1", "0"}}
	got := c.Ints()
	if got[0] != 32 || got[1] != -1 || got[2] != 0 {
		t.Errorf("Ints() = %v", got)
	}
}
