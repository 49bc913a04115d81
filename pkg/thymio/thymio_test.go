package thymio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestThymio_MotorsSendsClampedPair(t *testing.T) {
	th, node := lockedThymio(Options{})

	if err := th.Motors(context.Background(), 900, -700); err != nil {
		t.Fatalf("Motors error: %v", err)
	}

	w := node.lastWrite()
	if w[VarMotorLeftTarget][0] != 500 || w[VarMotorRightTarget][0] != -500 {
		t.Errorf("write = %v, want left 500 right -500", w)
	}
	if _, _, compiles, _, _ := node.counts(); compiles != 0 {
		t.Error("Motors should not compile a program")
	}
}

func TestThymio_ProgramCompilesThenRuns(t *testing.T) {
	th, node := lockedThymio(Options{})

	if err := th.TopLeds(context.Background(), Hex("#FF0000")); err != nil {
		t.Fatalf("TopLeds error: %v", err)
	}

	if node.lastProgram() != "call leds.top(32, 0, 0)" {
		t.Errorf("program = %q", node.lastProgram())
	}
	if _, _, compiles, runs, _ := node.counts(); compiles != 1 || runs != 1 {
		t.Errorf("compiles=%d runs=%d, want 1/1", compiles, runs)
	}
}

func TestThymio_InvalidColorIssuesNoCall(t *testing.T) {
	th, node := lockedThymio(Options{})

	err := th.BottomLeftLed(context.Background(), Hex("#12345"))
	if !errors.Is(err, ErrInvalidColor) {
		t.Fatalf("err = %v, want ErrInvalidColor", err)
	}

	if _, _, compiles, runs, writes := node.counts(); compiles+runs+writes != 0 {
		t.Errorf("network calls issued for invalid color: compiles=%d runs=%d writes=%d", compiles, runs, writes)
	}
}

func TestThymio_CompileFailureSkipsRun(t *testing.T) {
	th, node := lockedThymio(Options{})
	node.compileErr = errors.New("syntax error")

	err := th.PlaySystemSound(context.Background(), SoundAlarm)

	var cf *CommandFailureError
	if !errors.As(err, &cf) {
		t.Fatalf("err = %v, want *CommandFailureError", err)
	}
	if cf.Step != "compile" {
		t.Errorf("Step = %q, want compile", cf.Step)
	}
	if !errors.Is(err, ErrCommandFailure) || !errors.Is(err, node.compileErr) {
		t.Errorf("error chain incomplete: %v", err)
	}
	if _, _, _, runs, _ := node.counts(); runs != 0 {
		t.Errorf("runs = %d after failed compile, want 0", runs)
	}
}

func TestThymio_RunFailure(t *testing.T) {
	th, node := lockedThymio(Options{})
	node.runErr = errors.New("vm busy")

	err := th.ReplaySound(context.Background(), 3)

	var cf *CommandFailureError
	if !errors.As(err, &cf) || cf.Step != "run" {
		t.Fatalf("err = %v, want run failure", err)
	}
}

func TestThymio_WriteFailure(t *testing.T) {
	th, node := lockedThymio(Options{})
	node.writeErr = errors.New("link down")

	err := th.Motors(context.Background(), 1, 1)
	if !errors.Is(err, ErrCommandFailure) {
		t.Fatalf("err = %v, want ErrCommandFailure", err)
	}
}

func TestThymio_NoCommandsAfterClose(t *testing.T) {
	th, node := lockedThymio(Options{})

	if err := th.Close(context.Background()); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := th.Close(context.Background()); err != nil {
		t.Fatalf("second Close error: %v", err)
	}

	if err := th.Motors(context.Background(), 1, 1); !errors.Is(err, ErrNotLocked) {
		t.Errorf("err = %v, want ErrNotLocked", err)
	}
	if _, unlocks, _, _, writes := node.counts(); unlocks != 1 || writes != 0 {
		t.Errorf("unlocks=%d writes=%d, want 1/0", unlocks, writes)
	}
}

func TestThymio_CallbacksReceiveNodeBatches(t *testing.T) {
	th, node := lockedThymio(Options{Fahrenheit: true})

	var temp float64
	var prox []float64
	th.RegisterCallback(func(_ Node, v Variables) { temp, _ = v.Scalar(VarTemperature) }, VarTemperature)
	th.RegisterCallback(func(_ Node, v Variables) { prox = v[VarProxHorizontal] }, VarProxHorizontal)

	node.emit(Variables{VarTemperature: {0}})
	node.emit(Variables{VarProxHorizontal: {0, 0, 4100, 0, 0, 0, 0}})

	if temp != 32 {
		t.Errorf("temperature = %v, want 32", temp)
	}
	if len(prox) != 7 || prox[ProxFront] != 4100 {
		t.Errorf("prox = %v", prox)
	}
}

func TestNew_RequiresLockedSession(t *testing.T) {
	var s *Session
	if _, err := New(s, Options{}); !errors.Is(err, ErrNotLocked) {
		t.Errorf("err = %v, want ErrNotLocked", err)
	}
}

func TestRun_AlwaysDisconnects(t *testing.T) {
	node := newMockNode("a", "alpha")
	mgr := &mockManager{nodes: []Node{node}}
	boom := errors.New("boom")

	err := Run(context.Background(), mgr, DefaultConfig(), func(ctx context.Context, th *Thymio) error {
		if err := th.Motors(ctx, 100, 100); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, unlocks, _, _, _ := node.counts(); unlocks != 1 {
		t.Errorf("unlocks = %d, want 1", unlocks)
	}
}

func TestRun_DisconnectsOnPanic(t *testing.T) {
	node := newMockNode("a", "alpha")
	mgr := &mockManager{nodes: []Node{node}}

	func() {
		defer func() { _ = recover() }()
		_ = Run(context.Background(), mgr, DefaultConfig(), func(context.Context, *Thymio) error {
			panic("control loop crashed")
		})
	}()

	if _, unlocks, _, _, _ := node.counts(); unlocks != 1 {
		t.Errorf("unlocks = %d, want 1", unlocks)
	}
}

func TestRun_OpenFailureSkipsFn(t *testing.T) {
	called := false
	err := Run(context.Background(), &mockManager{}, DefaultConfig(), func(context.Context, *Thymio) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNoNodeFound) {
		t.Errorf("err = %v, want ErrNoNodeFound", err)
	}
	if called {
		t.Error("fn should not run when no node was found")
	}
}

func TestThymio_CloseUnlocksWithHungCallback(t *testing.T) {
	th, node := lockedThymio(Options{IsolatedCallbacks: true})

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	th.RegisterCallback(func(Node, Variables) {
		close(started)
		<-block
	}, VarTemperature)

	node.emit(Variables{VarTemperature: {20}})
	<-started

	closed := make(chan error, 1)
	go func() { closed <- th.Close(context.Background()) }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a hung callback")
	}
	if _, unlocks, _, _, _ := node.counts(); unlocks != 1 {
		t.Errorf("unlocks = %d, want 1", unlocks)
	}
}
