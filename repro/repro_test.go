package repro

import (
	"testing"
	"time"

	"github.com/relacs/relacsd/engine"
	"github.com/relacs/relacsd/options"
)

// blockingRePro sleeps until it is stopped one way or the other.
type blockingRePro struct {
	outcomes chan Outcome
}

func (r *blockingRePro) Name() string              { return "Blocker" }
func (r *blockingRePro) Options() *options.Options { return options.Parse("duration=10s") }
func (r *blockingRePro) Main(ctx *Context) Outcome {
	for !ctx.SoftStop() {
		if err := ctx.Sleep(0.005); err != nil {
			return Aborted
		}
	}
	return Completed
}

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	eng := engine.New()
	eng.DisableReader = true
	eng.Printlog = t.Logf
	rt := NewRuntime(eng)
	rt.Printlog = t.Logf
	return rt
}

func TestSoftStopCompletes(t *testing.T) {
	rt := newRuntime(t)
	rp := &blockingRePro{}
	rt.Add(rp)

	done := make(chan Outcome, 1)
	rt.OnDone = func(name string, oc Outcome) { done <- oc }
	if err := rt.Start("Blocker", nil, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !rt.Busy() {
		t.Fatalf("runtime not busy after Start")
	}
	rt.SoftStop()
	select {
	case oc := <-done:
		if oc != Completed {
			t.Errorf("outcome==%v after soft stop, want Completed", FormatOutcome(oc))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("soft stop did not terminate the protocol")
	}
}

func TestInterruptAborts(t *testing.T) {
	rt := newRuntime(t)
	rt.Add(&blockingRePro{})

	done := make(chan Outcome, 1)
	rt.OnDone = func(name string, oc Outcome) { done <- oc }
	if err := rt.Start("Blocker", nil, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rt.Interrupt()
	select {
	case oc := <-done:
		if oc != Aborted {
			t.Errorf("outcome==%v after interrupt, want Aborted", FormatOutcome(oc))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not terminate the protocol")
	}
}

func TestUnknownRePro(t *testing.T) {
	rt := newRuntime(t)
	if err := rt.Start("Nope", nil, false); err == nil {
		t.Errorf("starting an unknown protocol succeeded")
	}
}

func TestOptionsMerged(t *testing.T) {
	rt := newRuntime(t)
	got := make(chan string, 1)
	rt.Add(&optionRePro{got: got})
	if err := rt.Start("Optioned", options.Parse("duration=0.5s"), false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case s := <-got:
		if s != "duration=0.5s; repeats=3" {
			t.Errorf("options==%q, want duration=0.5s; repeats=3", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("protocol never ran")
	}
	rt.Wait()
}

type optionRePro struct {
	got chan string
}

func (r *optionRePro) Name() string              { return "Optioned" }
func (r *optionRePro) Options() *options.Options { return options.Parse("duration=0.2s; repeats=3") }
func (r *optionRePro) Main(ctx *Context) Outcome {
	r.got <- ctx.Opts.String()
	return Completed
}

func TestCountTracksRuns(t *testing.T) {
	rt := newRuntime(t)
	rt.Add(&optionRePro{got: make(chan string, 4)})
	for i := 0; i < 3; i++ {
		if err := rt.Start("Optioned", nil, false); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		rt.Wait()
	}
	if rt.Count() != 3 {
		t.Errorf("Count()==%d, want 3", rt.Count())
	}
	rt.ResetCount()
	if rt.Count() != 0 {
		t.Errorf("Count() after reset==%d, want 0", rt.Count())
	}
}

func TestSleepInterrupted(t *testing.T) {
	eng := engine.New()
	eng.DisableReader = true
	ctx := newContext(eng, options.New(), false)
	start := time.Now()
	go func() {
		time.Sleep(10 * time.Millisecond)
		ctx.Interrupt()
	}()
	if err := ctx.Sleep(10.0); err != ErrInterrupted {
		t.Errorf("Sleep returned %v, want ErrInterrupted", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Sleep did not return promptly on interrupt")
	}
	if err := ctx.Sleep(0.001); err != ErrInterrupted {
		t.Errorf("Sleep after interrupt returned %v, want ErrInterrupted", err)
	}
}
