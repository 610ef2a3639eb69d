// Package repro implements the research protocol runtime: the unit of
// experimental work with a Main that runs on its own goroutine, reads
// traces and events, writes stimuli through the engine, and is
// cooperatively stopped.
//
// Lifecycle: Init -> Main -> SaveData (when saving) -> done.  Soft stop
// is a polled flag checked between stimulus iterations; Interrupt
// cancels promptly, including the write family, which returns with an
// error as soon as the interrupt flag is set.
package repro

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/engine"
	"github.com/relacs/relacsd/options"
	"github.com/relacs/relacsd/util"
)

// Outcome is the completion state of a protocol run.
type Outcome int

const (
	// Completed means Main returned normally
	Completed Outcome = iota
	// Aborted means the run was interrupted
	Aborted
	// Failed means the run gave up on an error
	Failed
)

// FormatOutcome converts an outcome to its name.
func FormatOutcome(o Outcome) string {
	switch o {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	default:
		return ""
	}
}

// ErrInterrupted is returned by the write family and the sleep family
// when the protocol was asked to stop.
var ErrInterrupted = errors.New("repro interrupted")

// RePro is a research protocol plug-in.
type RePro interface {
	// Name identifies the protocol in macros and logs
	Name() string
	// Options returns the protocol's default options
	Options() *options.Options
	// Main runs the protocol; it polls ctx for stop requests
	Main(ctx *Context) Outcome
}

// Initializer is implemented by protocols that need per-run setup.
type Initializer interface {
	Init(ctx *Context) error
}

// Saver is implemented by protocols that persist their own analysis.
type Saver interface {
	SaveData(ctx *Context)
}

// SessionHooks is implemented by protocols that follow session
// transitions.
type SessionHooks interface {
	SessionStarted()
	SessionStopped(saved bool)
}

// Context is the interface a running protocol sees: trace access,
// stimulus output, timing, and stop state.
type Context struct {
	// Eng is the acquisition engine
	Eng *engine.Engine
	// Opts carries the protocol options of this run, defaults merged
	// with the macro command's parameters
	Opts *options.Options
	// StimulusData collects per-stimulus metadata for the data files
	StimulusData *options.Options
	// Saving reports whether data files are written for this run
	Saving bool
	// Printlog is the protocol's log sink
	Printlog func(format string, v ...interface{})

	interrupted chan struct{}
	intOnce     sync.Once
	softStop    int32
}

// newContext builds the run context.
func newContext(eng *engine.Engine, opts *options.Options, saving bool) *Context {
	return &Context{
		Eng:          eng,
		Opts:         opts,
		StimulusData: options.New(),
		Saving:       saving,
		Printlog:     log.Printf,
		interrupted:  make(chan struct{}),
	}
}

// Interrupt requests immediate cancellation.
func (c *Context) Interrupt() {
	c.intOnce.Do(func() { close(c.interrupted) })
}

// Interrupted reports whether cancellation was requested.
func (c *Context) Interrupted() bool {
	select {
	case <-c.interrupted:
		return true
	default:
		return false
	}
}

// SetSoftStop requests a stop at the next convenient point.
func (c *Context) SetSoftStop() {
	atomic.StoreInt32(&c.softStop, 1)
}

// SoftStop reports whether a soft stop was requested.  Protocols poll
// this between stimulus iterations.
func (c *Context) SoftStop() bool {
	return atomic.LoadInt32(&c.softStop) != 0
}

// Sleep pauses for secs seconds.  It returns ErrInterrupted promptly if
// the protocol is cancelled while sleeping.
func (c *Context) Sleep(secs float64) error {
	if c.Interrupted() {
		return ErrInterrupted
	}
	select {
	case <-time.After(util.SecsToDuration(secs)):
		return nil
	case <-c.interrupted:
		return ErrInterrupted
	}
}

// SleepOn pauses until the event stream grows beyond its current size,
// or the timeout expires.
func (c *Context) SleepOn(events *data.EventData, timeout float64) error {
	mark := events.Size()
	return c.SleepWait(func() bool { return events.Size() > mark }, timeout)
}

// SleepWait polls cond until it is true or the timeout expires.  A zero
// or negative timeout waits forever.
func (c *Context) SleepWait(cond func() bool, timeout float64) error {
	deadline := time.Now().Add(util.SecsToDuration(timeout))
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		if cond() {
			return nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return nil
		}
		select {
		case <-tick.C:
		case <-c.interrupted:
			return ErrInterrupted
		}
	}
}

// Write arms a stimulus.  It returns ErrInterrupted without touching
// the hardware when the protocol is cancelled.
func (c *Context) Write(o *data.OutData) error {
	if c.Interrupted() {
		return ErrInterrupted
	}
	if err := c.Eng.Write(o); err != nil {
		return err
	}
	if c.Interrupted() {
		return ErrInterrupted
	}
	return nil
}

// WriteList arms a list of stimuli that start together.
func (c *Context) WriteList(ol data.OutList) error {
	if c.Interrupted() {
		return ErrInterrupted
	}
	if err := c.Eng.WriteList(ol); err != nil {
		return err
	}
	if c.Interrupted() {
		return ErrInterrupted
	}
	return nil
}

// DirectWrite emits a one-shot value sequence.
func (c *Context) DirectWrite(o *data.OutData) error {
	if c.Interrupted() {
		return ErrInterrupted
	}
	return c.Eng.DirectWrite(o)
}

// Trace returns a trace by name.
func (c *Context) Trace(name string) *data.InData {
	return c.Eng.Trace(name)
}

// Events returns an event stream by name.
func (c *Context) Events(name string) *data.EventData {
	return c.Eng.Events(name)
}

// running is the bookkeeping of one protocol run.
type running struct {
	repro RePro
	ctx   *Context
	done  chan Outcome
}

// Runtime schedules protocol runs, one at a time.
type Runtime struct {
	mu sync.Mutex

	eng    *engine.Engine
	repros map[string]RePro

	current *running
	count   int

	// OnDone is called on the runtime's goroutine after every run with
	// the protocol name and its outcome; the macro engine hooks in
	// here to start the next command
	OnDone func(name string, outcome Outcome)

	// Printlog is the runtime's log sink
	Printlog func(format string, v ...interface{})
}

// NewRuntime creates a runtime over the engine.
func NewRuntime(eng *engine.Engine) *Runtime {
	return &Runtime{
		eng:      eng,
		repros:   map[string]RePro{},
		Printlog: log.Printf,
	}
}

// Add registers a protocol.  A second protocol of the same name
// replaces the first.
func (rt *Runtime) Add(rp RePro) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.repros[rp.Name()] = rp
}

// Get returns a registered protocol, or nil.
func (rt *Runtime) Get(name string) RePro {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.repros[name]
}

// Names returns the registered protocol names.
func (rt *Runtime) Names() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	names := make([]string, 0, len(rt.repros))
	for n := range rt.repros {
		names = append(names, n)
	}
	return names
}

// Count returns the number of runs started since the last ResetCount.
func (rt *Runtime) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.count
}

// ResetCount zeroes the run counter; the session controller calls this
// on session start.
func (rt *Runtime) ResetCount() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.count = 0
}

// Busy reports whether a protocol is running.
func (rt *Runtime) Busy() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.current != nil
}

// Start launches a protocol with the given options on its own
// goroutine.  A running protocol is interrupted first.
func (rt *Runtime) Start(name string, opts *options.Options, saving bool) error {
	rp := rt.Get(name)
	if rp == nil {
		return fmt.Errorf("repro: unknown protocol %q", name)
	}
	rt.Interrupt()
	rt.Wait()

	merged := rp.Options().Clone()
	merged.Merge(opts)
	ctx := newContext(rt.eng, merged, saving)
	ctx.Printlog = rt.Printlog

	if ini, ok := rp.(Initializer); ok {
		if err := ini.Init(ctx); err != nil {
			return fmt.Errorf("repro %q init: %w", name, err)
		}
	}

	run := &running{repro: rp, ctx: ctx, done: make(chan Outcome, 1)}
	rt.mu.Lock()
	rt.current = run
	rt.count++
	rt.mu.Unlock()

	go func() {
		outcome := rp.Main(ctx)
		if sv, ok := rp.(Saver); ok && ctx.Saving {
			sv.SaveData(ctx)
		}

		// between-run hand-off: stop output, release the run slot,
		// then let the macro engine pick the next command
		rt.eng.StopWrite()
		rt.mu.Lock()
		rt.current = nil
		onDone := rt.OnDone
		rt.mu.Unlock()

		run.done <- outcome
		if onDone != nil {
			onDone(name, outcome)
		}
	}()
	return nil
}

// SoftStop asks the running protocol to stop at its next check.
func (rt *Runtime) SoftStop() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.current != nil {
		rt.current.ctx.SetSoftStop()
	}
}

// Interrupt cancels the running protocol immediately and aborts its
// pending output.
func (rt *Runtime) Interrupt() {
	rt.mu.Lock()
	run := rt.current
	rt.mu.Unlock()
	if run != nil {
		run.ctx.Interrupt()
		rt.eng.StopWrite()
	}
}

// Wait blocks until the current run finishes and returns its outcome.
// It returns Completed immediately when nothing is running.
func (rt *Runtime) Wait() Outcome {
	rt.mu.Lock()
	run := rt.current
	rt.mu.Unlock()
	if run == nil {
		return Completed
	}
	return <-run.done
}

// EachRePro calls fn for every registered protocol.
func (rt *Runtime) EachRePro(fn func(RePro)) {
	rt.mu.Lock()
	repros := make([]RePro, 0, len(rt.repros))
	for _, rp := range rt.repros {
		repros = append(repros, rp)
	}
	rt.mu.Unlock()
	for _, rp := range repros {
		fn(rp)
	}
}
