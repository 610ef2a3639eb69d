// Package engine implements the acquisition engine: it owns the DAQ
// back-ends, fans raw input blocks into the cyclic traces, drives the
// filter/detector pipeline, schedules stimulus output with attenuation,
// and enforces the synchronisation policy between concurrently armed
// inputs and outputs.
//
// Locking: a single writer mutex serialises the output path (Write,
// DirectWrite, WriteZero, StopWrite, Stop); a reader/writer lock guards
// the cyclic traces (research protocols read, only the acquisition
// reader writes).  The engine clock is the number of seconds since
// New; restart markers tie the sample count to it.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/relacs/relacsd/daq"
	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/pipeline"
	"github.com/relacs/relacsd/util"
)

// SyncMode is the policy for starting simultaneously armed inputs and
// outputs.
type SyncMode int

const (
	// NoSync restarts the acquisition for every output signal
	NoSync SyncMode = iota
	// StartSync starts output and re-armed input back to back; the
	// restart marker records index and time only, not the start jitter
	StartSync
	// AISync clocks the output from the input clock; no restart needed
	AISync
	// CounterSync drives the output from a counter; no restart needed,
	// but gain changes are rejected while a counter is running
	CounterSync
)

// ValidateSyncMode parses a synchronisation mode name.
func ValidateSyncMode(s string) (SyncMode, error) {
	switch s {
	case "nosync":
		return NoSync, nil
	case "startsync":
		return StartSync, nil
	case "aisync":
		return AISync, nil
	case "countersync":
		return CounterSync, nil
	default:
		return -1, fmt.Errorf("sync mode must be a member of {nosync, startsync, aisync, countersync}")
	}
}

// FormatSyncMode converts a synchronisation mode to its name.
func FormatSyncMode(m SyncMode) string {
	switch m {
	case NoSync:
		return "nosync"
	case StartSync:
		return "startsync"
	case AISync:
		return "aisync"
	case CounterSync:
		return "countersync"
	default:
		return ""
	}
}

var (
	// ErrNotRunning is returned by operations that need a running
	// acquisition
	ErrNotRunning = errors.New("engine: acquisition not running")

	// ErrUnknownTrace is returned when an output signal names an
	// undeclared output trace
	ErrUnknownTrace = errors.New("engine: unknown output trace")
)

// SignalInfo describes an emitted stimulus: when its first sample left
// the converter and what was requested.
type SignalInfo struct {
	Time     float64
	Duration float64
	Delay    float64
	Signals  data.OutList
}

// Engine owns the back-ends, traces, events and the pipeline.
type Engine struct {
	writeMu sync.Mutex   // serialises the output path
	traceMu sync.RWMutex // guards traces and events

	mu sync.Mutex // guards the engine's own fields

	ais  []daq.AnalogInput
	aos  []daq.AnalogOutput
	atts []daq.Attenuator

	traces   data.InList
	outSpecs []data.TraceSpec
	graph    *pipeline.Graph

	syncMode SyncMode

	// AllowSignalTimeRewind permits downstream filters to move the
	// signal time backwards, to correct for back-end latency
	AllowSignalTimeRewind bool

	// DisableReader suppresses the background reader goroutine; the
	// simulation driver then steps the engine with ProcessPending.
	DisableReader bool

	ready         chan struct{}
	stopReader    chan struct{}
	readerWG      sync.WaitGroup
	readerStarted bool
	running       bool

	writeActive   bool
	writePriority bool

	gainChanged bool

	lastSignal SignalInfo

	// OnSignal is called after every successful write with the emitted
	// signals; the session controller records stimulus data here
	OnSignal func(SignalInfo)

	// Printlog is the engine's log sink
	Printlog func(format string, v ...interface{})

	startWallClock time.Time
	now            func() float64
}

// New creates an engine without devices.
func New() *Engine {
	e := &Engine{
		ready:    make(chan struct{}, 1),
		Printlog: log.Printf,
	}
	e.startWallClock = time.Now()
	e.now = func() float64 { return time.Since(e.startWallClock).Seconds() }
	return e
}

// SetClock replaces the wall-clock source; tests install a deterministic
// one.
func (e *Engine) SetClock(now func() float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Now returns the engine wall-clock in seconds.
func (e *Engine) Now() float64 {
	e.mu.Lock()
	now := e.now
	e.mu.Unlock()
	return now()
}

// AddAnalogInput registers an input device; its index is the device id
// traces refer to.
func (e *Engine) AddAnalogInput(ai daq.AnalogInput) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ais = append(e.ais, ai)
	return len(e.ais) - 1
}

// AnalogInputs returns the registered input devices.
func (e *Engine) AnalogInputs() []daq.AnalogInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]daq.AnalogInput(nil), e.ais...)
}

// AddAnalogOutput registers an output device.
func (e *Engine) AddAnalogOutput(ao daq.AnalogOutput) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aos = append(e.aos, ao)
	return len(e.aos) - 1
}

// AddAttenuator registers an attenuator.
func (e *Engine) AddAttenuator(att daq.Attenuator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.atts = append(e.atts, att)
}

// SetOutTraces declares the output channels.
func (e *Engine) SetOutTraces(specs []data.TraceSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outSpecs = specs
}

// SetPipeline installs the filter/detector graph.  The graph must be
// sorted before the acquisition starts.
func (e *Engine) SetPipeline(g *pipeline.Graph) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.graph = g
}

// SetSyncMode selects the start synchronisation policy.
func (e *Engine) SetSyncMode(m SyncMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncMode = m
}

// SyncModeValue returns the active synchronisation policy.
func (e *Engine) SyncModeValue() SyncMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncMode
}

// Traces returns the raw input traces.
func (e *Engine) Traces() data.InList {
	return e.traces
}

// InstallTraces sets the trace list without arming any device, for
// browsing recorded data or wiring up before the first Read.
func (e *Engine) InstallTraces(traces data.InList) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.traces = traces
}

// Trace returns a trace by name, raw or derived.
func (e *Engine) Trace(name string) *data.InData {
	if t := e.traces.Find(name); t != nil {
		return t
	}
	if e.graph != nil {
		return e.graph.Trace(name)
	}
	return nil
}

// Events returns an event stream by name.
func (e *Engine) Events(name string) *data.EventData {
	if e.graph == nil {
		return nil
	}
	return e.graph.Events(name)
}

// LockTraces takes the trace read lock.  Research protocols hold it
// while they analyse.
func (e *Engine) LockTraces() {
	e.traceMu.RLock()
}

// UnlockTraces releases the trace read lock.
func (e *Engine) UnlockTraces() {
	e.traceMu.RUnlock()
}

// OutTrace resolves an output trace spec by name.
func (e *Engine) OutTrace(name string) *data.TraceSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.outSpecs {
		if e.outSpecs[i].Name == name {
			return &e.outSpecs[i]
		}
	}
	return nil
}

// aiForTraces groups the traces by their input device.
func (e *Engine) aiForTraces(traces data.InList) (map[int]data.InList, error) {
	groups := map[int]data.InList{}
	for _, d := range traces {
		if d.Device < 0 || d.Device >= len(e.ais) {
			d.AddError(data.NoDevice)
			return nil, fmt.Errorf("trace %q has no device assigned", d.Ident)
		}
		groups[d.Device] = append(groups[d.Device], d)
	}
	return groups, nil
}

// Read starts the acquisition of the given traces: stop whatever is
// busy, then test, prepare and start every involved input device, stamp
// the restart marker, and launch the reader.
func (e *Engine) Read(traces data.InList) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	traces.ClearError()
	groups, err := e.aiForTraces(traces)
	if err != nil {
		return err
	}

	// stop busy devices before re-arming
	for dev := range groups {
		ai := e.ais[dev]
		if ai.Running() {
			ai.Stop()
		}
	}

	for dev, g := range groups {
		ai := e.ais[dev]
		if err := ai.TestRead(g); err != nil {
			return fmt.Errorf("test read on %s: %w", ai.DeviceName(), err)
		}
		if err := ai.PrepareRead(g); err != nil {
			return fmt.Errorf("prepare read on %s: %w", ai.DeviceName(), err)
		}
	}

	// multi-device setups are armed as one group when the back-ends
	// support it
	ais := make([]daq.AnalogInput, 0, len(groups))
	for dev := range groups {
		ais = append(ais, e.ais[dev])
	}
	if len(ais) > 1 {
		if !ais[0].Take(ais[1:], e.aos) {
			e.Printlog("engine: back-end cannot arm %d devices atomically, starting sequentially", len(ais))
		}
	}

	wall := e.Now()
	e.traceMu.Lock()
	for _, d := range traces {
		d.Restart(wall)
	}
	e.traceMu.Unlock()
	if e.graph != nil {
		e.graph.Restart(wall)
	}

	for dev := range groups {
		if err := e.ais[dev].StartRead(e.ready); err != nil {
			return fmt.Errorf("start read on %s: %w", e.ais[dev].DeviceName(), err)
		}
	}

	e.mu.Lock()
	e.traces = traces
	startReader := !e.readerStarted && !e.DisableReader
	e.running = true
	var stop chan struct{}
	if startReader {
		stop = make(chan struct{})
		e.stopReader = stop
		e.readerStarted = true
	}
	e.mu.Unlock()

	if startReader {
		e.readerWG.Add(1)
		go e.readerLoop(stop)
	}
	return nil
}

// readerLoop waits for the back-ends' data-available signal, converts
// fresh blocks into the traces and runs the pipeline.
func (e *Engine) readerLoop(stop <-chan struct{}) {
	defer e.readerWG.Done()
	for {
		select {
		case <-stop:
			return
		case <-e.ready:
			e.ProcessPending()
		}
	}
}

// ProcessPending fetches and converts everything the input devices have
// buffered, then evaluates the pipeline.  Called by the reader loop;
// exposed for deterministic stepping in simulation.
func (e *Engine) ProcessPending() {
	overflow := false
	for _, ai := range e.ais {
		if !ai.Running() {
			continue
		}
		if _, err := ai.ReadData(); err != nil {
			// short reads and transient errors are non-fatal; an
			// overflow requires a restart so no data is lost silently
			e.Printlog("engine: read on %s: %v", ai.DeviceName(), err)
			overflow = true
			continue
		}
		e.traceMu.Lock()
		ai.ConvertData()
		e.traceMu.Unlock()
	}
	if e.graph != nil {
		e.traceMu.Lock()
		if err := e.graph.Process(); err != nil {
			e.Printlog("engine: pipeline: %v", err)
		}
		e.traceMu.Unlock()
	}
	if overflow {
		e.restartAfterOverflow()
	}
}

// restartAfterOverflow re-arms all inputs with a distinguished restart
// marker; the traces keep everything acquired so far.
func (e *Engine) restartAfterOverflow() {
	e.Printlog("engine: overflow/underrun, re-arming acquisition")
	if err := e.restartRead(nil); err != nil {
		e.Printlog("engine: restart after overflow failed: %v", err)
	}
}

// restartRead stops, re-prepares and restarts every running input
// device, stamping a fresh restart marker.  If beforeStart is non-nil it
// runs between arming and the marker, with all inputs stopped; the
// output path uses it to start the converter first under StartSync.
func (e *Engine) restartRead(beforeStart func() error) error {
	e.mu.Lock()
	traces := e.traces
	e.mu.Unlock()
	if traces == nil {
		return ErrNotRunning
	}

	groups, err := e.aiForTraces(traces)
	if err != nil {
		return err
	}
	for dev := range groups {
		e.ais[dev].Stop()
	}
	for dev, g := range groups {
		if err := e.ais[dev].PrepareRead(g); err != nil {
			return fmt.Errorf("prepare read on %s: %w", e.ais[dev].DeviceName(), err)
		}
	}

	if beforeStart != nil {
		if err := beforeStart(); err != nil {
			return err
		}
	}

	wall := e.Now()
	e.traceMu.Lock()
	for _, d := range traces {
		d.Restart(wall)
	}
	e.traceMu.Unlock()
	if e.graph != nil {
		e.graph.Restart(wall)
	}

	for dev := range groups {
		if err := e.ais[dev].StartRead(e.ready); err != nil {
			return fmt.Errorf("start read on %s: %w", e.ais[dev].DeviceName(), err)
		}
	}

	e.mu.Lock()
	e.gainChanged = false
	e.mu.Unlock()
	return nil
}

// SetGainChanged flags that an input gain was modified; the next write
// re-arms the acquisition so the calibration stays consistent.  Under
// CounterSync gain changes are rejected instead.
func (e *Engine) SetGainChanged() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncMode == CounterSync {
		return fmt.Errorf("engine: gain change rejected while counter sync is active")
	}
	e.gainChanged = true
	return nil
}

// Running reports whether the acquisition is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stop cancels output first, then input, and stops the reader.
// Idempotent.
func (e *Engine) Stop() {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var errs []error
	for _, ao := range e.aos {
		errs = append(errs, ao.Stop())
	}
	for _, ai := range e.ais {
		errs = append(errs, ai.Stop())
	}
	if err := util.MergeErrors(errs); err != nil {
		e.Printlog("engine: stopping devices: %v", err)
	}

	e.mu.Lock()
	e.running = false
	stop := e.stopReader
	hadReader := e.readerStarted
	e.readerStarted = false
	e.stopReader = nil
	e.mu.Unlock()

	if hadReader && stop != nil {
		close(stop)
		e.readerWG.Wait()
	}
}

// SignalTime returns the wall-clock of the last emitted stimulus, or -1.
func (e *Engine) SignalTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSignal.Signals == nil {
		return -1.0
	}
	return e.lastSignal.Time
}

// GetSignal returns the full record of the last emitted stimulus.
func (e *Engine) GetSignal() SignalInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSignal
}

// SetSignalTime moves the recorded signal time, e.g. when a downstream
// filter corrects for back-end latency.  Rewinds are ignored unless
// AllowSignalTimeRewind is set.
func (e *Engine) SetSignalTime(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t < e.lastSignal.Time && !e.AllowSignalTimeRewind {
		e.Printlog("engine: ignoring signal time rewind from %g to %g", e.lastSignal.Time, t)
		return
	}
	e.lastSignal.Time = t
}

// DumpState writes a full dump of the engine's bookkeeping to w, for
// fault diagnosis.
func (e *Engine) DumpState(w io.Writer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	spew.Fdump(w, e.lastSignal, e.syncMode, e.running, e.writeActive, e.gainChanged)
}
