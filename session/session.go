// Package session implements the session controller: the outer
// lifecycle bracket the user opens and closes around an experiment.  It
// aggregates metadata, tracks per-stimulus data, gates file saving, and
// triggers the session-bound macros and protocol hooks.
package session

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/datafile"
	"github.com/relacs/relacsd/engine"
	"github.com/relacs/relacsd/macro"
	"github.com/relacs/relacsd/options"
	"github.com/relacs/relacsd/repro"
)

// Controller is the session state machine.
type Controller struct {
	mu sync.Mutex

	metaMu     sync.Mutex
	stimMu     sync.Mutex
	settingsMu sync.Mutex

	metaData     *options.Options
	stimulusData *options.Options
	settings     *options.Options

	eng     *engine.Engine
	runtime *repro.Runtime
	macros  *macro.Engine

	running bool
	saving  bool
	started float64

	dataDir  string
	stimFile *os.File
	stimKey  *datafile.TableKey

	// Printlog is the controller's log sink
	Printlog func(format string, v ...interface{})
}

// New creates a session controller.  The macro engine may be nil.
func New(eng *engine.Engine, rt *repro.Runtime, me *macro.Engine, dataDir string) *Controller {
	c := &Controller{
		metaData:     options.New(),
		stimulusData: options.New(),
		settings:     options.New(),
		eng:          eng,
		runtime:      rt,
		macros:       me,
		dataDir:      dataDir,
		Printlog:     log.Printf,
	}
	if eng != nil {
		eng.OnSignal = c.signalEmitted
	}
	return c
}

// Running reports whether a session is open.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Saving reports whether data files are written.
func (c *Controller) Saving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && c.saving
}

// SetSaving gates the data files.  Without a running session saving
// stays off.
func (c *Controller) SetSaving(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saving = on
}

// ReproCount returns the number of protocol runs in this session.
func (c *Controller) ReproCount() int {
	if c.runtime == nil {
		return 0
	}
	return c.runtime.Count()
}

// LockMetaData locks the session metadata for cross-thread mutation.
func (c *Controller) LockMetaData() *options.Options {
	c.metaMu.Lock()
	return c.metaData
}

// UnlockMetaData releases the metadata lock.
func (c *Controller) UnlockMetaData() {
	c.metaMu.Unlock()
}

// LockStimulusData locks the stimulus-data dictionary.
func (c *Controller) LockStimulusData() *options.Options {
	c.stimMu.Lock()
	return c.stimulusData
}

// UnlockStimulusData releases the stimulus-data lock.
func (c *Controller) UnlockStimulusData() {
	c.stimMu.Unlock()
}

// LockSettings locks the program settings.
func (c *Controller) LockSettings() *options.Options {
	c.settingsMu.Lock()
	return c.settings
}

// UnlockSettings releases the settings lock.
func (c *Controller) UnlockSettings() {
	c.settingsMu.Unlock()
}

// Start opens the session: open the data files, reset the run counter,
// run the start-session macro and every protocol's SessionStarted hook.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("session already running")
	}
	c.running = true
	c.saving = true
	if c.eng != nil {
		c.started = c.eng.Now()
	}
	c.mu.Unlock()

	if err := c.openFiles(); err != nil {
		c.Printlog("session: opening files: %v", err)
	}
	if c.runtime != nil {
		c.runtime.ResetCount()
		c.runtime.EachRePro(func(rp repro.RePro) {
			if h, ok := rp.(repro.SessionHooks); ok {
				h.SessionStarted()
			}
		})
	}
	if c.macros != nil {
		c.macros.StartSessionMacro()
	}
	return nil
}

// Stop closes the session.  saved reports whether the recorded data is
// kept; protocols receive it through their SessionStopped hook.
func (c *Controller) Stop(saved bool) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("no session running")
	}
	c.running = false
	c.saving = false
	c.mu.Unlock()

	if c.macros != nil {
		c.macros.StopSessionMacro()
	}
	if c.runtime != nil {
		c.runtime.EachRePro(func(rp repro.RePro) {
			if h, ok := rp.(repro.SessionHooks); ok {
				h.SessionStopped(saved)
			}
		})
	}
	c.closeFiles()
	return nil
}

// openFiles creates the session's stimulus table.
func (c *Controller) openFiles() error {
	if c.dataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dataDir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(c.dataDir, "stimuli.dat"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	key := datafile.NewTableKey()
	key.AddColumn("time", "s", "%9.4f")
	key.AddColumn("delay", "s", "%7.4f")
	key.AddColumn("duration", "s", "%8.4f")
	key.AddColumn("carrier", "Hz", "%8.1f")
	key.AddColumn("intensity", "dB", "%9.2f")
	key.AddColumn("level", "dB", "%7.2f")
	key.AddColumn("scale", "1", "%7.4f")

	c.metaMu.Lock()
	meta := c.metaData.Clone()
	c.metaMu.Unlock()
	if err := datafile.SaveMetaData(f, meta); err != nil {
		f.Close()
		return err
	}
	if err := key.SaveKey(f, true, false); err != nil {
		f.Close()
		return err
	}

	c.mu.Lock()
	c.stimFile = f
	c.stimKey = key
	c.mu.Unlock()
	return nil
}

func (c *Controller) closeFiles() {
	c.mu.Lock()
	f := c.stimFile
	c.stimFile = nil
	c.stimKey = nil
	c.mu.Unlock()
	if f != nil {
		datafile.EndTable(f)
		f.Close()
	}
}

// signalEmitted is the engine's OnSignal hook: every emitted stimulus
// is recorded in the stimulus-data dictionary and appended to the
// stimulus table.
func (c *Controller) signalEmitted(si engine.SignalInfo) {
	o := si.Signals[0]

	sd := c.LockStimulusData()
	sd.SetNumber("time", si.Time, "s")
	sd.SetNumber("delay", si.Delay, "s")
	sd.SetNumber("duration", si.Duration, "s")
	sd.SetNumber("carrier", o.CarrierFreq, "Hz")
	if o.Muted() {
		sd.Set("intensity", "mute")
	} else if o.Intensity != data.NoIntensityValue {
		sd.SetNumber("intensity", o.Intensity, "dB")
	}
	sd.SetNumber("level", o.Level, "dB")
	sd.SetNumber("scale", o.Scale, "")
	if o.Ident != "" {
		sd.Set("ident", o.Ident)
	}
	c.UnlockStimulusData()

	c.mu.Lock()
	f, key := c.stimFile, c.stimKey
	saving := c.running && c.saving
	c.mu.Unlock()
	if !saving || f == nil {
		return
	}
	intensity := o.Intensity
	if o.Muted() || intensity == data.NoIntensityValue {
		// missing value
		if err := key.SaveRowStrings(f,
			fmt.Sprintf("%9.4f", si.Time),
			fmt.Sprintf("%7.4f", si.Delay),
			fmt.Sprintf("%8.4f", si.Duration),
			fmt.Sprintf("%8.1f", o.CarrierFreq),
			"",
			fmt.Sprintf("%7.2f", o.Level),
			fmt.Sprintf("%7.4f", o.Scale)); err != nil {
			c.Printlog("session: stimulus row: %v", err)
		}
		return
	}
	if err := key.SaveRow(f, si.Time, si.Delay, si.Duration,
		o.CarrierFreq, intensity, o.Level, o.Scale); err != nil {
		c.Printlog("session: stimulus row: %v", err)
	}
}
