package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/relacs/relacsd/daq"
	"github.com/relacs/relacsd/data"
)

// startedTimeout bounds the wait for the back-end's first-sample
// acknowledgement.
const startedTimeout = time.Second

// Write validates, attenuates and arms a single output signal.
func (e *Engine) Write(o *data.OutData) error {
	return e.WriteList(data.OutList{o})
}

// WriteList validates, attenuates and arms a list of output signals that
// start together.
//
// The steps follow the output contract: resolve trace specs, check
// delay/priority consistency, run attenuation (matching attenuators are
// programmed, all others muted), test and prepare on the devices, then
// start.  A restart of the acquisition is folded in when the gain
// changed, a signal requests it, or the sync mode requires one.
func (e *Engine) WriteList(ol data.OutList) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.write(ol, false)
}

// DirectWrite emits pre-computed one-shot values bypassing FIFO
// streaming, with the same attenuation and restart bookkeeping as Write.
func (e *Engine) DirectWrite(o *data.OutData) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.write(data.OutList{o}, true)
}

// WriteZero emits a single zero value on the named output trace,
// bringing the channel to rest.
func (e *Engine) WriteZero(traceName string) error {
	o := data.NewOutData(traceName, 1e-3)
	o.ConstWave(1e-3, 0.0)
	o.Ident = "zero"
	o.Mute()
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.write(data.OutList{o}, true)
}

func (e *Engine) write(ol data.OutList, direct bool) error {
	ol.ClearError()

	// resolve trace specs
	for _, o := range ol {
		spec := e.OutTrace(o.TraceName)
		if spec == nil {
			o.AddErrorStr(data.InvalidDevice, fmt.Sprintf("no output trace %q", o.TraceName))
			return ErrUnknownTrace
		}
		spec.Apply(o)
		o.Scale = 1.0
		if spec.Scale != 0 {
			o.Scale = spec.Scale
		}
		if o.Reversed {
			o.Scale = -o.Scale
		}
		if o.Device < 0 || o.Device >= len(e.aos) {
			o.AddError(data.NoDevice)
		}
		if len(o.Samples) == 0 {
			o.AddError(data.NoData)
		}
	}
	if ol.Failed() {
		return fmt.Errorf("engine: write rejected: %s", ol.ErrorText())
	}
	if !ol.CheckHomogeneous() {
		return fmt.Errorf("engine: write rejected: %s", ol.ErrorText())
	}

	// priority arbitration against a running write
	e.mu.Lock()
	if e.writeActive {
		if e.writePriority && !ol[0].Priority {
			e.mu.Unlock()
			for _, o := range ol {
				o.AddError(data.Busy)
			}
			return fmt.Errorf("engine: output busy with a priority signal")
		}
		e.mu.Unlock()
		// a priority signal preempts the running non-priority one
		for _, ao := range e.aos {
			ao.Stop()
		}
		e.mu.Lock()
	}
	e.writeActive = true
	e.writePriority = ol[0].Priority
	gainChanged := e.gainChanged
	syncMode := e.syncMode
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.writeActive = false
		e.mu.Unlock()
	}()

	e.attenuate(ol)
	if ol.Failed() {
		return fmt.Errorf("engine: attenuation failed: %s", ol.ErrorText())
	}

	// group by device, test and prepare
	groups := map[int]data.OutList{}
	for _, o := range ol {
		groups[o.Device] = append(groups[o.Device], o)
	}
	for dev, g := range groups {
		ao := e.aos[dev]
		if err := ao.TestWrite(g); err != nil {
			return fmt.Errorf("test write on %s: %w", ao.DeviceName(), err)
		}
		if direct {
			continue
		}
		if err := ao.PrepareWrite(g); err != nil {
			return fmt.Errorf("prepare write on %s: %w", ao.DeviceName(), err)
		}
	}

	needRestart := gainChanged ||
		syncMode == NoSync || syncMode == StartSync
	for _, o := range ol {
		if o.RequestRestart {
			needRestart = true
		}
	}

	started := make(chan struct{}, 1)
	startAOs := func() error {
		for dev, g := range groups {
			ao := e.aos[dev]
			var err error
			if direct {
				err = ao.DirectWrite(g)
				select {
				case started <- struct{}{}:
				default:
				}
			} else {
				err = ao.StartWrite(started)
			}
			if err != nil {
				return fmt.Errorf("start write on %s: %w", ao.DeviceName(), err)
			}
		}
		return nil
	}

	var err error
	if needRestart && e.Running() {
		// re-arm every affected input; the output is started first so
		// input and output share the new time zero
		err = e.restartRead(startAOs)
	} else {
		err = startAOs()
	}
	if err != nil {
		return err
	}

	// the first sample is on the wire once the back-end acknowledges
	select {
	case <-started:
	case <-time.After(startedTimeout):
		e.Printlog("engine: no start acknowledgement within %v", startedTimeout)
	}

	wall := e.Now() + ol[0].Delay
	info := SignalInfo{
		Time:     wall,
		Duration: ol.MaxDuration(),
		Delay:    ol[0].Delay,
		Signals:  ol,
	}
	e.mu.Lock()
	e.lastSignal = info
	onSignal := e.OnSignal
	e.mu.Unlock()

	e.traceMu.Lock()
	for _, d := range e.traces {
		d.SetSignal(wall, d.Size())
	}
	e.traceMu.Unlock()
	if e.graph != nil {
		e.graph.SetSignal(wall)
	}

	if onSignal != nil {
		onSignal(info)
	}
	return nil
}

// attenuate programs the attenuators of all channels in the list and
// mutes every other attenuator.  Channels with a pseudo attenuator get
// the level folded into their digital scale.
func (e *Engine) attenuate(ol data.OutList) {
	e.mu.Lock()
	atts := append([]daq.Attenuator(nil), e.atts...)
	e.mu.Unlock()

	used := map[daq.Attenuator]bool{}
	for _, o := range ol {
		att := findAttenuator(atts, o.Device, o.Channel)
		if att == nil {
			if o.Muted() {
				o.Scale = 0.0
			}
			continue
		}
		used[att] = true

		switch {
		case o.Muted():
			if aerr := att.Mute(); aerr != daq.AttOK {
				o.AddErrorStr(daq.DataErrorFor(aerr), "mute: "+daq.FormatAttenuatorError(aerr))
			}
			o.Scale = 0.0

		case o.Intensity != data.NoIntensityValue:
			level, aerr := att.Write(o.Intensity, o.CarrierFreq)
			o.Level = level
			if aerr != daq.AttOK {
				o.AddErrorStr(daq.DataErrorFor(aerr), daq.FormatAttenuatorError(aerr))
				break
			}
			if att.NoAttenuator() {
				// no hardware: fold the level into the digital scale
				o.Scale *= math.Pow(10.0, -level/20.0)
			}

		case o.Level != data.NoLevel:
			level, aerr := att.Attenuate(o.Level)
			o.Level = level
			if aerr != daq.AttOK {
				o.AddErrorStr(daq.DataErrorFor(aerr), daq.FormatAttenuatorError(aerr))
				break
			}
			if att.NoAttenuator() {
				o.Scale *= math.Pow(10.0, -level/20.0)
			}

		default:
			o.AddErrorStr(data.NoIntensity, "attenuated channel without intensity or level")
		}
	}

	// every attenuator not involved in this write is muted
	for _, att := range atts {
		if !used[att] {
			att.Mute()
		}
	}
}

func findAttenuator(atts []daq.Attenuator, device, channel int) daq.Attenuator {
	for _, att := range atts {
		d, c := att.AOChannel()
		if d == device && c == channel {
			return att
		}
	}
	return nil
}

// StopWrite cancels all running output.
func (e *Engine) StopWrite() {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	for _, ao := range e.aos {
		ao.Stop()
	}
	e.mu.Lock()
	e.writeActive = false
	e.mu.Unlock()
}
