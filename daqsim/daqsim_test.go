package daqsim

import (
	"math"
	"testing"

	"github.com/relacs/relacsd/daq"
	"github.com/relacs/relacsd/data"
)

// TestContractReadCycle walks the prepare/start/read/convert/stop
// contract on the simulated input.
func TestContractReadCycle(t *testing.T) {
	ai := NewAnalogInput()
	if ai.IsOpen() {
		t.Fatalf("device open before Open")
	}
	if err := ai.Open("sim0", nil); err != nil {
		t.Fatalf("Open: %v", err)
	}
	ai.SetWaveform(0, func(tm float64) float64 { return 1.0 })

	tr := data.NewInData("V-1", 0.1, 1e-3)
	tr.Channel = 0
	tr.GainIndex = 0
	tr.Scale = 2.0
	traces := data.InList{tr}

	if err := ai.TestRead(traces); err != nil {
		t.Fatalf("TestRead: %v", err)
	}
	if err := ai.PrepareRead(traces); err != nil {
		t.Fatalf("PrepareRead: %v", err)
	}
	if tr.MaxVoltage != 10.0 {
		t.Errorf("range not applied: MaxVoltage==%g, want 10", tr.MaxVoltage)
	}

	ready := make(chan struct{}, 1)
	if err := ai.StartRead(ready); err != nil {
		t.Fatalf("StartRead: %v", err)
	}
	ai.Produce(50)
	select {
	case <-ready:
	default:
		t.Errorf("Produce did not post on ready")
	}
	if n, err := ai.ReadData(); err != nil || n != 50 {
		t.Errorf("ReadData==%d, %v, want 50, nil", n, err)
	}
	if n := ai.ConvertData(); n != 50 {
		t.Errorf("ConvertData==%d, want 50", n)
	}
	// scale applied
	if v := tr.At(0); v != 2.0 {
		t.Errorf("converted sample==%g, want 2 (scaled)", v)
	}
	if err := ai.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := ai.Stop(); err != nil {
		t.Fatalf("Stop not idempotent: %v", err)
	}
	if err := ai.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}

func TestInvalidRequestsAnnotated(t *testing.T) {
	ai := NewAnalogInput()
	ai.Open("sim0", nil)

	tr := data.NewInData("V-1", 0.1, 1e-3)
	tr.Channel = 99
	tr.GainIndex = -1
	if err := ai.TestRead(data.InList{tr}); err == nil {
		t.Fatalf("TestRead accepted an invalid request")
	}
	if !tr.Err.Has(data.InvalidChannel) {
		t.Errorf("error bits==%v, want InvalidChannel", tr.Err)
	}
	if !tr.Err.Has(data.InvalidGain) {
		t.Errorf("error bits==%v, want InvalidGain", tr.Err)
	}
}

func TestOutputRecordsSignals(t *testing.T) {
	ao := NewAnalogOutput()
	ao.Open("sim0", nil)

	o := data.NewOutData("Stim", 1e-4)
	o.SineWave(0.01, 100, 1.0)
	o.Channel = 0
	o.MaxVoltage = 10
	o.Scale = 1

	if err := ao.PrepareWrite(data.OutList{o}); err != nil {
		t.Fatalf("PrepareWrite: %v", err)
	}
	started := make(chan struct{}, 1)
	if err := ao.StartWrite(started); err != nil {
		t.Fatalf("StartWrite: %v", err)
	}
	select {
	case <-started:
	default:
		t.Errorf("StartWrite did not acknowledge the start")
	}
	if ao.LastWritten() == nil {
		t.Fatalf("armed signal not recorded")
	}
	if ao.Status() != daq.Idle {
		t.Errorf("Status==%v after completion, want Idle", ao.Status())
	}
}

func TestOutputOverflowAnnotated(t *testing.T) {
	ao := NewAnalogOutput()
	ao.Open("sim0", nil)

	o := data.NewOutData("Stim", 1e-4)
	o.ConstWave(0.01, 20.0)
	o.Channel = 0
	o.MaxVoltage = 10
	o.Scale = 1
	if err := ao.TestWrite(data.OutList{o}); err == nil {
		t.Fatalf("TestWrite accepted an over-range signal")
	}
	if !o.Err.Has(data.Overflow) {
		t.Errorf("error bits==%v, want Overflow", o.Err)
	}
}

func TestLoopback(t *testing.T) {
	ai := NewAnalogInput()
	ai.Open("sim0", nil)
	ao := NewAnalogOutput()
	ao.Open("sim0", nil)
	ao.SetLoopback(ai, 0)

	tr := data.NewInData("V-1", 0.1, 1e-3)
	tr.Channel = 0
	tr.GainIndex = 0
	tr.Scale = 1.0
	if err := ai.PrepareRead(data.InList{tr}); err != nil {
		t.Fatalf("PrepareRead: %v", err)
	}
	ready := make(chan struct{}, 1)
	ai.StartRead(ready)

	o := data.NewOutData("Stim", 1e-3)
	o.ConstWave(0.05, 3.0)
	o.Channel = 0
	o.MaxVoltage = 10
	o.Scale = 1
	if err := ao.DirectWrite(data.OutList{o}); err != nil {
		t.Fatalf("DirectWrite: %v", err)
	}

	ai.Produce(10)
	ai.ConvertData()
	if v := tr.At(0); math.Abs(v-3.0) > 1e-12 {
		t.Errorf("loopback sample==%g, want 3", v)
	}
}

func TestAttenuatorRange(t *testing.T) {
	at := NewAttenuator()
	at.Open("sim0", nil)

	if _, aerr := at.Attenuate(20.0); aerr != daq.AttOK {
		t.Fatalf("Attenuate(20)==%v, want ok", daq.FormatAttenuatorError(aerr))
	}
	if at.LastLevel != 20.0 {
		t.Errorf("LastLevel==%g, want 20", at.LastLevel)
	}
	if _, aerr := at.Attenuate(1000.0); aerr != daq.AttOverflow {
		t.Errorf("Attenuate(1000)==%v, want overflow", daq.FormatAttenuatorError(aerr))
	}
	if _, aerr := at.Attenuate(-1000.0); aerr != daq.AttUnderflow {
		t.Errorf("Attenuate(-1000)==%v, want underflow", daq.FormatAttenuatorError(aerr))
	}
	if aerr := at.Mute(); aerr != daq.AttOK {
		t.Errorf("Mute==%v, want ok", daq.FormatAttenuatorError(aerr))
	}
	if !at.MutedNow {
		t.Errorf("MutedNow==false after Mute")
	}
}

func TestRegistry(t *testing.T) {
	dev, err := daq.Create("sim-ai")
	if err != nil {
		t.Fatalf("Create(sim-ai): %v", err)
	}
	if _, ok := dev.(daq.AnalogInput); !ok {
		t.Errorf("sim-ai is not an AnalogInput")
	}
	if _, err := daq.Create("no-such-device"); err == nil {
		t.Errorf("Create of unknown type succeeded")
	}
}
