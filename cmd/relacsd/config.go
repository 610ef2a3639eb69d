package main

import (
	"fmt"

	"github.com/relacs/relacsd/daq"
	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/engine"
	"github.com/relacs/relacsd/options"
	"github.com/relacs/relacsd/pipeline"
)

// DeviceSetup selects and parameterises one device.
type DeviceSetup struct {
	// Type is the registered device type tag, e.g. "sim-ai" or "usb-ai"
	Type string `yaml:"Type"`
	// Addr is the device address, e.g. "09db:00ea" or "/dev/ttyS0"
	Addr string `yaml:"Addr"`
	// Args holds device specific arguments as "key=value; ..."
	Args string `yaml:"Args"`
}

// TraceSetup declares one input trace.
type TraceSetup struct {
	Name       string  `yaml:"Name"`
	Device     int     `yaml:"Device"`
	Channel    int     `yaml:"Channel"`
	Unit       string  `yaml:"Unit"`
	SampleRate float64 `yaml:"SampleRate"`
	Capacity   float64 `yaml:"Capacity"`
	Gain       int     `yaml:"Gain"`
	Scale      float64 `yaml:"Scale"`
	Reference  string  `yaml:"Reference"`
}

// DetectorSetup declares one spike detector on a trace.
type DetectorSetup struct {
	Name      string  `yaml:"Name"`
	Trace     string  `yaml:"Trace"`
	Events    string  `yaml:"Events"`
	Threshold float64 `yaml:"Threshold"`
	MinThresh float64 `yaml:"MinThresh"`
	MaxThresh float64 `yaml:"MaxThresh"`
	Decay     float64 `yaml:"Decay"`
	Ratio     float64 `yaml:"Ratio"`
}

// Config is the daemon configuration, populated from defaults and the
// YAML file.
type Config struct {
	// Addr is the HTTP listen address
	Addr string `koanf:"addr" yaml:"Addr"`
	// DataDir is where session files are written
	DataDir string `koanf:"datadir" yaml:"DataDir"`
	// MacroFile is the macro definition file
	MacroFile string `koanf:"macrofile" yaml:"MacroFile"`
	// SyncMode is one of nosync, startsync, aisync, countersync
	SyncMode string `koanf:"syncmode" yaml:"SyncMode"`
	// Simulation replaces absent hardware with the simulated back-end
	Simulation bool `koanf:"simulation" yaml:"Simulation"`

	AnalogInputs  []DeviceSetup `koanf:"analoginputs" yaml:"AnalogInputs"`
	AnalogOutputs []DeviceSetup `koanf:"analogoutputs" yaml:"AnalogOutputs"`
	Attenuators   []DeviceSetup `koanf:"attenuators" yaml:"Attenuators"`

	Traces    []TraceSetup     `koanf:"traces" yaml:"Traces"`
	OutTraces []data.TraceSpec `koanf:"outtraces" yaml:"OutTraces"`
	Detectors []DetectorSetup  `koanf:"detectors" yaml:"Detectors"`
}

// defaultConfig is a runnable simulation setup.
func defaultConfig() Config {
	return Config{
		Addr:       "localhost:8775",
		DataDir:    "data",
		MacroFile:  "macros.cfg",
		SyncMode:   "aisync",
		Simulation: true,
		AnalogInputs: []DeviceSetup{
			{Type: "sim-ai", Addr: "sim0"},
		},
		AnalogOutputs: []DeviceSetup{
			{Type: "sim-ao", Addr: "sim0"},
		},
		Attenuators: []DeviceSetup{
			{Type: "sim-att", Addr: "sim0", Args: "device=0; channel=0"},
		},
		Traces: []TraceSetup{
			{Name: "V-1", Device: 0, Channel: 0, Unit: "mV",
				SampleRate: 20000, Capacity: 60, Gain: 0, Scale: 1},
		},
		OutTraces: []data.TraceSpec{
			{Name: "Stim", Device: 0, Channel: 0, Unit: "V", MaxVoltage: 10},
		},
		Detectors: []DetectorSetup{
			{Name: "spikes", Trace: "V-1", Events: "Spikes",
				Threshold: 10, MinThresh: 5, MaxThresh: 100, Decay: 10, Ratio: 0.5},
		},
	}
}

// buildEngine constructs the engine, devices, traces and the pipeline
// from the configuration.
func buildEngine(cfg Config) (*engine.Engine, data.InList, error) {
	eng := engine.New()

	mode, err := engine.ValidateSyncMode(cfg.SyncMode)
	if err != nil {
		return nil, nil, err
	}
	eng.SetSyncMode(mode)

	for _, ds := range cfg.AnalogInputs {
		dev, err := makeDevice(ds, cfg.Simulation, "sim-ai")
		if err != nil {
			return nil, nil, err
		}
		ai, ok := dev.(daq.AnalogInput)
		if !ok {
			return nil, nil, fmt.Errorf("device type %q is not an analog input", ds.Type)
		}
		eng.AddAnalogInput(ai)
	}
	for _, ds := range cfg.AnalogOutputs {
		dev, err := makeDevice(ds, cfg.Simulation, "sim-ao")
		if err != nil {
			return nil, nil, err
		}
		ao, ok := dev.(daq.AnalogOutput)
		if !ok {
			return nil, nil, fmt.Errorf("device type %q is not an analog output", ds.Type)
		}
		eng.AddAnalogOutput(ao)
	}
	for _, ds := range cfg.Attenuators {
		dev, err := makeDevice(ds, cfg.Simulation, "pseudo-att")
		if err != nil {
			return nil, nil, err
		}
		att, ok := dev.(daq.Attenuator)
		if !ok {
			return nil, nil, fmt.Errorf("device type %q is not an attenuator", ds.Type)
		}
		eng.AddAttenuator(att)
	}

	eng.SetOutTraces(cfg.OutTraces)

	var traces data.InList
	for _, ts := range cfg.Traces {
		d := data.NewInData(ts.Name, ts.Capacity, 1.0/ts.SampleRate)
		d.Device = ts.Device
		d.Channel = ts.Channel
		d.Unit = ts.Unit
		d.GainIndex = ts.Gain
		d.Scale = ts.Scale
		d.Continuous = true
		if ts.Reference != "" {
			ref, err := data.ValidateReference(ts.Reference)
			if err != nil {
				return nil, nil, err
			}
			d.Reference = ref
		}
		traces = append(traces, d)
	}

	g := pipeline.NewGraph(traces)
	for _, det := range cfg.Detectors {
		events := data.NewEventData(det.Events, 1000000, true, true)
		events.SizeUnit = "mV"
		g.AddDetector(&pipeline.DynamicPeakDetector{
			Name:      det.Name,
			Peaks:     true,
			Threshold: det.Threshold,
			MinThresh: det.MinThresh,
			MaxThresh: det.MaxThresh,
			Decay:     det.Decay,
			Ratio:     det.Ratio,
			SubSample: true,
		}, det.Trace, events)
	}
	if err := g.Sort(); err != nil {
		return nil, nil, err
	}
	eng.SetPipeline(g)

	return eng, traces, nil
}

// makeDevice builds and opens one device, substituting the simulated
// type when simulation mode is on and the real device cannot open.
func makeDevice(ds DeviceSetup, simulation bool, simType string) (daq.Device, error) {
	dev, err := daq.Create(ds.Type)
	if err != nil {
		return nil, err
	}
	opts := options.Parse(ds.Args)
	if err := dev.Open(ds.Addr, opts); err != nil {
		if !simulation {
			return nil, fmt.Errorf("opening %s %s: %w", ds.Type, ds.Addr, err)
		}
		dev, err = daq.Create(simType)
		if err != nil {
			return nil, err
		}
		if err := dev.Open(ds.Addr, opts); err != nil {
			return nil, err
		}
	}
	return dev, nil
}
