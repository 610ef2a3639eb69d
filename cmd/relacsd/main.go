// relacsd is the closed-loop electrophysiology daemon: it acquires
// analog traces, runs online event detection, schedules stimulus output
// through research protocols orchestrated by macros, and exposes an
// HTTP control surface.
package main

import (
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "github.com/go-yaml/yaml"

	_ "github.com/relacs/relacsd/attenuator"
	_ "github.com/relacs/relacsd/daqusb"

	"github.com/relacs/relacsd/daqsim"
	"github.com/relacs/relacsd/macro"
	"github.com/relacs/relacsd/repro"
	"github.com/relacs/relacsd/repros"
	"github.com/relacs/relacsd/server"
	"github.com/relacs/relacsd/session"
)

var (
	// Version is the version number, typically injected via ldflags
	Version = "dev"

	// ConfigFileName is what it sounds like
	ConfigFileName = "relacsd.yml"

	k = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `relacsd acquires analog signals, detects events online, and plays
stimuli back through the same hardware, orchestrated by macros of
research protocols.

Usage:
	relacsd <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `relacsd is configured via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, a self-contained simulation setup is
used.  The command mkconf writes the default configuration to disk as a
starting point; conf prints the active configuration.`
	fmt.Println(str)
}

func mkconf() {
	c := defaultConfig()
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := yml.NewEncoder(f).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := defaultConfig()
	k.Unmarshal("", &c)
	if err := yml.NewEncoder(os.Stdout).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("relacsd version %v\n", Version)
}

func run() {
	c := defaultConfig()
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}

	eng, traces, err := buildEngine(c)
	if err != nil {
		log.Fatal(err)
	}

	rt := repro.NewRuntime(eng)
	rt.Add(repros.NewBaseline())
	rt.Add(repros.NewFICurve())

	var sc *session.Controller
	me := macro.NewEngine(rt, macro.Hooks{
		StartSession: func() {
			if err := sc.Start(); err != nil {
				log.Printf("session: %v", err)
			}
		},
		StopSession: func() {
			if err := sc.Stop(true); err != nil {
				log.Printf("session: %v", err)
			}
		},
		SetSaving: func(on bool) { sc.SetSaving(on) },
		Message:   func(text string) { log.Printf("message: %s", text) },
	})
	sc = session.New(eng, rt, me, c.DataDir)

	if macros, warnings, err := macro.Load(c.MacroFile); err != nil {
		log.Printf("no macro file %q: %v", c.MacroFile, err)
	} else {
		if err := me.SetMacros(macros, warnings); err != nil {
			log.Fatal(err)
		}
		for _, w := range warnings {
			log.Printf("macros: %s", w)
		}
	}

	if err := eng.Read(traces); err != nil {
		log.Fatal(err)
	}
	defer eng.Stop()

	if c.Simulation {
		stop := make(chan struct{})
		defer close(stop)
		for _, ai := range eng.AnalogInputs() {
			sim, ok := ai.(*daqsim.AnalogInput)
			if !ok {
				continue
			}
			for _, ts := range c.Traces {
				sim.SetWaveform(ts.Channel, spontaneousWaveform(20.0, 60.0))
			}
			go simPacer(sim, c.Traces[0].SampleRate, stop)
		}
	}

	me.StartUp()
	me.FallBack(false)

	srv := server.New(eng, me, sc)
	log.Println("now listening for requests at", c.Addr)
	log.Fatal(srv.ListenAndServe(c.Addr))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	switch strings.ToLower(args[1]) {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		pversion()
	case "run":
		run()
	default:
		root()
	}
}

// spontaneousWaveform synthesises a membrane potential with a slow
// oscillation and regular spikes for simulation mode.
func spontaneousWaveform(rate, amplitude float64) daqsim.Waveform {
	period := 1.0 / rate
	return func(t float64) float64 {
		phase := math.Mod(t, period)
		v := 2.0 * math.Sin(2.0*math.Pi*t*7.3)
		if phase < 0.002 {
			v += amplitude
		}
		return v
	}
}

// simPacer produces blocks on a simulated input at the configured
// sample rate.
func simPacer(ai *daqsim.AnalogInput, sampleRate float64, stop <-chan struct{}) {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	block := int(sampleRate / 100.0)
	if block < 1 {
		block = 1
	}
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			ai.Produce(block)
		}
	}
}
