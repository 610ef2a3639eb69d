// daqtest exercises a DAQ back-end from the command line: it opens the
// device, runs a short acquisition, emits a test stimulus and prints
// the resulting trace statistics.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/theckman/yacspin"

	_ "github.com/relacs/relacsd/attenuator"
	_ "github.com/relacs/relacsd/daqusb"

	"github.com/relacs/relacsd/daq"
	"github.com/relacs/relacsd/daqsim"
	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/engine"
)

var (
	aiType  = flag.String("ai", "sim-ai", "analog input device type")
	aoType  = flag.String("ao", "sim-ao", "analog output device type")
	addr    = flag.String("addr", "sim0", "device address, e.g. 09db:00ea")
	rate    = flag.Float64("rate", 20000, "sample rate in Hz")
	secs    = flag.Float64("secs", 2.0, "acquisition duration in seconds")
	channel = flag.Int("channel", 0, "input channel")
)

func spinnerFor(msg string) (*yacspin.Spinner, error) {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[14],
		Suffix:          " " + msg,
		SuffixAutoColon: true,
		StopCharacter:   "done",
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		return nil, err
	}
	return s, s.Start()
}

func main() {
	flag.Parse()

	spin, err := spinnerFor("opening devices")
	if err != nil {
		log.Fatal(err)
	}

	aiDev, err := daq.Create(*aiType)
	if err != nil {
		log.Fatal(err)
	}
	ai := aiDev.(daq.AnalogInput)
	if err := ai.Open(*addr, nil); err != nil {
		log.Fatalf("opening %s: %v", *aiType, err)
	}
	defer ai.Close()

	aoDev, err := daq.Create(*aoType)
	if err != nil {
		log.Fatal(err)
	}
	ao := aoDev.(daq.AnalogOutput)
	if err := ao.Open(*addr, nil); err != nil {
		log.Fatalf("opening %s: %v", *aoType, err)
	}
	defer ao.Close()

	eng := engine.New()
	eng.SetSyncMode(engine.AISync)
	eng.AddAnalogInput(ai)
	eng.AddAnalogOutput(ao)
	eng.SetOutTraces([]data.TraceSpec{
		{Name: "Test", Device: 0, Channel: 0, Unit: "V", MaxVoltage: 10},
	})

	trace := data.NewInData("In-1", *secs, 1.0 / *rate)
	trace.Channel = *channel
	trace.GainIndex = 0
	trace.Scale = 1.0
	trace.Continuous = true
	spin.Stop()

	spin, err = spinnerFor(fmt.Sprintf("acquiring %.1f s at %.0f Hz", *secs, *rate))
	if err != nil {
		log.Fatal(err)
	}
	if err := eng.Read(data.InList{trace}); err != nil {
		log.Fatalf("read: %v", err)
	}
	defer eng.Stop()

	if sim, ok := ai.(*daqsim.AnalogInput); ok {
		// self-contained run without hardware
		sim.SetWaveform(*channel, func(t float64) float64 { return 0.5 })
		go func() {
			tick := time.NewTicker(10 * time.Millisecond)
			defer tick.Stop()
			for range tick.C {
				sim.Produce(int(*rate / 100.0))
			}
		}()
	}

	deadline := time.Now().Add(time.Duration(*secs * float64(time.Second)))
	for time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
		spin.Message(fmt.Sprintf("%d samples", trace.Size()))
	}
	spin.Stop()

	spin, err = spinnerFor("writing test stimulus")
	if err != nil {
		log.Fatal(err)
	}
	o := data.NewOutData("Test", 1.0 / *rate)
	o.SineWave(0.1, 440.0, 1.0)
	o.Ident = "daqtest"
	if err := eng.Write(o); err != nil {
		log.Printf("write: %v", err)
	}
	spin.Stop()

	eng.LockTraces()
	fmt.Printf("samples:  %d\n", trace.Size())
	fmt.Printf("duration: %.3f s\n", trace.CurrentTime()-trace.MinTime())
	fmt.Printf("mean:     %.6f %s\n", trace.Mean(trace.MinTime(), trace.CurrentTime()), trace.Unit)
	fmt.Printf("stdev:    %.6f %s\n", trace.Stdev(trace.MinTime(), trace.CurrentTime()), trace.Unit)
	fmt.Printf("signal:   %.3f s\n", eng.SignalTime())
	eng.UnlockTraces()
}
