// Package pipeline evaluates the dependency-ordered graph of filters and
// event detectors that turn raw input traces into derived traces and
// event streams.
//
// Nodes are sorted topologically when the graph is built and evaluated
// incrementally as new samples arrive: every node is called with the
// index range [from, to) of fresh samples available on all of its
// inputs.  Processing is idempotent per index range; a node never sees
// the same sample twice and never emits an event twice.
package pipeline

import (
	"fmt"

	"github.com/relacs/relacsd/data"
)

// Filter derives an output trace from an input trace.
type Filter interface {
	Ident() string
	// Process consumes input samples [from, to) and pushes derived
	// samples into out.
	Process(in *data.InData, out *data.InData, from, to int) error
	// Reset discards internal state after a restart
	Reset()
}

// Detector derives an event stream from an input trace.
type Detector interface {
	Ident() string
	// Detect consumes input samples [from, to) and pushes accepted
	// events into out.
	Detect(in *data.InData, out *data.EventData, from, to int) error
	// Reset discards internal state after a restart
	Reset()
}

// EventFilter derives an event stream from another event stream.
type EventFilter interface {
	Ident() string
	// FilterEvents consumes input events [from, to) and pushes
	// accepted events into out.
	FilterEvents(in *data.EventData, out *data.EventData, from, to int) error
	// Reset discards internal state after a restart
	Reset()
}

type nodeKind int

const (
	kindFilter nodeKind = iota
	kindDetector
	kindEventFilter
)

type node struct {
	kind nodeKind

	filter   Filter
	detector Detector
	evfilter EventFilter

	inTrace  string
	inEvents string
	outName  string

	last int // first unprocessed input index
}

func (n *node) ident() string {
	switch n.kind {
	case kindFilter:
		return n.filter.Ident()
	case kindDetector:
		return n.detector.Ident()
	default:
		return n.evfilter.Ident()
	}
}

func (n *node) input() string {
	if n.kind == kindEventFilter {
		return n.inEvents
	}
	return n.inTrace
}

func (n *node) reset() {
	switch n.kind {
	case kindFilter:
		n.filter.Reset()
	case kindDetector:
		n.detector.Reset()
	default:
		n.evfilter.Reset()
	}
}

// Graph is the configured pipeline.  Nodes hold names of traces and
// event streams, not pointers; the graph resolves names against the
// trace and event registries it was built with.
type Graph struct {
	nodes  []*node
	traces map[string]*data.InData
	events map[string]*data.EventData
}

// NewGraph creates an empty pipeline over the given raw traces.
func NewGraph(traces data.InList) *Graph {
	g := &Graph{
		traces: map[string]*data.InData{},
		events: map[string]*data.EventData{},
	}
	for _, d := range traces {
		g.traces[d.Ident] = d
	}
	return g
}

// AddFilter appends a trace filter reading inTrace and producing the
// derived trace out.
func (g *Graph) AddFilter(f Filter, inTrace string, out *data.InData) {
	out.RawSource = false
	g.traces[out.Ident] = out
	g.nodes = append(g.nodes, &node{kind: kindFilter, filter: f, inTrace: inTrace, outName: out.Ident})
}

// AddDetector appends an event detector reading inTrace and producing
// the event stream out.
func (g *Graph) AddDetector(d Detector, inTrace string, out *data.EventData) {
	g.events[out.Ident] = out
	g.nodes = append(g.nodes, &node{kind: kindDetector, detector: d, inTrace: inTrace, outName: out.Ident})
}

// AddEventFilter appends an event filter reading inEvents and producing
// the event stream out.
func (g *Graph) AddEventFilter(f EventFilter, inEvents string, out *data.EventData) {
	g.events[out.Ident] = out
	g.nodes = append(g.nodes, &node{kind: kindEventFilter, evfilter: f, inEvents: inEvents, outName: out.Ident})
}

// Trace returns a trace by name, raw or derived.
func (g *Graph) Trace(name string) *data.InData {
	return g.traces[name]
}

// Events returns an event stream by name.
func (g *Graph) Events(name string) *data.EventData {
	return g.events[name]
}

// Sort orders the nodes so every producer runs before its consumers.
// It returns an error on unresolved inputs or cyclic dependencies.
func (g *Graph) Sort() error {
	produced := map[string]int{} // output name -> node index
	for i, n := range g.nodes {
		produced[n.outName] = i
	}
	// raw traces are available from the start
	type state int
	const (
		white state = iota
		grey
		black
	)
	marks := make([]state, len(g.nodes))
	var order []*node

	var visit func(i int) error
	visit = func(i int) error {
		switch marks[i] {
		case black:
			return nil
		case grey:
			return fmt.Errorf("pipeline: cycle through %q", g.nodes[i].ident())
		}
		marks[i] = grey
		in := g.nodes[i].input()
		if j, ok := produced[in]; ok {
			if err := visit(j); err != nil {
				return err
			}
		} else if g.traces[in] == nil && g.events[in] == nil {
			return fmt.Errorf("pipeline: node %q consumes unknown input %q", g.nodes[i].ident(), in)
		}
		marks[i] = black
		order = append(order, g.nodes[i])
		return nil
	}
	for i := range g.nodes {
		if err := visit(i); err != nil {
			return err
		}
	}
	g.nodes = order
	return nil
}

// Process evaluates all nodes over the samples that arrived since the
// previous call.  It is called on the acquisition reader after every
// converted block.
func (g *Graph) Process() error {
	for _, n := range g.nodes {
		switch n.kind {
		case kindFilter:
			in := g.traces[n.inTrace]
			out := g.traces[n.outName]
			to := in.Size()
			if n.last < in.MinIndex() {
				n.last = in.MinIndex()
			}
			if to <= n.last {
				continue
			}
			if err := n.filter.Process(in, out, n.last, to); err != nil {
				return fmt.Errorf("filter %q: %w", n.filter.Ident(), err)
			}
			n.last = to

		case kindDetector:
			in := g.traces[n.inTrace]
			out := g.events[n.outName]
			to := in.Size()
			if n.last < in.MinIndex() {
				n.last = in.MinIndex()
			}
			if to <= n.last {
				continue
			}
			if err := n.detector.Detect(in, out, n.last, to); err != nil {
				return fmt.Errorf("detector %q: %w", n.detector.Ident(), err)
			}
			n.last = to

		case kindEventFilter:
			in := g.events[n.inEvents]
			out := g.events[n.outName]
			to := in.Size()
			if n.last < in.MinIndex() {
				n.last = in.MinIndex()
			}
			if to <= n.last {
				continue
			}
			if err := n.evfilter.FilterEvents(in, out, n.last, to); err != nil {
				return fmt.Errorf("event filter %q: %w", n.evfilter.Ident(), err)
			}
			n.last = to
		}
	}
	return nil
}

// Restart resets all node state and stamps a restart marker on every
// derived trace and event stream.  Pending partial detections are
// discarded, so no event can straddle the marker.
func (g *Graph) Restart(wallTime float64) {
	for _, n := range g.nodes {
		n.reset()
		switch n.kind {
		case kindFilter:
			g.traces[n.outName].Restart(wallTime)
			// skip samples of the old arming that were not yet consumed
			n.last = g.traces[n.inTrace].Size()
		case kindDetector:
			g.events[n.outName].Restart(wallTime)
			n.last = g.traces[n.inTrace].Size()
		case kindEventFilter:
			g.events[n.outName].Restart(wallTime)
			n.last = g.events[n.inEvents].Size()
		}
	}
}

// SetSignal forwards a stimulus emission time to every event stream.
// Traces, raw or derived, are not updated here.
func (g *Graph) SetSignal(t float64) {
	for _, e := range g.events {
		e.SetSignal(t)
	}
}
