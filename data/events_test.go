package data

import (
	"math"
	"testing"
)

func TestPushMonotonic(t *testing.T) {
	e := NewEventData("Spikes-1", 100, false, false)
	if !e.Push(1.0) {
		t.Errorf("Push(1.0) dropped, want kept")
	}
	if !e.Push(2.0) {
		t.Errorf("Push(2.0) dropped, want kept")
	}
	if e.Push(1.5) {
		t.Errorf("Push(1.5) kept after 2.0, want dropped")
	}
	if e.Size() != 2 {
		t.Errorf("Size()==%d, want 2", e.Size())
	}
	if e.Back() != 2.0 {
		t.Errorf("Back()==%g, want 2", e.Back())
	}
}

func TestTimesMonotonicAcrossWrap(t *testing.T) {
	e := NewEventData("Spikes-1", 16, false, false)
	for i := 0; i < 100; i++ {
		e.Push(float64(i) * 0.01)
	}
	last := math.Inf(-1)
	for i := e.MinIndex(); i < e.Size(); i++ {
		if e.Time(i) < last {
			t.Fatalf("Time(%d)==%g < previous %g", i, e.Time(i), last)
		}
		last = e.Time(i)
	}
}

func TestCountAndRate(t *testing.T) {
	e := NewEventData("Spikes-1", 1000, false, false)
	for i := 0; i < 100; i++ {
		e.Push(float64(i) * 0.01) // 100 Hz
	}
	if n := e.Count(0.0, 0.5); n != 50 {
		t.Errorf("Count(0, 0.5)==%d, want 50", n)
	}
	if r := e.Rate(0.0, 1.0); math.Abs(r-100.0) > 1e-9 {
		t.Errorf("Rate(0, 1)==%g, want 100", r)
	}
}

func TestRunningMeanSize(t *testing.T) {
	e := NewEventData("Spikes-1", 100, true, false)
	e.SetMeanRatio(0.5)
	e.PushEvent(0.1, 10.0, 0)
	e.PushEvent(0.2, 10.0, 0)
	// mean = 0 + 0.5*10 = 5; then 5 + 0.5*(10-5) = 7.5
	if got := e.MeanSize(); math.Abs(got-7.5) > 1e-12 {
		t.Errorf("MeanSize()==%g, want 7.5", got)
	}
	e.UpdateMean(1)
	if got := e.MeanSize(); math.Abs(got-3.75) > 1e-12 {
		t.Errorf("MeanSize() after decay==%g, want 3.75", got)
	}
}

func TestAddFrequency(t *testing.T) {
	e := NewEventData("Spikes-1", 1000, false, false)
	for i := 0; i < 100; i++ {
		e.Push(float64(i) * 0.01)
	}
	rate := NewSampleData(0.0, 1.0, 0.1)
	trial := 0
	e.AddFrequency(rate, &trial, 0.0)
	if trial != 1 {
		t.Errorf("trial==%d after first AddFrequency, want 1", trial)
	}
	for k := 0; k < rate.Size(); k++ {
		if math.Abs(rate.Values[k]-100.0) > 1e-9 {
			t.Errorf("rate[%d]==%g, want 100", k, rate.Values[k])
		}
	}
	// a silent second trial halves the estimate
	silent := NewEventData("Spikes-2", 10, false, false)
	silent.AddFrequency(rate, &trial, 0.0)
	if trial != 2 {
		t.Errorf("trial==%d after second AddFrequency, want 2", trial)
	}
	for k := 0; k < rate.Size(); k++ {
		if math.Abs(rate.Values[k]-50.0) > 1e-9 {
			t.Errorf("rate[%d]==%g after silent trial, want 50", k, rate.Values[k])
		}
	}
}

func TestEventRestartMarkers(t *testing.T) {
	e := NewEventData("Spikes-1", 100, false, false)
	e.Push(0.5)
	e.Restart(2.0)
	if len(e.Restarts()) != 1 {
		t.Fatalf("len(Restarts())==%d, want 1", len(e.Restarts()))
	}
	if e.Restarts()[0].Index != 1 {
		t.Errorf("restart index==%d, want 1", e.Restarts()[0].Index)
	}
	if !e.Push(2.5) {
		t.Errorf("Push(2.5) after restart dropped, want kept")
	}
}

func TestOutListHomogeneous(t *testing.T) {
	a := NewOutData("Left", 1e-4)
	a.ConstWave(0.1, 1.0)
	b := NewOutData("Right", 1e-4)
	b.ConstWave(0.1, 1.0)
	ol := OutList{a, b}
	if !ol.CheckHomogeneous() {
		t.Errorf("homogeneous list flagged, want ok; %s", ol.ErrorText())
	}
	b.Delay = 0.05
	b.Priority = true
	if ol.CheckHomogeneous() {
		t.Errorf("mixed list passed, want MultipleDelays and MultiplePriorities")
	}
	if !b.Err.Has(MultipleDelays) || !b.Err.Has(MultiplePriorities) {
		t.Errorf("error bits==%v, want MultipleDelays|MultiplePriorities", b.Err)
	}
}
