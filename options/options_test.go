package options

import (
	"math"
	"testing"
)

func TestParseAndString(t *testing.T) {
	o := Parse("duration=0.2s; repeats=3; pause=1s")
	if o.Len() != 3 {
		t.Fatalf("Len()==%d, want 3", o.Len())
	}
	if got := o.Text("duration", ""); got != "0.2s" {
		t.Errorf("Text(duration)==%q, want 0.2s", got)
	}
	if got := o.String(); got != "duration=0.2s; repeats=3; pause=1s" {
		t.Errorf("String()==%q", got)
	}
}

func TestNumberWithUnit(t *testing.T) {
	o := Parse("duration=0.2s; carrier=500Hz; gap=5 ms")
	v, u := o.Number("duration", 0)
	if v != 0.2 || u != "s" {
		t.Errorf("Number(duration)==%g, %q, want 0.2, s", v, u)
	}
	v, u = o.Number("carrier", 0)
	if v != 500 || u != "Hz" {
		t.Errorf("Number(carrier)==%g, %q, want 500, Hz", v, u)
	}
	v, u = o.Number("gap", 0)
	if v != 5 || u != "ms" {
		t.Errorf("Number(gap)==%g, %q, want 5, ms", v, u)
	}
	if v, _ := o.Number("missing", 7.5); v != 7.5 {
		t.Errorf("Number(missing)==%g, want default 7.5", v)
	}
}

func TestMergeKeepsOrder(t *testing.T) {
	a := Parse("duration=0.2s; repeats=3")
	b := Parse("duration=0.5s")
	a.Merge(b)
	if got := a.String(); got != "duration=0.5s; repeats=3" {
		t.Errorf("merged String()==%q, want duration=0.5s; repeats=3", got)
	}
}

func TestSetNumberRoundTrip(t *testing.T) {
	o := New()
	o.SetNumber("amplitude", 2.5, "mV")
	v, u := o.Number("amplitude", 0)
	if math.Abs(v-2.5) > 1e-12 || u != "mV" {
		t.Errorf("round trip==%g, %q, want 2.5, mV", v, u)
	}
}

func TestBooleanAndInteger(t *testing.T) {
	o := Parse("save=yes; count=12")
	if !o.Boolean("save", false) {
		t.Errorf("Boolean(save)==false, want true")
	}
	if o.Integer("count", 0) != 12 {
		t.Errorf("Integer(count)==%d, want 12", o.Integer("count", 0))
	}
	if o.Boolean("missing", true) != true {
		t.Errorf("Boolean(missing) default lost")
	}
}

func TestScientificNotation(t *testing.T) {
	v, u := SplitNumber("1e-3s", 0)
	if v != 1e-3 || u != "s" {
		t.Errorf("SplitNumber(1e-3s)==%g, %q, want 0.001, s", v, u)
	}
}
