package data

import "strings"

// InList is an ordered collection of input traces handed to an analog
// input device as one acquisition request.
type InList []*InData

// ClearError resets the error state of every trace.
func (il InList) ClearError() {
	for _, d := range il {
		d.ClearError()
	}
}

// Failed reports whether any trace carries an error.
func (il InList) Failed() bool {
	for _, d := range il {
		if !d.Err.Ok() {
			return true
		}
	}
	return false
}

// ErrorText joins the error descriptions of all failed traces.
func (il InList) ErrorText() string {
	var parts []string
	for _, d := range il {
		if d.Err.Ok() {
			continue
		}
		s := d.Ident + ": " + d.Err.Error()
		if d.ErrStr != "" {
			s += " (" + d.ErrStr + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// Find returns the trace with the given ident, or nil.
func (il InList) Find(ident string) *InData {
	for _, d := range il {
		if d.Ident == ident {
			return d
		}
	}
	return nil
}

// OutList is an ordered collection of output signals armed together.
type OutList []*OutData

// ClearError resets the error state of every signal.
func (ol OutList) ClearError() {
	for _, o := range ol {
		o.ClearError()
	}
}

// Failed reports whether any signal carries an error.
func (ol OutList) Failed() bool {
	for _, o := range ol {
		if !o.Err.Ok() {
			return true
		}
	}
	return false
}

// Success reports whether no signal carries an error.
func (ol OutList) Success() bool {
	return !ol.Failed()
}

// ErrorText joins the error descriptions of all failed signals.
func (ol OutList) ErrorText() string {
	var parts []string
	for _, o := range ol {
		if o.Err.Ok() {
			continue
		}
		s := o.TraceName + ": " + o.Err.Error()
		if o.ErrStr != "" {
			s += " (" + o.ErrStr + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// CheckHomogeneous validates that all signals of the list agree on delay
// and priority and marks offenders with MultipleDelays or
// MultiplePriorities.  The return reports whether the list is consistent.
func (ol OutList) CheckHomogeneous() bool {
	if len(ol) < 2 {
		return true
	}
	ok := true
	for _, o := range ol[1:] {
		if o.Delay != ol[0].Delay {
			o.AddError(MultipleDelays)
			ok = false
		}
		if o.Priority != ol[0].Priority {
			o.AddError(MultiplePriorities)
			ok = false
		}
	}
	return ok
}

// MaxDuration returns the longest signal duration in the list.
func (ol OutList) MaxDuration() float64 {
	d := 0.0
	for _, o := range ol {
		if o.Duration() > d {
			d = o.Duration()
		}
	}
	return d
}
