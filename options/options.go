// Package options implements the ordered key=value parameter collections
// that macros, research protocols, and the session metadata are built
// from.
//
// Values keep their unit suffix ("0.5s", "500Hz"); Number splits value
// and unit on demand.  Parameter order is preserved so dialogs and data
// file headers render options the way they were declared.
package options

import (
	"fmt"
	"strconv"
	"strings"
)

// Parameter is a single named value with an optional unit.
type Parameter struct {
	Name  string
	Value string
}

// Options is an ordered collection of parameters.
type Options struct {
	params []Parameter
}

// New creates an empty Options collection.
func New() *Options {
	return &Options{}
}

// Parse creates an Options collection from a "key=value; key2=value2"
// string.  Empty segments are ignored.
func Parse(s string) *Options {
	o := New()
	o.Load(s)
	return o
}

// Load merges the parameters of a "key=value; key2=value2" string into
// the collection, overwriting existing names in place.
func (o *Options) Load(s string) {
	for _, seg := range strings.Split(s, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		eq := strings.Index(seg, "=")
		if eq < 0 {
			o.Set(seg, "")
			continue
		}
		o.Set(strings.TrimSpace(seg[:eq]), strings.TrimSpace(seg[eq+1:]))
	}
}

// Len returns the number of parameters.
func (o *Options) Len() int {
	return len(o.params)
}

// Names returns the parameter names in declaration order.
func (o *Options) Names() []string {
	names := make([]string, len(o.params))
	for i, p := range o.params {
		names[i] = p.Name
	}
	return names
}

// Has reports whether the parameter name exists.
func (o *Options) Has(name string) bool {
	_, ok := o.find(name)
	return ok
}

func (o *Options) find(name string) (int, bool) {
	for i, p := range o.params {
		if p.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Set assigns a parameter, preserving its position if it already exists.
func (o *Options) Set(name, value string) {
	if i, ok := o.find(name); ok {
		o.params[i].Value = value
		return
	}
	o.params = append(o.params, Parameter{Name: name, Value: value})
}

// Text returns the raw value of a parameter, or the default if the name
// is not set.
func (o *Options) Text(name, dflt string) string {
	if i, ok := o.find(name); ok {
		return o.params[i].Value
	}
	return dflt
}

// Number returns the numeric part of a parameter's value and its unit
// suffix.  "0.5s" yields (0.5, "s").  Unparseable or missing values
// return the default with an empty unit.
func (o *Options) Number(name string, dflt float64) (float64, string) {
	i, ok := o.find(name)
	if !ok {
		return dflt, ""
	}
	return SplitNumber(o.params[i].Value, dflt)
}

// SetNumber assigns a numeric parameter with a unit suffix.
func (o *Options) SetNumber(name string, v float64, unit string) {
	o.Set(name, strconv.FormatFloat(v, 'g', -1, 64)+unit)
}

// Integer returns a parameter as int, or the default.
func (o *Options) Integer(name string, dflt int) int {
	v, _ := o.Number(name, float64(dflt))
	return int(v)
}

// Boolean returns a parameter as bool.  "true", "yes", "1" are true.
func (o *Options) Boolean(name string, dflt bool) bool {
	i, ok := o.find(name)
	if !ok {
		return dflt
	}
	switch strings.ToLower(o.params[i].Value) {
	case "true", "yes", "1":
		return true
	case "false", "no", "0":
		return false
	default:
		return dflt
	}
}

// Merge copies all parameters of other into o, overwriting same names.
func (o *Options) Merge(other *Options) {
	if other == nil {
		return
	}
	for _, p := range other.params {
		o.Set(p.Name, p.Value)
	}
}

// Clone returns a deep copy.
func (o *Options) Clone() *Options {
	c := New()
	c.params = append(c.params, o.params...)
	return c
}

// Delete removes a parameter; unknown names are a no-op.
func (o *Options) Delete(name string) {
	if i, ok := o.find(name); ok {
		o.params = append(o.params[:i], o.params[i+1:]...)
	}
}

// String renders the collection as "key=value; key2=value2".
func (o *Options) String() string {
	parts := make([]string, len(o.params))
	for i, p := range o.params {
		parts[i] = p.Name + "=" + p.Value
	}
	return strings.Join(parts, "; ")
}

// Each calls fn for every parameter in declaration order.
func (o *Options) Each(fn func(name, value string)) {
	for _, p := range o.params {
		fn(p.Name, p.Value)
	}
}

// SplitNumber splits a value like "0.5s" or "500 Hz" into number and
// unit.  Unparseable values return the default and the full string as
// unit.
func SplitNumber(s string, dflt float64) (float64, string) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' || c == '.' || c == '-' || c == '+' ||
			c == 'e' || c == 'E' {
			// exponent sign only counts after e/E
			if (c == '-' || c == '+') && end > 0 && s[end-1] != 'e' && s[end-1] != 'E' {
				break
			}
			end++
			continue
		}
		break
	}
	if end == 0 {
		return dflt, s
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return dflt, s
	}
	return v, strings.TrimSpace(s[end:])
}

// FormatNumber renders a number with its unit the way option values are
// written.
func FormatNumber(v float64, unit string) string {
	return fmt.Sprintf("%g%s", v, unit)
}
