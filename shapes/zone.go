package shapes

import (
	"math"
	"sort"
)

// zoneEntry is one CSG operand.  The zone owns the shape; consumers
// refer to entries by index, never by pointer.
type zoneEntry struct {
	shape Shape
	added bool
}

// Zone is a CSG tree over shapes: operands are applied in order, later
// operands override earlier ones, so a subtracted shape carves out of
// everything added before it.
type Zone struct {
	base
	entries []zoneEntry
}

// NewZone creates an empty zone.
func NewZone(name string) *Zone {
	return &Zone{base: base{name: name, trafo: Identity()}}
}

// Add unions a copy of s into the zone.
func (z *Zone) Add(s Shape) {
	z.entries = append(z.entries, zoneEntry{shape: s.Copy(), added: true})
}

// Subtract carves a copy of s out of the zone.
func (z *Zone) Subtract(s Shape) {
	z.entries = append(z.entries, zoneEntry{shape: s.Copy(), added: false})
}

// Size returns the number of operands.
func (z *Zone) Size() int {
	return len(z.entries)
}

// Shape returns operand i, or nil.
func (z *Zone) Shape(i int) Shape {
	if i < 0 || i >= len(z.entries) {
		return nil
	}
	return z.entries[i].shape
}

// Added reports whether operand i is unioned (true) or subtracted.
func (z *Zone) Added(i int) bool {
	if i < 0 || i >= len(z.entries) {
		return false
	}
	return z.entries[i].added
}

// ShapeByName returns the first operand with the given name, or nil.
func (z *Zone) ShapeByName(name string) Shape {
	for _, e := range z.entries {
		if e.shape.Name() == name {
			return e.shape
		}
	}
	return nil
}

// Inside evaluates the CSG tree: the last operand containing p wins.
func (z *Zone) Inside(p Point) bool {
	q := z.trafo.ApplyInverse(p)
	if q.IsNone() {
		return false
	}
	inside := false
	for _, e := range z.entries {
		if e.shape.Inside(q) {
			inside = e.added
		}
	}
	return inside
}

// BoundingBoxMin returns the lower corner over all added operands.
func (z *Zone) BoundingBoxMin() Point {
	min := Point{math.Inf(1), math.Inf(1), math.Inf(1)}
	any := false
	for _, e := range z.entries {
		if !e.added {
			continue
		}
		min = min.Min(z.trafo.Apply(e.shape.BoundingBoxMin()))
		any = true
	}
	if !any {
		return None
	}
	return min
}

// BoundingBoxMax returns the upper corner over all added operands.
func (z *Zone) BoundingBoxMax() Point {
	max := Point{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	any := false
	for _, e := range z.entries {
		if !e.added {
			continue
		}
		max = max.Max(z.trafo.Apply(e.shape.BoundingBoxMax()))
		any = true
	}
	if !any {
		return None
	}
	return max
}

// IntersectionPoints finds the first and last boundary crossing of
// segment [a, b] with the zone.  Crossings are located by evaluating
// the inside state between the candidate parameters contributed by all
// operand surfaces.
func (z *Zone) IntersectionPoints(a, b Point) (Point, Point) {
	ua := z.trafo.ApplyInverse(a)
	ub := z.trafo.ApplyInverse(b)
	if ua.IsNone() || ub.IsNone() {
		return None, None
	}

	// candidate boundary parameters from every operand surface
	ts := []float64{0, 1}
	for _, e := range z.entries {
		p1, p2 := e.shape.IntersectionPoints(ua, ub)
		for _, p := range []Point{p1, p2} {
			if p.IsNone() {
				continue
			}
			ts = append(ts, segmentParam(ua, ub, p))
		}
	}
	sort.Float64s(ts)

	var first, last float64 = math.NaN(), math.NaN()
	dir := ub.Sub(ua)
	for i := 0; i < len(ts); i++ {
		t := ts[i]
		if t < 0 || t > 1 {
			continue
		}
		p := ua.Add(dir.Scale(t))
		if !z.insideUnitSpace(p) {
			continue
		}
		if math.IsNaN(first) {
			first = t
		}
		last = t
	}
	if math.IsNaN(first) {
		return None, None
	}
	p1 := a.Add(b.Sub(a).Scale(first))
	p2 := a.Add(b.Sub(a).Scale(last))
	return p1, p2
}

// insideUnitSpace is Inside without the zone's own transform, for
// points already mapped into the zone's space.
func (z *Zone) insideUnitSpace(p Point) bool {
	inside := false
	for _, e := range z.entries {
		if e.shape.Inside(p) {
			inside = e.added
		}
	}
	return inside
}

// Copy returns an independent deep copy.
func (z *Zone) Copy() Shape {
	c := NewZone(z.name)
	c.trafo = z.trafo
	c.trafo.inv = nil
	for _, e := range z.entries {
		c.entries = append(c.entries, zoneEntry{shape: e.shape.Copy(), added: e.added})
	}
	return c
}

func segmentParam(a, b, p Point) float64 {
	d := b.Sub(a)
	den := d.Dot(d)
	if den == 0 {
		return 0
	}
	return p.Sub(a).Dot(d) / den
}
