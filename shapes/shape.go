package shapes

import (
	"math"
	"sort"
)

// Shape is a geometric body: a unit-space primitive placed into world
// coordinates by an affine transform.
type Shape interface {
	// Name identifies the shape
	Name() string
	// Trafo returns the shape's transform for modification
	Trafo() *Transform
	// Inside reports whether the world point p lies in the shape
	Inside(p Point) bool
	// BoundingBoxMin returns the lower corner of the world bounding box
	BoundingBoxMin() Point
	// BoundingBoxMax returns the upper corner of the world bounding box
	BoundingBoxMax() Point
	// IntersectionPoints returns the first and last point of segment
	// [a, b] on the shape's surface; an endpoint inside the shape is
	// returned in its place.  Both points are None when the segment
	// misses the shape.
	IntersectionPoints(a, b Point) (Point, Point)
	// Copy returns an independent deep copy
	Copy() Shape
}

// base carries the name and transform every shape shares.
type base struct {
	name  string
	trafo Transform
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Trafo() *Transform {
	return &b.trafo
}

// unitShape is the primitive-specific part in unit space.
type unitShape interface {
	insideUnit(p Point) bool
	// unitIntersect returns the sorted line parameters where the line
	// a + t*(b-a) crosses the unit surface
	unitIntersect(a, b Point) []float64
	unitCorners() []Point
}

// worldInside maps the inside test through the inverse transform.
func worldInside(b *base, u unitShape, p Point) bool {
	q := b.trafo.ApplyInverse(p)
	if q.IsNone() {
		return false
	}
	return u.insideUnit(q)
}

// worldBoundingBox transforms the unit-space corners and wraps them.
func worldBoundingBox(b *base, u unitShape) (Point, Point) {
	corners := u.unitCorners()
	min := Point{math.Inf(1), math.Inf(1), math.Inf(1)}
	max := Point{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, c := range corners {
		w := b.trafo.Apply(c)
		min = min.Min(w)
		max = max.Max(w)
	}
	return min, max
}

// worldIntersect solves the segment intersection in unit space and maps
// the result back.
func worldIntersect(b *base, u unitShape, a, bb Point) (Point, Point) {
	ua := b.trafo.ApplyInverse(a)
	ub := b.trafo.ApplyInverse(bb)
	if ua.IsNone() || ub.IsNone() {
		return None, None
	}
	ts := u.unitIntersect(ua, ub)
	if len(ts) < 2 {
		return None, None
	}
	t1, t2 := ts[0], ts[len(ts)-1]
	if t2 < 0 || t1 > 1 {
		return None, None
	}
	// an endpoint inside the shape replaces its intersection point
	if t1 < 0 {
		t1 = 0
	}
	if t2 > 1 {
		t2 = 1
	}
	p1 := a.Add(bb.Sub(a).Scale(t1))
	p2 := a.Add(bb.Sub(a).Scale(t2))
	return p1, p2
}

// Sphere is the unit sphere around the origin, placed by its transform.
type Sphere struct {
	base
	unit sphereUnit
}

// NewSphere creates a sphere with the given world center and radius.
func NewSphere(name string, center Point, radius float64) *Sphere {
	s := &Sphere{base: base{name: name, trafo: Identity()}}
	s.trafo.ScaleUniform(radius)
	s.trafo.TranslateP(center)
	return s
}

type sphereUnit struct{}

func (sphereUnit) insideUnit(p Point) bool {
	return p.Norm() <= 1.0
}

func (sphereUnit) unitIntersect(a, b Point) []float64 {
	d := b.Sub(a)
	A := d.Dot(d)
	if A == 0 {
		return nil
	}
	B := 2 * a.Dot(d)
	C := a.Dot(a) - 1
	disc := B*B - 4*A*C
	if disc < 0 {
		return nil
	}
	sq := math.Sqrt(disc)
	return []float64{(-B - sq) / (2 * A), (-B + sq) / (2 * A)}
}

func (sphereUnit) unitCorners() []Point {
	return boxCorners(Point{-1, -1, -1}, Point{1, 1, 1})
}

// Inside reports whether p lies in the sphere.
func (s *Sphere) Inside(p Point) bool { return worldInside(&s.base, s.unit, p) }

// BoundingBoxMin returns the lower corner of the bounding box.
func (s *Sphere) BoundingBoxMin() Point { min, _ := worldBoundingBox(&s.base, s.unit); return min }

// BoundingBoxMax returns the upper corner of the bounding box.
func (s *Sphere) BoundingBoxMax() Point { _, max := worldBoundingBox(&s.base, s.unit); return max }

// IntersectionPoints intersects segment [a, b] with the sphere surface.
func (s *Sphere) IntersectionPoints(a, b Point) (Point, Point) {
	return worldIntersect(&s.base, s.unit, a, b)
}

// Copy returns an independent copy.
func (s *Sphere) Copy() Shape {
	c := *s
	c.trafo.inv = nil
	return &c
}

// Radius returns the world radius along the x axis.
func (s *Sphere) Radius() float64 {
	return s.trafo.Apply(UnitX).Distance(s.trafo.Apply(Origin))
}

// Cylinder is the unit cylinder: x in [0, 1], y*y + z*z <= 1.
type Cylinder struct {
	base
	unit cylinderUnit
}

// NewCylinder creates a cylinder with its anchor on the axis start,
// extending length along x with the given radius.
func NewCylinder(name string, anchor Point, radius, length float64) *Cylinder {
	c := &Cylinder{base: base{name: name, trafo: Identity()}}
	c.trafo.Scale(length, radius, radius)
	c.trafo.TranslateP(anchor)
	return c
}

type cylinderUnit struct{}

func (cylinderUnit) insideUnit(p Point) bool {
	return p.X >= 0 && p.X <= 1 && p.Y*p.Y+p.Z*p.Z <= 1.0
}

func (cylinderUnit) unitIntersect(a, b Point) []float64 {
	d := b.Sub(a)
	var ts []float64
	// mantle
	A := d.Y*d.Y + d.Z*d.Z
	if A > 0 {
		B := 2 * (a.Y*d.Y + a.Z*d.Z)
		C := a.Y*a.Y + a.Z*a.Z - 1
		disc := B*B - 4*A*C
		if disc >= 0 {
			sq := math.Sqrt(disc)
			for _, t := range []float64{(-B - sq) / (2 * A), (-B + sq) / (2 * A)} {
				x := a.X + t*d.X
				if x >= 0 && x <= 1 {
					ts = append(ts, t)
				}
			}
		}
	}
	// caps
	if d.X != 0 {
		for _, x0 := range []float64{0, 1} {
			t := (x0 - a.X) / d.X
			y := a.Y + t*d.Y
			z := a.Z + t*d.Z
			if y*y+z*z <= 1 {
				ts = append(ts, t)
			}
		}
	}
	sort.Float64s(ts)
	return ts
}

func (cylinderUnit) unitCorners() []Point {
	return boxCorners(Point{0, -1, -1}, Point{1, 1, 1})
}

// Inside reports whether p lies in the cylinder.
func (c *Cylinder) Inside(p Point) bool { return worldInside(&c.base, c.unit, p) }

// BoundingBoxMin returns the lower corner of the bounding box.
func (c *Cylinder) BoundingBoxMin() Point { min, _ := worldBoundingBox(&c.base, c.unit); return min }

// BoundingBoxMax returns the upper corner of the bounding box.
func (c *Cylinder) BoundingBoxMax() Point { _, max := worldBoundingBox(&c.base, c.unit); return max }

// IntersectionPoints intersects segment [a, b] with the cylinder
// surface.
func (c *Cylinder) IntersectionPoints(a, b Point) (Point, Point) {
	return worldIntersect(&c.base, c.unit, a, b)
}

// Copy returns an independent copy.
func (c *Cylinder) Copy() Shape {
	cc := *c
	cc.trafo.inv = nil
	return &cc
}

// Cuboid is the unit cube [0, 1]^3.
type Cuboid struct {
	base
	unit cuboidUnit
}

// NewCuboid creates an axis-aligned box with the given corner and edge
// lengths.
func NewCuboid(name string, corner Point, lx, ly, lz float64) *Cuboid {
	c := &Cuboid{base: base{name: name, trafo: Identity()}}
	c.trafo.Scale(lx, ly, lz)
	c.trafo.TranslateP(corner)
	return c
}

type cuboidUnit struct{}

func (cuboidUnit) insideUnit(p Point) bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1 && p.Z >= 0 && p.Z <= 1
}

func (cuboidUnit) unitIntersect(a, b Point) []float64 {
	// slab clipping
	d := b.Sub(a)
	tmin := math.Inf(-1)
	tmax := math.Inf(1)
	av := [3]float64{a.X, a.Y, a.Z}
	dv := [3]float64{d.X, d.Y, d.Z}
	for i := 0; i < 3; i++ {
		if dv[i] == 0 {
			if av[i] < 0 || av[i] > 1 {
				return nil
			}
			continue
		}
		t0 := (0 - av[i]) / dv[i]
		t1 := (1 - av[i]) / dv[i]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tmin {
			tmin = t0
		}
		if t1 < tmax {
			tmax = t1
		}
	}
	if tmin > tmax {
		return nil
	}
	return []float64{tmin, tmax}
}

func (cuboidUnit) unitCorners() []Point {
	return boxCorners(Point{0, 0, 0}, Point{1, 1, 1})
}

// Inside reports whether p lies in the cuboid.
func (c *Cuboid) Inside(p Point) bool { return worldInside(&c.base, c.unit, p) }

// BoundingBoxMin returns the lower corner of the bounding box.
func (c *Cuboid) BoundingBoxMin() Point { min, _ := worldBoundingBox(&c.base, c.unit); return min }

// BoundingBoxMax returns the upper corner of the bounding box.
func (c *Cuboid) BoundingBoxMax() Point { _, max := worldBoundingBox(&c.base, c.unit); return max }

// IntersectionPoints intersects segment [a, b] with the cuboid surface.
func (c *Cuboid) IntersectionPoints(a, b Point) (Point, Point) {
	return worldIntersect(&c.base, c.unit, a, b)
}

// Copy returns an independent copy.
func (c *Cuboid) Copy() Shape {
	cc := *c
	cc.trafo.inv = nil
	return &cc
}

func boxCorners(min, max Point) []Point {
	return []Point{
		{min.X, min.Y, min.Z}, {max.X, min.Y, min.Z},
		{min.X, max.Y, min.Z}, {max.X, max.Y, min.Z},
		{min.X, min.Y, max.Z}, {max.X, min.Y, max.Z},
		{min.X, max.Y, max.Z}, {max.X, max.Y, max.Z},
	}
}
