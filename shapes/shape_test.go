package shapes

import (
	"math"
	"testing"
)

const eps = 1e-9

func near(a, b Point, tol float64) bool {
	return a.Distance(b) <= tol
}

// TestTransformRoundTrip checks ApplyInverse(Apply(p)) == p within 1e-9
// per coordinate for transforms built from translate/rotate/scale.
func TestTransformRoundTrip(t *testing.T) {
	tr := Identity()
	tr.ScaleUniform(2.5)
	tr.RotateX(0.3)
	tr.RotateY(-1.1)
	tr.RotateZ(2.2)
	tr.Translate(1.0, -2.0, 3.0)
	tr.Scale(0.5, 2.0, 1.5)

	points := []Point{
		{0, 0, 0}, {1, 1, 1}, {-3, 0.25, 7}, {1e3, -1e3, 0.5},
	}
	for _, p := range points {
		q := tr.ApplyInverse(tr.Apply(p))
		if math.Abs(q.X-p.X) > 1e-9 || math.Abs(q.Y-p.Y) > 1e-9 || math.Abs(q.Z-p.Z) > 1e-9 {
			t.Errorf("round trip of %v gives %v", p, q)
		}
	}
}

func TestSphereInside(t *testing.T) {
	s := NewSphere("ball", Point{1, 2, 3}, 2.0)
	if !s.Inside(Point{1, 2, 3}) {
		t.Errorf("center not inside")
	}
	if !s.Inside(Point{2.9, 2, 3}) {
		t.Errorf("point near the surface not inside")
	}
	if s.Inside(Point{3.1, 2, 3}) {
		t.Errorf("point outside reported inside")
	}
	if got := s.Radius(); math.Abs(got-2.0) > eps {
		t.Errorf("Radius()==%g, want 2", got)
	}
}

// TestSphereIntersection checks that the intersection points lie on the
// segment and on the surface, and that an inside endpoint is returned
// as is.
func TestSphereIntersection(t *testing.T) {
	s := NewSphere("ball", Origin, 1.0)

	// segment through the whole sphere
	a, b := Point{-2, 0, 0}, Point{2, 0, 0}
	p1, p2 := s.IntersectionPoints(a, b)
	if !near(p1, Point{-1, 0, 0}, 1e-9) || !near(p2, Point{1, 0, 0}, 1e-9) {
		t.Errorf("through segment gives %v, %v", p1, p2)
	}

	// a inside: exactly one of the points equals a
	a = Point{0.5, 0, 0}
	p1, p2 = s.IntersectionPoints(a, b)
	if !near(p1, a, eps) {
		t.Errorf("inside start point not returned: %v", p1)
	}
	if !near(p2, Point{1, 0, 0}, 1e-9) {
		t.Errorf("exit point==%v, want (1,0,0)", p2)
	}

	// segment missing the sphere
	p1, p2 = s.IntersectionPoints(Point{-2, 5, 0}, Point{2, 5, 0})
	if !p1.IsNone() || !p2.IsNone() {
		t.Errorf("miss still yields points: %v, %v", p1, p2)
	}
}

func TestCuboidIntersection(t *testing.T) {
	c := NewCuboid("box", Origin, 1, 1, 1)
	p1, p2 := c.IntersectionPoints(Point{-1, 0.5, 0.5}, Point{2, 0.5, 0.5})
	if !near(p1, Point{0, 0.5, 0.5}, 1e-9) || !near(p2, Point{1, 0.5, 0.5}, 1e-9) {
		t.Errorf("box intersection gives %v, %v", p1, p2)
	}
	if !c.Inside(Point{0.5, 0.5, 0.5}) {
		t.Errorf("box center not inside")
	}
	if c.Inside(Point{1.5, 0.5, 0.5}) {
		t.Errorf("outside point reported inside")
	}
}

func TestCylinderInside(t *testing.T) {
	cy := NewCylinder("tube", Origin, 1.0, 4.0)
	if !cy.Inside(Point{2, 0, 0}) {
		t.Errorf("axis point not inside")
	}
	if !cy.Inside(Point{2, 0.9, 0}) {
		t.Errorf("point within radius not inside")
	}
	if cy.Inside(Point{2, 1.1, 0}) {
		t.Errorf("point beyond radius inside")
	}
	if cy.Inside(Point{4.5, 0, 0}) {
		t.Errorf("point beyond length inside")
	}

	p1, p2 := cy.IntersectionPoints(Point{2, -3, 0}, Point{2, 3, 0})
	if !near(p1, Point{2, -1, 0}, 1e-9) || !near(p2, Point{2, 1, 0}, 1e-9) {
		t.Errorf("cylinder crossing gives %v, %v", p1, p2)
	}
}

func TestZoneCSG(t *testing.T) {
	z := NewZone("arena")
	z.Add(NewCuboid("box", Origin, 4, 4, 4))
	z.Subtract(NewSphere("hole", Point{2, 2, 2}, 1.0))

	if !z.Inside(Point{0.5, 0.5, 0.5}) {
		t.Errorf("corner region not inside the zone")
	}
	if z.Inside(Point{2, 2, 2}) {
		t.Errorf("subtracted center still inside")
	}
	if z.Inside(Point{5, 5, 5}) {
		t.Errorf("point outside the box inside the zone")
	}
	if z.Size() != 2 {
		t.Errorf("Size()==%d, want 2", z.Size())
	}
	if !z.Added(0) || z.Added(1) {
		t.Errorf("operand flags wrong")
	}
	if z.ShapeByName("hole") == nil {
		t.Errorf("ShapeByName(hole) not found")
	}

	min := z.BoundingBoxMin()
	max := z.BoundingBoxMax()
	if !near(min, Origin, 1e-9) || !near(max, Point{4, 4, 4}, 1e-9) {
		t.Errorf("bounding box %v..%v, want (0,0,0)..(4,4,4)", min, max)
	}
}

// TestZoneIntersection crosses the carved box through the hole: the
// segment enters the box, leaves into the hole, re-enters and exits.
func TestZoneIntersection(t *testing.T) {
	z := NewZone("arena")
	z.Add(NewCuboid("box", Origin, 4, 4, 4))
	z.Subtract(NewSphere("hole", Point{2, 2, 2}, 1.0))

	p1, p2 := z.IntersectionPoints(Point{-1, 2, 2}, Point{5, 2, 2})
	if !near(p1, Point{0, 2, 2}, 1e-6) {
		t.Errorf("first boundary==%v, want (0,2,2)", p1)
	}
	if !near(p2, Point{4, 2, 2}, 1e-6) {
		t.Errorf("last boundary==%v, want (4,2,2)", p2)
	}
}

func TestZoneCopyIndependent(t *testing.T) {
	z := NewZone("arena")
	z.Add(NewSphere("ball", Origin, 1))
	c := z.Copy().(*Zone)
	c.Trafo().Translate(10, 0, 0)
	if !z.Inside(Origin) {
		t.Errorf("original zone affected by copy's transform")
	}
	if c.Inside(Origin) {
		t.Errorf("moved copy still contains the origin")
	}
}
