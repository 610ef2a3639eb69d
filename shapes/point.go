// Package shapes provides the geometry used by arena protocols: points
// and affine transforms in R3, and a shape hierarchy (sphere, cylinder,
// cuboid, and zones as CSG trees) supporting inside tests, bounding
// boxes and line-segment intersections.
package shapes

import "math"

// Point is a point or vector in R3.
type Point struct {
	X, Y, Z float64
}

// Origin is the zero point.
var Origin = Point{}

// UnitX is the x unit vector.
var UnitX = Point{X: 1}

// UnitY is the y unit vector.
var UnitY = Point{Y: 1}

// UnitZ is the z unit vector.
var UnitZ = Point{Z: 1}

// None marks an undefined point.
var None = Point{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}

// IsNone reports whether the point is undefined.
func (p Point) IsNone() bool {
	return math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z)
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	return Point{p.X + q.X, p.Y + q.Y, p.Z + q.Z}
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{p.X - q.X, p.Y - q.Y, p.Z - q.Z}
}

// Scale returns p scaled by s.
func (p Point) Scale(s float64) Point {
	return Point{p.X * s, p.Y * s, p.Z * s}
}

// Dot returns the dot product of p and q.
func (p Point) Dot(q Point) float64 {
	return p.X*q.X + p.Y*q.Y + p.Z*q.Z
}

// Norm returns the euclidean length of p.
func (p Point) Norm() float64 {
	return math.Sqrt(p.Dot(p))
}

// Distance returns the euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return p.Sub(q).Norm()
}

// Min returns the component-wise minimum of p and q.
func (p Point) Min(q Point) Point {
	return Point{math.Min(p.X, q.X), math.Min(p.Y, q.Y), math.Min(p.Z, q.Z)}
}

// Max returns the component-wise maximum of p and q.
func (p Point) Max(q Point) Point {
	return Point{math.Max(p.X, q.X), math.Max(p.Y, q.Y), math.Max(p.Z, q.Z)}
}
