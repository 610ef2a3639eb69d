package shapes

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Transform is an affine transform in R3, stored as a 4x4 matrix in
// homogeneous coordinates.  The inverse is computed on demand and
// cached until the transform is modified.
type Transform struct {
	m   [4][4]float64
	inv *[4][4]float64
}

// Identity returns the identity transform.
func Identity() Transform {
	t := Transform{}
	for i := 0; i < 4; i++ {
		t.m[i][i] = 1
	}
	return t
}

// mul sets t to a*t, i.e. applies a after t.
func (t *Transform) mul(a [4][4]float64) {
	var r [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			for k := 0; k < 4; k++ {
				r[i][j] += a[i][k] * t.m[k][j]
			}
		}
	}
	t.m = r
	t.inv = nil
}

// Translate shifts by (x, y, z).
func (t *Transform) Translate(x, y, z float64) {
	a := Identity().m
	a[0][3] = x
	a[1][3] = y
	a[2][3] = z
	t.mul(a)
}

// TranslateP shifts by p.
func (t *Transform) TranslateP(p Point) {
	t.Translate(p.X, p.Y, p.Z)
}

// Scale scales the axes by (x, y, z).
func (t *Transform) Scale(x, y, z float64) {
	a := Identity().m
	a[0][0] = x
	a[1][1] = y
	a[2][2] = z
	t.mul(a)
}

// ScaleUniform scales all axes by s.
func (t *Transform) ScaleUniform(s float64) {
	t.Scale(s, s, s)
}

// RotateX rotates around the x axis by angle radians.
func (t *Transform) RotateX(angle float64) {
	a := Identity().m
	c, s := math.Cos(angle), math.Sin(angle)
	a[1][1], a[1][2] = c, -s
	a[2][1], a[2][2] = s, c
	t.mul(a)
}

// RotateY rotates around the y axis by angle radians.
func (t *Transform) RotateY(angle float64) {
	a := Identity().m
	c, s := math.Cos(angle), math.Sin(angle)
	a[0][0], a[0][2] = c, s
	a[2][0], a[2][2] = -s, c
	t.mul(a)
}

// RotateZ rotates around the z axis by angle radians.
func (t *Transform) RotateZ(angle float64) {
	a := Identity().m
	c, s := math.Cos(angle), math.Sin(angle)
	a[0][0], a[0][1] = c, -s
	a[1][0], a[1][1] = s, c
	t.mul(a)
}

// Apply maps p through the transform.
func (t *Transform) Apply(p Point) Point {
	v := [4]float64{p.X, p.Y, p.Z, 1}
	var r [4]float64
	for i := 0; i < 4; i++ {
		for k := 0; k < 4; k++ {
			r[i] += t.m[i][k] * v[k]
		}
	}
	return Point{r[0], r[1], r[2]}
}

// inverse computes and caches the matrix inverse.
func (t *Transform) inverse() (*[4][4]float64, error) {
	if t.inv != nil {
		return t.inv, nil
	}
	flat := make([]float64, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			flat[i*4+j] = t.m[i][j]
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(4, 4, flat)); err != nil {
		return nil, fmt.Errorf("shapes: singular transform: %w", err)
	}
	var out [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = inv.At(i, j)
		}
	}
	t.inv = &out
	return t.inv, nil
}

// ApplyInverse maps p through the inverse transform.  A singular
// transform maps everything to None.
func (t *Transform) ApplyInverse(p Point) Point {
	inv, err := t.inverse()
	if err != nil {
		return None
	}
	v := [4]float64{p.X, p.Y, p.Z, 1}
	var r [4]float64
	for i := 0; i < 4; i++ {
		for k := 0; k < 4; k++ {
			r[i] += inv[i][k] * v[k]
		}
	}
	return Point{r[0], r[1], r[2]}
}
