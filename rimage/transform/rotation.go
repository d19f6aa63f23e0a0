package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// RotationMatrixFromRodrigues converts an axis-angle rotation vector (axis times angle in
// radians) to a 3x3 rotation matrix.
func RotationMatrixFromRodrigues(r r3.Vector) *mat.Dense {
	q := quat.Exp(quat.Number{Imag: r.X / 2, Jmag: r.Y / 2, Kmag: r.Z / 2})
	return rotationMatrixFromQuat(q)
}

// RodriguesFromRotationMatrix converts a 3x3 rotation matrix to its axis-angle rotation vector.
// The angle is in [0, pi].
func RodriguesFromRotationMatrix(rot mat.Matrix) r3.Vector {
	q := quatFromRotationMatrix(rot)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	half := quat.Log(q)
	return r3.Vector{X: 2 * half.Imag, Y: 2 * half.Jmag, Z: 2 * half.Kmag}
}

func rotationMatrixFromQuat(q quat.Number) *mat.Dense {
	if n := quat.Abs(q); n != 0 {
		q = quat.Scale(1/n, q)
	}
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	})
}

// quatFromRotationMatrix uses Shepperd's method, branching on the largest diagonal term.
func quatFromRotationMatrix(m mat.Matrix) quat.Number {
	r00, r01, r02 := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	r10, r11, r12 := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	r20, r21, r22 := m.At(2, 0), m.At(2, 1), m.At(2, 2)
	var q quat.Number
	switch trace := r00 + r11 + r22; {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{Real: 0.25 / s, Imag: (r21 - r12) * s, Jmag: (r02 - r20) * s, Kmag: (r10 - r01) * s}
	case r00 > r11 && r00 > r22:
		s := 2 * math.Sqrt(1+r00-r11-r22)
		q = quat.Number{Real: (r21 - r12) / s, Imag: 0.25 * s, Jmag: (r01 + r10) / s, Kmag: (r02 + r20) / s}
	case r11 > r22:
		s := 2 * math.Sqrt(1+r11-r00-r22)
		q = quat.Number{Real: (r02 - r20) / s, Imag: (r01 + r10) / s, Jmag: 0.25 * s, Kmag: (r12 + r21) / s}
	default:
		s := 2 * math.Sqrt(1+r22-r00-r11)
		q = quat.Number{Real: (r10 - r01) / s, Imag: (r02 + r20) / s, Jmag: (r12 + r21) / s, Kmag: 0.25 * s}
	}
	if n := quat.Abs(q); n != 0 {
		q = quat.Scale(1/n, q)
	}
	return q
}
