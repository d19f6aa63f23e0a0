package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestRodriguesRoundTrip(t *testing.T) {
	for _, rv := range []r3.Vector{
		{X: 0.05, Y: -0.1, Z: 0.02},
		{X: 0, Y: 0, Z: math.Pi / 2},
		{X: 1.2, Y: 0.3, Z: -0.7},
		{X: 0, Y: 3, Z: 0},
	} {
		rot := RotationMatrixFromRodrigues(rv)
		test.That(t, mat.Det(rot), test.ShouldAlmostEqual, 1, 1e-12)
		var rtr mat.Dense
		rtr.Mul(rot.T(), rot)
		test.That(t, matrixDistance(&rtr, eye(3)), test.ShouldBeLessThan, 1e-12)

		back := RodriguesFromRotationMatrix(rot)
		test.That(t, back.Sub(rv).Norm(), test.ShouldBeLessThan, 1e-9)
	}
}

func TestRotationMatrixFromRodrigues(t *testing.T) {
	rot := RotationMatrixFromRodrigues(r3.Vector{Z: math.Pi / 2})
	expected := mat.NewDense(3, 3, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 1,
	})
	test.That(t, matrixDistance(rot, expected), test.ShouldBeLessThan, 1e-12)

	test.That(t, matrixDistance(RotationMatrixFromRodrigues(r3.Vector{}), eye(3)), test.ShouldAlmostEqual, 0)
	test.That(t, RodriguesFromRotationMatrix(eye(3)).Norm(), test.ShouldAlmostEqual, 0)
}
