package transform

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func newTestModel() *PinholeCameraModel {
	return &PinholeCameraModel{PinholeCameraIntrinsics: &PinholeCameraIntrinsics{
		Width:  640,
		Height: 480,
		Fx:     500,
		Fy:     500,
		Ppx:    320,
		Ppy:    240,
	}}
}

// twoViewScene holds a synthetic scene seen by an identity camera and a second camera.
type twoViewScene struct {
	model      *PinholeCameraModel
	pose2      *CamPose
	points     []r3.Vector
	pix1, pix2 []r2.Point
}

func newTestPose() *CamPose {
	rot := RotationMatrixFromRodrigues(r3.Vector{X: 0.05, Y: -0.1, Z: 0.02})
	return NewCamPoseFromRotationTranslation(rot, mat.NewDense(3, 1, []float64{-1, 0.1, 0.05}))
}

func newTwoViewScene(t *testing.T, n int, seed int64, planar bool) *twoViewScene {
	t.Helper()
	rnd := rand.New(rand.NewSource(seed)) //nolint:gosec
	s := &twoViewScene{model: newTestModel(), pose2: newTestPose()}
	identity := NewIdentityCamPose()
	for i := 0; i < n; i++ {
		p := r3.Vector{X: rnd.Float64()*4 - 2, Y: rnd.Float64()*3 - 1.5, Z: 5}
		if !planar {
			p.Z = 4 + rnd.Float64()*4
		}
		px1, ok := s.model.ProjectPoint(identity.TransformPoint(p))
		test.That(t, ok, test.ShouldBeTrue)
		px2, ok := s.model.ProjectPoint(s.pose2.TransformPoint(p))
		test.That(t, ok, test.ShouldBeTrue)
		s.points = append(s.points, p)
		s.pix1 = append(s.pix1, px1)
		s.pix2 = append(s.pix2, px2)
	}
	return s
}

// corrupt moves the first count pixels by dist in a random direction.
func corrupt(pts []r2.Point, count int, dist float64, seed int64) {
	rnd := rand.New(rand.NewSource(seed)) //nolint:gosec
	for i := 0; i < count; i++ {
		angle := rnd.Float64() * 2 * math.Pi
		pts[i] = pts[i].Add(r2.Point{X: math.Cos(angle), Y: math.Sin(angle)}.Mul(dist))
	}
}

func matrixDistance(a, b mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	return mat.Norm(&diff, 2)
}
