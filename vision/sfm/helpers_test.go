package sfm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/vision/keypoints"
)

func newTestModel() *transform.PinholeCameraModel {
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
		Width:  640,
		Height: 480,
		Fx:     500,
		Fy:     500,
		Ppx:    320,
		Ppy:    240,
	}}
}

func newPose(rv r3.Vector, t r3.Vector) *transform.CamPose {
	return transform.NewCamPoseFromRotationTranslation(
		transform.RotationMatrixFromRodrigues(rv),
		mat.NewDense(3, 1, []float64{t.X, t.Y, t.Z}),
	)
}

// scene is a synthetic rig of three views observing the same points. Features of every view
// are shuffled so that feature indices differ from point indices.
type scene struct {
	model    *transform.PinholeCameraModel
	points   []r3.Vector
	poses    []*transform.CamPose
	features []keypoints.KeyPoints
	// featureOf[v][i] is the feature index of point i in view v.
	featureOf [][]int
}

func newScene(t *testing.T, n int, seed int64, planar bool) *scene {
	t.Helper()
	rnd := rand.New(rand.NewSource(seed)) //nolint:gosec
	s := &scene{
		model: newTestModel(),
		poses: []*transform.CamPose{
			transform.NewIdentityCamPose(),
			newPose(r3.Vector{X: 0.05, Y: -0.1, Z: 0.02}, r3.Vector{X: -1, Y: 0.1, Z: 0.05}),
			newPose(r3.Vector{X: -0.03, Y: 0.12, Z: -0.01}, r3.Vector{X: 0.8, Y: -0.2, Z: 0.1}),
		},
	}
	for i := 0; i < n; i++ {
		p := r3.Vector{X: rnd.Float64()*4 - 2, Y: rnd.Float64()*3 - 1.5, Z: 5}
		if !planar {
			p.Z = 4 + rnd.Float64()*4
		}
		s.points = append(s.points, p)
	}
	for _, pose := range s.poses {
		perm := rnd.Perm(n)
		kps := make(keypoints.KeyPoints, n)
		for i, p := range s.points {
			px, ok := s.model.ProjectPoint(pose.TransformPoint(p))
			test.That(t, ok, test.ShouldBeTrue)
			kps[perm[i]] = px
		}
		s.features = append(s.features, kps)
		s.featureOf = append(s.featureOf, perm)
	}
	return s
}

// matches lists, in point order, the correspondences between views a and b.
func (s *scene) matches(a, b int) keypoints.Matches {
	out := make(keypoints.Matches, len(s.points))
	for i := range s.points {
		out[i] = keypoints.DescriptorMatch{Idx1: s.featureOf[a][i], Idx2: s.featureOf[b][i]}
	}
	return out
}

// corrupt moves the view feature of the first count points by dist pixels.
func (s *scene) corrupt(view, count int, dist float64, seed int64) {
	rnd := rand.New(rand.NewSource(seed)) //nolint:gosec
	for i := 0; i < count; i++ {
		angle := rnd.Float64() * 2 * math.Pi
		idx := s.featureOf[view][i]
		s.features[view][idx] = s.features[view][idx].Add(r2.Point{X: math.Cos(angle), Y: math.Sin(angle)}.Mul(dist))
	}
}

func matrixDistance(a, b mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	return mat.Norm(&diff, 2)
}
