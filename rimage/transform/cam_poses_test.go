package transform

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestCamPose(t *testing.T) {
	id := NewIdentityCamPose()
	r, c := id.PoseMat.Dims()
	test.That(t, r, test.ShouldEqual, 3)
	test.That(t, c, test.ShouldEqual, 4)
	test.That(t, id.TransformPoint(r3.Vector{X: 1, Y: 2, Z: 3}), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})

	pose := newTestPose()
	test.That(t, pose.TranslationVector(), test.ShouldResemble, r3.Vector{X: -1, Y: 0.1, Z: 0.05})
	test.That(t, matrixDistance(pose.PoseMat.Slice(0, 3, 0, 3), pose.Rotation), test.ShouldAlmostEqual, 0)
}

func TestTriangulatePoints(t *testing.T) {
	scene := newTwoViewScene(t, 25, 11, false)
	n1 := scene.model.UndistortPoints(scene.pix1)
	n2 := scene.model.UndistortPoints(scene.pix2)

	homogeneous, err := TriangulatePoints(NewIdentityCamPose().PoseMat, scene.pose2.PoseMat, n1, n2)
	test.That(t, err, test.ShouldBeNil)
	r, c := homogeneous.Dims()
	test.That(t, r, test.ShouldEqual, 4)
	test.That(t, c, test.ShouldEqual, len(n1))

	pts, valid := ConvertPointsFromHomogeneous(homogeneous)
	for i, p := range pts {
		test.That(t, valid[i], test.ShouldBeTrue)
		test.That(t, p.Sub(scene.points[i]).Norm(), test.ShouldBeLessThan, 1e-6)
	}

	t.Run("linear triangulation helper", func(t *testing.T) {
		pts, err := GetLinearTriangulatedPoints(scene.pose2.PoseMat, Convert2DPointsToHomogeneousPoints(n1), Convert2DPointsToHomogeneousPoints(n2))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pts[3].Sub(scene.points[3]).Norm(), test.ShouldBeLessThan, 1e-6)
	})

	t.Run("mismatched", func(t *testing.T) {
		_, err := TriangulatePoints(NewIdentityCamPose().PoseMat, scene.pose2.PoseMat, n1, n2[1:])
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("empty", func(t *testing.T) {
		out, err := TriangulatePoints(NewIdentityCamPose().PoseMat, scene.pose2.PoseMat, nil, nil)
		test.That(t, err, test.ShouldBeNil)
		pts, valid := ConvertPointsFromHomogeneous(out)
		test.That(t, pts, test.ShouldBeEmpty)
		test.That(t, valid, test.ShouldBeEmpty)
	})
}

func TestConvertPointsFromHomogeneous(t *testing.T) {
	h := mat.NewDense(4, 2, []float64{
		2, 1,
		4, 1,
		6, 1,
		2, 0,
	})
	pts, valid := ConvertPointsFromHomogeneous(h)
	test.That(t, valid, test.ShouldResemble, []bool{true, false})
	test.That(t, pts[0], test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, pts[1], test.ShouldResemble, r3.Vector{})
}

func TestRecoverPoseMask(t *testing.T) {
	scene := newTwoViewScene(t, 20, 12, false)
	n1 := scene.model.UndistortPoints(scene.pix1)
	n2 := scene.model.UndistortPoints(scene.pix2)
	var E mat.Dense
	E.Mul(getCrossProductMatFromPoint(scene.pose2.TranslationVector()), scene.pose2.Rotation)

	inMask := make([]bool, len(n1))
	for i := range inMask {
		inMask[i] = i%2 == 0
	}
	pose, mask, count, err := RecoverPose(&E, n1, n2, inMask, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, len(n1)/2)
	test.That(t, mask, test.ShouldResemble, inMask)
	test.That(t, matrixDistance(pose.Rotation, scene.pose2.Rotation), test.ShouldBeLessThan, 1e-6)

	t.Run("points beyond the distance threshold", func(t *testing.T) {
		_, _, count, err := RecoverPose(&E, n1, n2, nil, 1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, count, test.ShouldEqual, 0)
	})

	t.Run("bad mask", func(t *testing.T) {
		_, _, _, err := RecoverPose(&E, n1, n2, []bool{true}, 0)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("mismatched points", func(t *testing.T) {
		_, _, _, err := RecoverPose(&E, n1, []r2.Point{}, nil, 0)
		test.That(t, err, test.ShouldNotBeNil)
	})
}
