package sfm

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
)

// match2D3D pairs the scene points with their features in view.
func (s *scene) match2D3D(view int) *Image2D3DMatch {
	m := &Image2D3DMatch{}
	for i, p := range s.points {
		m.Points3D = append(m.Points3D, p)
		m.Points2D = append(m.Points2D, s.features[view][s.featureOf[view][i]])
	}
	return m
}

func TestFindCameraPoseFrom2D3DMatch(t *testing.T) {
	s := newScene(t, 40, 13, false)

	vp, err := FindCameraPoseFrom2D3DMatch(s.model, s.match2D3D(2), nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vp.NumInliers, test.ShouldEqual, 40)
	test.That(t, matrixDistance(vp.Pose.Rotation, s.poses[2].Rotation), test.ShouldBeLessThan, 1e-6)
	test.That(t, vp.Pose.TranslationVector().Sub(s.poses[2].TranslationVector()).Norm(), test.ShouldBeLessThan, 1e-6)
	test.That(t, vp.RotationVector.Sub(r3.Vector{X: -0.03, Y: 0.12, Z: -0.01}).Norm(), test.ShouldBeLessThan, 1e-6)
	test.That(t, vp.MedianReprojectionError, test.ShouldBeLessThan, 1e-6)

	t.Run("idempotent", func(t *testing.T) {
		again, err := FindCameraPoseFrom2D3DMatch(s.model, s.match2D3D(2), nil, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, again.Mask, test.ShouldResemble, vp.Mask)
		test.That(t, again.Pose.PoseMat.RawMatrix().Data, test.ShouldResemble, vp.Pose.PoseMat.RawMatrix().Data)
	})
}

func TestFindCameraPoseFrom2D3DMatchPlanar(t *testing.T) {
	s := newScene(t, 40, 13, true)

	for _, view := range []int{1, 2} {
		logger, logs := logging.NewObservedTestLogger(t)
		vp, err := FindCameraPoseFrom2D3DMatch(s.model, s.match2D3D(view), nil, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, vp.NumInliers, test.ShouldEqual, 40)
		test.That(t, matrixDistance(vp.Pose.Rotation, s.poses[view].Rotation), test.ShouldBeLessThan, 1e-6)
		test.That(t, vp.Pose.TranslationVector().Sub(s.poses[view].TranslationVector()).Norm(), test.ShouldBeLessThan, 1e-6)
		test.That(t, vp.MedianReprojectionError, test.ShouldBeLessThan, 1e-6)
		test.That(t, logs.FilterMessageSnippet("Inliers ratio is too small").Len(), test.ShouldEqual, 0)
	}

	t.Run("with outliers", func(t *testing.T) {
		noisy := newScene(t, 40, 22, true)
		noisy.corrupt(2, 12, 40, 23)
		vp, err := FindCameraPoseFrom2D3DMatch(noisy.model, noisy.match2D3D(2), nil, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, vp.NumInliers, test.ShouldEqual, 28)
		for i := range vp.Mask {
			test.That(t, vp.Mask[i], test.ShouldEqual, i >= 12)
		}
		test.That(t, matrixDistance(vp.Pose.Rotation, noisy.poses[2].Rotation), test.ShouldBeLessThan, 1e-4)
	})
}

func TestFindCameraPoseFrom2D3DMatchOutliers(t *testing.T) {
	t.Run("accepted above the ratio", func(t *testing.T) {
		s := newScene(t, 40, 14, false)
		s.corrupt(1, 12, 40, 15)
		vp, err := FindCameraPoseFrom2D3DMatch(s.model, s.match2D3D(1), nil, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, vp.NumInliers, test.ShouldEqual, 28)
		for i := range vp.Mask {
			test.That(t, vp.Mask[i], test.ShouldEqual, i >= 12)
		}
		test.That(t, matrixDistance(vp.Pose.Rotation, s.poses[1].Rotation), test.ShouldBeLessThan, 1e-4)
	})

	t.Run("rejected below the ratio", func(t *testing.T) {
		s := newScene(t, 40, 16, false)
		s.corrupt(1, 24, 40, 17)
		logger, logs := logging.NewObservedTestLogger(t)
		vp, err := FindCameraPoseFrom2D3DMatch(s.model, s.match2D3D(1), nil, logger)
		test.That(t, vp, test.ShouldBeNil)
		test.That(t, errors.Is(err, ErrInsufficientInliers), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "/ 40")

		warns := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessageSnippet("Inliers ratio is too small").All()
		test.That(t, warns, test.ShouldHaveLength, 1)
		test.That(t, warns[0].Message, test.ShouldEndWith, "/ 40")
	})

	t.Run("stricter ratio", func(t *testing.T) {
		s := newScene(t, 40, 18, false)
		s.corrupt(1, 12, 40, 19)
		cfg := DefaultConfig()
		cfg.PoseInliersMinimalRatio = 0.8
		_, err := FindCameraPoseFrom2D3DMatch(s.model, s.match2D3D(1), cfg, logging.NewTestLogger(t))
		test.That(t, errors.Is(err, ErrInsufficientInliers), test.ShouldBeTrue)
	})
}

func TestFindCameraPoseFrom2D3DMatchDegenerate(t *testing.T) {
	s := newScene(t, 10, 20, false)

	t.Run("empty match", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		_, err := FindCameraPoseFrom2D3DMatch(s.model, &Image2D3DMatch{}, nil, logger)
		test.That(t, errors.Is(err, ErrInsufficientInliers), test.ShouldBeTrue)
		test.That(t, logs.FilterMessage("Inliers ratio is too small: 0 / 0").Len(), test.ShouldEqual, 1)
	})

	t.Run("fewer points than a sample", func(t *testing.T) {
		m := s.match2D3D(1)
		m.Points2D, m.Points3D = m.Points2D[:3], m.Points3D[:3]
		_, err := FindCameraPoseFrom2D3DMatch(s.model, m, nil, logging.NewTestLogger(t))
		test.That(t, errors.Is(err, ErrInsufficientInliers), test.ShouldBeTrue)
	})

	t.Run("mismatched sides", func(t *testing.T) {
		_, err := NewImage2D3DMatch([]r2.Point{{X: 1}}, nil)
		test.That(t, errors.Is(err, ErrMismatchedMatch), test.ShouldBeTrue)
		m := s.match2D3D(1)
		m.Points2D = m.Points2D[1:]
		_, err = FindCameraPoseFrom2D3DMatch(s.model, m, nil, logging.NewTestLogger(t))
		test.That(t, errors.Is(err, ErrMismatchedMatch), test.ShouldBeTrue)
	})

	t.Run("no intrinsics", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		_, err := FindCameraPoseFrom2D3DMatch(&transform.PinholeCameraModel{}, s.match2D3D(1), nil, logger)
		test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)
		test.That(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len(), test.ShouldEqual, 1)
	})
}
