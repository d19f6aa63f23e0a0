package sfm

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/vision/keypoints"
)

func TestFind2D3DMatches(t *testing.T) {
	s := newScene(t, 30, 21, false)
	logger := logging.NewTestLogger(t)

	cloud := PointCloud{}
	points, err := TriangulateViews(s.model, ImagePair{Left: 0, Right: 1}, s.features[0], s.features[1], s.matches(0, 1),
		s.poses[0], s.poses[1], nil, logger)
	test.That(t, err, test.ShouldBeNil)
	cloud.Append(points...)

	// only half of the points are matched from view 0, the rest from view 1
	toNew := map[int]keypoints.Matches{
		0: s.matches(0, 2)[:15],
		1: s.matches(1, 2)[10:],
	}
	match, src, err := Find2D3DMatches(cloud, s.features[2], toNew)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, match.Len(), test.ShouldEqual, len(s.points))
	test.That(t, src.CloudIdx, test.ShouldHaveLength, match.Len())
	for k, i := range src.CloudIdx {
		test.That(t, i, test.ShouldEqual, k)
		test.That(t, src.FeatureIdx[k], test.ShouldEqual, s.featureOf[2][i])
		test.That(t, match.Points2D[k], test.ShouldResemble, s.features[2][s.featureOf[2][i]])
		test.That(t, match.Points3D[k], test.ShouldResemble, cloud[i].Point)
	}

	vp, err := FindCameraPoseFrom2D3DMatch(s.model, match, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, matrixDistance(vp.Pose.Rotation, s.poses[2].Rotation), test.ShouldBeLessThan, 1e-5)

	test.That(t, AddObservations(cloud, 2, src, vp.Mask), test.ShouldBeNil)
	for i, mp := range cloud {
		test.That(t, mp.OriginatingViews, test.ShouldHaveLength, 3)
		test.That(t, mp.OriginatingViews[2], test.ShouldEqual, s.featureOf[2][i])
	}

	t.Run("bad match index", func(t *testing.T) {
		_, _, err := Find2D3DMatches(cloud, s.features[2], map[int]keypoints.Matches{0: {{Idx1: 0, Idx2: 99}}})
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("each feature used once", func(t *testing.T) {
		dup := map[int]keypoints.Matches{0: {
			{Idx1: s.featureOf[0][0], Idx2: 3},
			{Idx1: s.featureOf[0][1], Idx2: 3},
		}}
		match, src, err := Find2D3DMatches(cloud, s.features[2], dup)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, match.Len(), test.ShouldEqual, 1)
		test.That(t, src.CloudIdx, test.ShouldResemble, []int{0})
	})

	t.Run("mismatched observations", func(t *testing.T) {
		err := AddObservations(cloud, 3, src, []bool{true})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestAddObservationsInvalidIndex(t *testing.T) {
	cloud := PointCloud{
		{Point: r3.Vector{X: 1}, OriginatingViews: map[int]int{0: 4}},
		{Point: r3.Vector{X: 2}},
	}
	src := &MatchSource{CloudIdx: []int{0, 1, 5}, FeatureIdx: []int{7, 8, 9}}

	err := AddObservations(cloud, 3, src, []bool{true, true, true})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cloud index 5")
	test.That(t, cloud[0].OriginatingViews, test.ShouldResemble, map[int]int{0: 4})
	test.That(t, cloud[1].OriginatingViews, test.ShouldBeNil)

	// an invalid index masked out as an outlier is ignored
	test.That(t, AddObservations(cloud, 3, src, []bool{true, true, false}), test.ShouldBeNil)
	test.That(t, cloud[0].OriginatingViews, test.ShouldResemble, map[int]int{0: 4, 3: 7})
	test.That(t, cloud[1].OriginatingViews, test.ShouldResemble, map[int]int{3: 8})
}
