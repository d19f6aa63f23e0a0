package sfm

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/vision/keypoints"
)

var (
	// ErrInsufficientInliers is returned when a 2D-3D pose is supported by too few correspondences.
	ErrInsufficientInliers = errors.New("inliers ratio is too small")
	// ErrMismatchedMatch is returned when the two sides of a 2D-3D match set differ in length.
	ErrMismatchedMatch = errors.New("2D and 3D sides of the match have different lengths")
)

// MapPoint is a reconstructed 3D point and, per view id, the index of the feature it was seen as.
type MapPoint struct {
	Point            r3.Vector   `json:"point"`
	OriginatingViews map[int]int `json:"originating_views"`
}

// PointCloud is an append-only set of map points owned by the caller.
type PointCloud []MapPoint

// Append adds points at the end of the cloud.
func (pc *PointCloud) Append(points ...MapPoint) {
	*pc = append(*pc, points...)
}

// ImagePair names the views of a stereo pair; Left is the reference view.
type ImagePair struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Image2D3DMatch holds world points and their observed pixels in one view, in parallel.
type Image2D3DMatch struct {
	Points2D []r2.Point
	Points3D []r3.Vector
}

// NewImage2D3DMatch checks that both sides have the same length.
func NewImage2D3DMatch(points2D []r2.Point, points3D []r3.Vector) (*Image2D3DMatch, error) {
	m := &Image2D3DMatch{Points2D: points2D, Points3D: points3D}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate returns ErrMismatchedMatch if the two sides differ in length.
func (m *Image2D3DMatch) Validate() error {
	if len(m.Points2D) != len(m.Points3D) {
		return errors.Wrapf(ErrMismatchedMatch, "%d 2D points, %d 3D points", len(m.Points2D), len(m.Points3D))
	}
	return nil
}

// Len is the number of correspondences.
func (m *Image2D3DMatch) Len() int {
	return len(m.Points2D)
}

// RelativePose is the outcome of relative pose estimation between two views.
type RelativePose struct {
	// Left is the identity pose of the reference view; Right is [R | t] with a unit translation.
	Left  *transform.CamPose
	Right *transform.CamPose
	// PrunedLeft and PrunedRight are the aligned points consistent with the recovered pose.
	PrunedLeft    keypoints.KeyPoints
	PrunedRight   keypoints.KeyPoints
	PrunedMatches keypoints.Matches
	// Mask flags, per input match, the correspondences kept in the pruned sets.
	Mask []bool
}

// NumInliers is the number of correspondences consistent with the pose.
func (rp *RelativePose) NumInliers() int {
	return len(rp.PrunedMatches)
}

// ViewPose is the outcome of registering a view from 2D-3D correspondences.
type ViewPose struct {
	Pose           *transform.CamPose
	RotationVector r3.Vector
	Mask           []bool
	NumInliers     int
	// MedianReprojectionError is the median pixel error of the inliers.
	MedianReprojectionError float64
}
