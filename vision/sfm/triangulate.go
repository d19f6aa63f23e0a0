package sfm

import (
	"github.com/pkg/errors"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/vision/keypoints"
)

// TriangulateViews reconstructs one map point per match from the two views of pair seen at
// poses left and right. Each point records the feature index it came from in both views.
// Points come back in match order for the caller to append to its cloud; points at infinity
// are skipped. Points behind either camera are kept unless cfg.FilterBehindCamera is set.
func TriangulateViews(
	model *transform.PinholeCameraModel,
	pair ImagePair,
	kps1, kps2 keypoints.KeyPoints,
	matches keypoints.Matches,
	left, right *transform.CamPose,
	cfg *Config,
	logger logging.Logger,
) ([]MapPoint, error) {
	if err := model.CheckValid(); err != nil {
		logger.Errorw("camera intrinsics must be initialized", "error", err)
		return nil, err
	}
	if left == nil || right == nil {
		return nil, errors.New("both camera poses are required")
	}
	cfg = orDefault(cfg)

	aligned, err := keypoints.AlignKeyPoints(kps1, kps2, matches)
	if err != nil {
		return nil, err
	}
	normalizedLeft := model.UndistortPoints(aligned.Left)
	normalizedRight := model.UndistortPoints(aligned.Right)

	homogeneous, err := transform.TriangulatePoints(left.PoseMat, right.PoseMat, normalizedLeft, normalizedRight)
	if err != nil {
		return nil, errors.Wrap(err, "triangulation failed")
	}
	points, valid := transform.ConvertPointsFromHomogeneous(homogeneous)

	out := make([]MapPoint, 0, len(points))
	atInfinity, behind := 0, 0
	for i, p := range points {
		if !valid[i] {
			atInfinity++
			continue
		}
		if left.Depth(p) <= 0 || right.Depth(p) <= 0 {
			behind++
			if cfg.FilterBehindCamera {
				continue
			}
		}
		out = append(out, MapPoint{
			Point: p,
			OriginatingViews: map[int]int{
				pair.Left:  aligned.LeftIdx[i],
				pair.Right: aligned.RightIdx[i],
			},
		})
	}
	if atInfinity > 0 {
		logger.Warnw("skipped points at infinity", "count", atInfinity, "total", len(points))
	}
	logger.Debugw("triangulated views",
		"left", pair.Left,
		"right", pair.Right,
		"points", len(out),
		"behind_camera", behind,
		"filter_behind_camera", cfg.FilterBehindCamera,
	)
	return out, nil
}
