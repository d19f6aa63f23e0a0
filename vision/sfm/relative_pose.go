package sfm

import (
	"github.com/pkg/errors"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/vision/keypoints"
)

// FindCameraMatricesFromMatch recovers the pose of the right view relative to the left one from
// their matched keypoints. The essential matrix is fit robustly on calibrated coordinates, then
// decomposed into the candidate for which most inliers lie in front of both cameras. The
// returned pruned sets keep only those correspondences.
//
// A missing or invalid camera model fails with transform.ErrNoIntrinsics before any
// computation. When no essential matrix can be fit, the error wraps ransac.ErrNoModel or
// ransac.ErrNotEnoughPoints so the caller can treat the pair as degenerate.
func FindCameraMatricesFromMatch(
	model *transform.PinholeCameraModel,
	kps1, kps2 keypoints.KeyPoints,
	matches keypoints.Matches,
	cfg *Config,
	logger logging.Logger,
) (*RelativePose, error) {
	if err := model.CheckValid(); err != nil {
		logger.Errorw("camera intrinsics must be initialized", "error", err)
		return nil, err
	}
	cfg = orDefault(cfg)

	aligned, err := keypoints.AlignKeyPoints(kps1, kps2, matches)
	if err != nil {
		return nil, err
	}
	left := model.UndistortPoints(aligned.Left)
	right := model.UndistortPoints(aligned.Right)

	essential, err := transform.EstimateEssentialMatrixRANSAC(left, right, model.Fx, cfg.essentialRANSAC())
	if err != nil {
		return nil, errors.Wrap(err, "cannot estimate the essential matrix")
	}
	pose, mask, count, err := transform.RecoverPose(essential.Model, left, right, essential.Mask, cfg.DistanceThreshold)
	if err != nil {
		return nil, errors.Wrap(err, "cannot recover pose from the essential matrix")
	}
	logger.Debugw("recovered relative pose",
		"matches", len(matches),
		"essential_inliers", essential.NumInliers,
		"pose_inliers", count,
		"iterations", essential.Iterations,
	)

	pruned, err := aligned.Prune(mask)
	if err != nil {
		return nil, err
	}
	prunedMatches, err := matches.Prune(mask)
	if err != nil {
		return nil, err
	}
	return &RelativePose{
		Left:          transform.NewIdentityCamPose(),
		Right:         pose,
		PrunedLeft:    pruned.Left,
		PrunedRight:   pruned.Right,
		PrunedMatches: prunedMatches,
		Mask:          mask,
	}, nil
}
