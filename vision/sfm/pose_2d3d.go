package sfm

import (
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/ransac"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/vision/keypoints"
)

// FindCameraPoseFrom2D3DMatch registers a view from world points and their pixels in it. The
// pose is rejected with ErrInsufficientInliers when the fraction of correspondences agreeing
// with it is below cfg.PoseInliersMinimalRatio; an empty match set or a failed fit counts as
// no inliers.
func FindCameraPoseFrom2D3DMatch(
	model *transform.PinholeCameraModel,
	match *Image2D3DMatch,
	cfg *Config,
	logger logging.Logger,
) (*ViewPose, error) {
	if err := model.CheckValid(); err != nil {
		logger.Errorw("camera intrinsics must be initialized", "error", err)
		return nil, err
	}
	if match == nil {
		return nil, errors.New("no 2D-3D match")
	}
	if err := match.Validate(); err != nil {
		return nil, err
	}
	cfg = orDefault(cfg)
	total := match.Len()

	est, err := transform.EstimatePoseRANSAC(model, match.Points3D, match.Points2D, cfg.pnpRANSAC(), cfg.RefinePose)
	if err != nil && !errors.Is(err, ransac.ErrNoModel) && !errors.Is(err, ransac.ErrNotEnoughPoints) {
		return nil, err
	}
	numInliers := 0
	if est != nil {
		numInliers = est.NumInliers
	}
	if est == nil || total == 0 || float64(numInliers)/float64(total) < cfg.PoseInliersMinimalRatio {
		logger.Warnf("Inliers ratio is too small: %d / %d", numInliers, total)
		return nil, errors.Wrapf(ErrInsufficientInliers, "%d / %d", numInliers, total)
	}

	median, err := stats.Median(est.InlierReprojectionErrors())
	if err != nil {
		return nil, errors.Wrap(err, "cannot compute the median reprojection error")
	}
	logger.Debugw("registered view",
		"inliers", numInliers,
		"total", total,
		"inlier_ratio", float64(numInliers)/float64(total),
		"median_reprojection_error", median,
	)
	return &ViewPose{
		Pose:                    est.Pose,
		RotationVector:          est.RotationVector,
		Mask:                    est.Mask,
		NumInliers:              keypoints.CountMask(est.Mask),
		MedianReprojectionError: median,
	}, nil
}
