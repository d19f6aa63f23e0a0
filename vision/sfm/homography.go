package sfm

import (
	"sort"

	"github.com/pkg/errors"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/ransac"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/vision/keypoints"
)

// FindHomographyInliers fits a homography to the matched keypoints and returns its number of
// inliers. Pairs with too few matches, or for which no homography can be fit, score zero. An
// error is only returned for matches that refer to missing keypoints.
func FindHomographyInliers(
	kps1, kps2 keypoints.KeyPoints,
	matches keypoints.Matches,
	cfg *Config,
	logger logging.Logger,
) (int, error) {
	cfg = orDefault(cfg)
	aligned, err := keypoints.AlignKeyPoints(kps1, kps2, matches)
	if err != nil {
		return 0, err
	}
	if aligned.Len() < cfg.HomographyMinMatches {
		logger.Debugf("only %d matches, not fitting a homography", aligned.Len())
		return 0, nil
	}
	res, err := transform.EstimateHomographyRANSAC(aligned.Left, aligned.Right, cfg.homographyRANSAC())
	if err != nil {
		if errors.Is(err, ransac.ErrNoModel) || errors.Is(err, ransac.ErrNotEnoughPoints) {
			logger.Debugw("no homography found", "matches", aligned.Len(), "error", err)
			return 0, nil
		}
		return 0, err
	}
	return res.NumInliers, nil
}

// HomographyInlierRatio is the fraction of matches that are homography inliers, 0 without matches.
func HomographyInlierRatio(
	kps1, kps2 keypoints.KeyPoints,
	matches keypoints.Matches,
	cfg *Config,
	logger logging.Logger,
) (float64, error) {
	if len(matches) == 0 {
		return 0, nil
	}
	n, err := FindHomographyInliers(kps1, kps2, matches, cfg, logger)
	if err != nil {
		return 0, err
	}
	return float64(n) / float64(len(matches)), nil
}

// ScoredPair is a view pair with its homography inlier ratio.
type ScoredPair struct {
	Pair  ImagePair
	Ratio float64
}

// SortPairsByHomographyRatio ranks view pairs from the least to the most planar. A low ratio
// means the matches need a real baseline to be explained, which makes the pair a good
// candidate for the first triangulation. Ties keep the order of (Left, Right).
func SortPairsByHomographyRatio(
	features map[int]keypoints.KeyPoints,
	pairMatches map[ImagePair]keypoints.Matches,
	cfg *Config,
	logger logging.Logger,
) ([]ScoredPair, error) {
	out := make([]ScoredPair, 0, len(pairMatches))
	for pair, matches := range pairMatches {
		kps1, ok1 := features[pair.Left]
		kps2, ok2 := features[pair.Right]
		if !ok1 || !ok2 {
			return nil, errors.Errorf("missing features for pair (%d, %d)", pair.Left, pair.Right)
		}
		ratio, err := HomographyInlierRatio(kps1, kps2, matches, cfg, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "pair (%d, %d)", pair.Left, pair.Right)
		}
		logger.Debugw("homography inlier ratio", "left", pair.Left, "right", pair.Right, "ratio", ratio)
		out = append(out, ScoredPair{Pair: pair, Ratio: ratio})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ratio != out[j].Ratio {
			return out[i].Ratio < out[j].Ratio
		}
		if out[i].Pair.Left != out[j].Pair.Left {
			return out[i].Pair.Left < out[j].Pair.Left
		}
		return out[i].Pair.Right < out[j].Pair.Right
	})
	return out, nil
}
