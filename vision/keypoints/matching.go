package keypoints

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
)

// DescriptorMatch contains the index of a match in the first and second set of keypoints.
// Distance is the descriptor distance reported by the matcher, if any.
type DescriptorMatch struct {
	Idx1     int     `json:"idx1"`
	Idx2     int     `json:"idx2"`
	Distance float64 `json:"distance,omitempty"`
}

// Matches is an ordered list of correspondences between two sets of keypoints.
type Matches []DescriptorMatch

// Validate checks that every match refers to existing keypoints.
func (m Matches) Validate(kps1, kps2 KeyPoints) error {
	for i, match := range m {
		if !kps1.Contains(match.Idx1) {
			return errors.Errorf("match %d refers to keypoint %d of the first set, which has %d keypoints", i, match.Idx1, len(kps1))
		}
		if !kps2.Contains(match.Idx2) {
			return errors.Errorf("match %d refers to keypoint %d of the second set, which has %d keypoints", i, match.Idx2, len(kps2))
		}
	}
	return nil
}

// Prune returns the matches whose mask entry is true, in their original order.
func (m Matches) Prune(mask []bool) (Matches, error) {
	return PruneWithMask(m, mask)
}

// SortByDistance returns a copy of the matches ordered by increasing descriptor distance.
func (m Matches) SortByDistance() Matches {
	dists := lo.Map(m, func(match DescriptorMatch, _ int) float64 { return match.Distance })
	indices := make([]int, len(m))
	floats.Argsort(dists, indices)
	out := make(Matches, len(m))
	for i, idx := range indices {
		out[i] = m[idx]
	}
	return out
}

// Swap exchanges the roles of the first and second set.
func (m Matches) Swap() Matches {
	return lo.Map(m, func(match DescriptorMatch, _ int) DescriptorMatch {
		return DescriptorMatch{Idx1: match.Idx2, Idx2: match.Idx1, Distance: match.Distance}
	})
}

// AlignedKeyPoints holds the two sides of a match list as parallel point sequences, together
// with the keypoint index each aligned point came from.
type AlignedKeyPoints struct {
	Left     KeyPoints
	Right    KeyPoints
	LeftIdx  []int
	RightIdx []int
}

// Len is the number of aligned correspondences.
func (akp *AlignedKeyPoints) Len() int {
	return len(akp.Left)
}

// Prune keeps the correspondences whose mask entry is true.
func (akp *AlignedKeyPoints) Prune(mask []bool) (*AlignedKeyPoints, error) {
	left, err := PruneWithMask(akp.Left, mask)
	if err != nil {
		return nil, err
	}
	right, err := PruneWithMask(akp.Right, mask)
	if err != nil {
		return nil, err
	}
	leftIdx, err := PruneWithMask(akp.LeftIdx, mask)
	if err != nil {
		return nil, err
	}
	rightIdx, err := PruneWithMask(akp.RightIdx, mask)
	if err != nil {
		return nil, err
	}
	return &AlignedKeyPoints{Left: left, Right: right, LeftIdx: leftIdx, RightIdx: rightIdx}, nil
}

// AlignKeyPoints turns a match list into aligned point sequences. Output i always corresponds
// to matches[i]; nothing is filtered, reordered or de-duplicated.
func AlignKeyPoints(kps1, kps2 KeyPoints, matches Matches) (*AlignedKeyPoints, error) {
	if err := matches.Validate(kps1, kps2); err != nil {
		return nil, err
	}
	out := &AlignedKeyPoints{
		Left:     make(KeyPoints, len(matches)),
		Right:    make(KeyPoints, len(matches)),
		LeftIdx:  make([]int, len(matches)),
		RightIdx: make([]int, len(matches)),
	}
	for i, match := range matches {
		out.Left[i] = kps1[match.Idx1]
		out.Right[i] = kps2[match.Idx2]
		out.LeftIdx[i] = match.Idx1
		out.RightIdx[i] = match.Idx2
	}
	return out, nil
}

// GetMatchingKeyPoints takes the matches and the keypoints and returns the corresponding keypoints that are matched.
func GetMatchingKeyPoints(matches Matches, kps1, kps2 KeyPoints) (KeyPoints, KeyPoints, error) {
	aligned, err := AlignKeyPoints(kps1, kps2, matches)
	if err != nil {
		return nil, nil, err
	}
	return aligned.Left, aligned.Right, nil
}

// PruneWithMask keeps the items whose mask entry is true, preserving order.
func PruneWithMask[T any, S ~[]T](items S, mask []bool) (S, error) {
	if len(items) != len(mask) {
		return nil, errors.Errorf("mask has %d entries for %d items", len(mask), len(items))
	}
	return lo.Filter(items, func(_ T, i int) bool { return mask[i] }), nil
}

// CountMask returns the number of true entries of mask.
func CountMask(mask []bool) int {
	return lo.Count(mask, true)
}
