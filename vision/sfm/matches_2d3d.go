package sfm

import (
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/sfm/vision/keypoints"
)

// Find2D3DMatches builds the 2D-3D correspondences of a new view from the points of the cloud
// that were seen in already registered views. toNew maps a registered view id to its matches
// with the new view, the registered view being the first set. Each cloud point and each new
// feature is used at most once; registered views are tried in increasing id order.
func Find2D3DMatches(
	cloud PointCloud,
	newFeatures keypoints.KeyPoints,
	toNew map[int]keypoints.Matches,
) (*Image2D3DMatch, *MatchSource, error) {
	views := make([]int, 0, len(toNew))
	lookup := make(map[int]map[int]int, len(toNew))
	for view, matches := range toNew {
		views = append(views, view)
		byFeature := make(map[int]int, len(matches))
		for i, m := range matches {
			if !newFeatures.Contains(m.Idx2) {
				return nil, nil, errors.Errorf("match %d of view %d refers to feature %d of the new view, which has %d features",
					i, view, m.Idx2, len(newFeatures))
			}
			if _, ok := byFeature[m.Idx1]; !ok {
				byFeature[m.Idx1] = m.Idx2
			}
		}
		lookup[view] = byFeature
	}
	sort.Ints(views)

	used := make(map[int]bool)
	out := &Image2D3DMatch{Points2D: []r2.Point{}, Points3D: []r3.Vector{}}
	src := &MatchSource{CloudIdx: []int{}, FeatureIdx: []int{}}
	for i, mp := range cloud {
		for _, view := range views {
			featIdx, seen := mp.OriginatingViews[view]
			if !seen {
				continue
			}
			newIdx, ok := lookup[view][featIdx]
			if !ok || used[newIdx] {
				continue
			}
			used[newIdx] = true
			out.Points2D = append(out.Points2D, newFeatures[newIdx])
			out.Points3D = append(out.Points3D, mp.Point)
			src.CloudIdx = append(src.CloudIdx, i)
			src.FeatureIdx = append(src.FeatureIdx, newIdx)
			break
		}
	}
	return out, src, nil
}

// MatchSource tells where each correspondence of a 2D-3D match came from: the index of its point
// in the cloud and of its feature in the new view.
type MatchSource struct {
	CloudIdx   []int
	FeatureIdx []int
}

// AddObservations records, for the cloud points behind a registered 2D-3D match, the feature
// index they were seen as in view. Only the inliers of mask are recorded. The cloud is left
// untouched when any index is invalid.
func AddObservations(cloud PointCloud, view int, src *MatchSource, mask []bool) error {
	cloudIdx, featureIdx := src.CloudIdx, src.FeatureIdx
	if len(cloudIdx) != len(featureIdx) || len(cloudIdx) != len(mask) {
		return errors.Errorf("got %d cloud indices, %d feature indices and %d mask entries",
			len(cloudIdx), len(featureIdx), len(mask))
	}
	for k, in := range mask {
		if i := cloudIdx[k]; in && (i < 0 || i >= len(cloud)) {
			return errors.Errorf("cloud index %d out of range", i)
		}
	}
	for k, in := range mask {
		if !in {
			continue
		}
		i := cloudIdx[k]
		if cloud[i].OriginatingViews == nil {
			cloud[i].OriginatingViews = map[int]int{}
		}
		cloud[i].OriginatingViews[view] = featureIdx[k]
	}
	return nil
}
