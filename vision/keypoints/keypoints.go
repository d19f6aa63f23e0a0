// Package keypoints contains the feature point sets and match lists consumed by the two-view
// geometry in vision/sfm. Detection and descriptor matching happen upstream.
package keypoints

import (
	"image"

	"github.com/golang/geo/r2"
)

// KeyPoints is an ordered set of feature locations in one image, in pixels. The index of a
// point is its identity and is what match lists and map points refer to.
type KeyPoints []r2.Point

// FromImagePoints converts integer pixel locations to KeyPoints.
func FromImagePoints(pts []image.Point) KeyPoints {
	kps := make(KeyPoints, len(pts))
	for i, pt := range pts {
		kps[i] = r2.Point{X: float64(pt.X), Y: float64(pt.Y)}
	}
	return kps
}

// Contains reports whether idx is a valid index into kps.
func (kps KeyPoints) Contains(idx int) bool {
	return idx >= 0 && idx < len(kps)
}
