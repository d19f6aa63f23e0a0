package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DefaultDistanceThreshold is the largest depth, in units of the baseline, a triangulated point
// may have and still count toward choosing a pose candidate. Farther points are treated as
// being at infinity.
const DefaultDistanceThreshold = 50.

// CamPose stores the 3x4 pose matrix as well as the 3D Rotation and Translation matrices.
type CamPose struct {
	PoseMat     *mat.Dense
	Rotation    *mat.Dense
	Translation *mat.Dense
}

// NewCamPoseFromMat creates a pointer to a Camera pose from a 3x4 pose dense matrix.
func NewCamPoseFromMat(pose *mat.Dense) *CamPose {
	t := mat.NewDense(3, 1, mat.Col(nil, 3, pose))
	rot := mat.DenseCopyOf(pose.Slice(0, 3, 0, 3))
	return &CamPose{
		PoseMat:     pose,
		Rotation:    rot,
		Translation: t,
	}
}

// NewCamPoseFromRotationTranslation assembles [R | t].
func NewCamPoseFromRotationTranslation(rotation, translation mat.Matrix) *CamPose {
	var pose mat.Dense
	pose.Augment(rotation, translation)
	return NewCamPoseFromMat(&pose)
}

// NewIdentityCamPose returns [I | 0], the pose of the reference camera.
func NewIdentityCamPose() *CamPose {
	return NewCamPoseFromRotationTranslation(eye(3), mat.NewDense(3, 1, nil))
}

// TransformPoint maps a world point into the camera frame: R*p + t.
func (cp *CamPose) TransformPoint(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: cp.PoseMat.At(0, 0)*p.X + cp.PoseMat.At(0, 1)*p.Y + cp.PoseMat.At(0, 2)*p.Z + cp.PoseMat.At(0, 3),
		Y: cp.PoseMat.At(1, 0)*p.X + cp.PoseMat.At(1, 1)*p.Y + cp.PoseMat.At(1, 2)*p.Z + cp.PoseMat.At(1, 3),
		Z: cp.PoseMat.At(2, 0)*p.X + cp.PoseMat.At(2, 1)*p.Y + cp.PoseMat.At(2, 2)*p.Z + cp.PoseMat.At(2, 3),
	}
}

// Depth is the z coordinate of p in the camera frame.
func (cp *CamPose) Depth(p r3.Vector) float64 {
	return cp.TransformPoint(p).Z
}

// TranslationVector returns t as an r3.Vector.
func (cp *CamPose) TranslationVector() r3.Vector {
	return r3.Vector{X: cp.Translation.At(0, 0), Y: cp.Translation.At(1, 0), Z: cp.Translation.At(2, 0)}
}

// adjustPoseSign adjusts the sign of a pose.
func adjustPoseSign(pose *mat.Dense) *mat.Dense {
	// if the rotation block is a reflection, scale by -1
	if m := mat.DenseCopyOf(pose.Slice(0, 3, 0, 3)); mat.Det(m) < 0 {
		pose.Scale(-1, pose)
	}
	return pose
}

// GetPossibleCameraPoses computes all 4 possible poses from the essential matrix.
func GetPossibleCameraPoses(essMat *mat.Dense) ([]*mat.Dense, error) {
	R1, R2, t, err := DecomposeEssentialMatrix(essMat)
	if err != nil {
		return nil, err
	}
	var tOpp mat.Dense
	tOpp.Scale(-1, t)
	poses := make([]mat.Dense, 4)
	poses[0].Augment(R1, t)
	poses[1].Augment(R1, &tOpp)
	poses[2].Augment(R2, t)
	poses[3].Augment(R2, &tOpp)
	posesOut := make([]*mat.Dense, 4)
	for i := range poses {
		posesOut[i] = mat.DenseCopyOf(adjustPoseSign(&poses[i]))
	}
	return posesOut, nil
}

// getCrossProductMatFromPoint returns the cross product with point p matrix.
func getCrossProductMatFromPoint(p r3.Vector) *mat.Dense {
	cross := mat.NewDense(3, 3, nil)
	cross.Set(0, 1, -p.Z)
	cross.Set(0, 2, p.Y)
	cross.Set(1, 0, p.Z)
	cross.Set(1, 2, -p.X)
	cross.Set(2, 0, -p.Y)
	cross.Set(2, 1, p.X)
	return cross
}

// TriangulatePoints computes the homogeneous 3D points seen at pts1 by the camera P1 and at pts2
// by the camera P2 with the linear (DLT) method. Points are in calibrated coordinates and the
// result is 4xN, one homogeneous point per column.
func TriangulatePoints(P1, P2 mat.Matrix, pts1, pts2 []r2.Point) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	if len(pts1) == 0 {
		return &mat.Dense{}, nil
	}
	out := mat.NewDense(4, len(pts1), nil)
	var p1CrossP, p2CrossP, A mat.Dense
	for i := range pts1 {
		p1CrossP.Mul(getCrossProductMatFromPoint(r3.Vector{X: pts1[i].X, Y: pts1[i].Y, Z: 1}), P1)
		p2CrossP.Mul(getCrossProductMatFromPoint(r3.Vector{X: pts2[i].X, Y: pts2[i].Y, Z: 1}), P2)
		A.Reset()
		A.Stack(&p1CrossP, &p2CrossP)

		var svd mat.SVD
		if ok := svd.Factorize(&A, mat.SVDFull); !ok {
			return nil, errors.New("failed to factorize A")
		}
		// Determine the rank of the A matrix with a near zero condition threshold.
		const rcond = 1e-15
		if svd.Rank(rcond) == 0 {
			return nil, errors.New("zero rank system")
		}
		var V mat.Dense
		svd.VTo(&V)
		out.SetCol(i, mat.Col(nil, 3, &V))
	}
	return out, nil
}

// ConvertPointsFromHomogeneous divides each column of a 4xN matrix by its last coordinate.
// Columns whose last coordinate is zero are points at infinity; their entry in valid is false
// and their vector is left at zero.
func ConvertPointsFromHomogeneous(pts *mat.Dense) ([]r3.Vector, []bool) {
	if pts.IsEmpty() {
		return nil, nil
	}
	_, n := pts.Dims()
	out := make([]r3.Vector, n)
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		w := pts.At(3, i)
		if w == 0 || math.Abs(w) < 1e-12*(math.Abs(pts.At(0, i))+math.Abs(pts.At(1, i))+math.Abs(pts.At(2, i))) {
			continue
		}
		out[i] = r3.Vector{X: pts.At(0, i) / w, Y: pts.At(1, i) / w, Z: pts.At(2, i) / w}
		valid[i] = true
	}
	return out, valid
}

// GetLinearTriangulatedPoints computes triangulated 3D points with linear method, for an identity
// first camera and pose as the second camera. pts are homogeneous calibrated coordinates.
func GetLinearTriangulatedPoints(pose *mat.Dense, pts1, pts2 []r3.Vector) ([]r3.Vector, error) {
	homogeneous, err := TriangulatePoints(NewIdentityCamPose().PoseMat, pose, dehomogenize(pts1), dehomogenize(pts2))
	if err != nil {
		return nil, err
	}
	pts3d, _ := ConvertPointsFromHomogeneous(homogeneous)
	return pts3d, nil
}

func dehomogenize(pts []r3.Vector) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = r2.Point{X: p.X / p.Z, Y: p.Y / p.Z}
	}
	return out
}

// cheiralityMask flags the points of mask that triangulate in front of both the identity camera
// and pose, closer than distanceThresh.
func cheiralityMask(pose *mat.Dense, pts1, pts2 []r2.Point, mask []bool, distanceThresh float64) ([]bool, int, error) {
	idx := make([]int, 0, len(pts1))
	for i := range pts1 {
		if mask == nil || mask[i] {
			idx = append(idx, i)
		}
	}
	sub1 := make([]r2.Point, len(idx))
	sub2 := make([]r2.Point, len(idx))
	for k, i := range idx {
		sub1[k], sub2[k] = pts1[i], pts2[i]
	}
	homogeneous, err := TriangulatePoints(NewIdentityCamPose().PoseMat, pose, sub1, sub2)
	if err != nil {
		return nil, 0, err
	}
	pts3D, valid := ConvertPointsFromHomogeneous(homogeneous)
	cam2 := NewCamPoseFromMat(pose)

	out := make([]bool, len(pts1))
	count := 0
	for k, i := range idx {
		if !valid[k] {
			continue
		}
		d1 := pts3D[k].Z
		d2 := cam2.Depth(pts3D[k])
		if d1 > 0 && d1 < distanceThresh && d2 > 0 && d2 < distanceThresh {
			out[i] = true
			count++
		}
	}
	return out, count, nil
}

// GetNumberPositiveDepth computes the number of masked correspondences that triangulate in
// front of both cameras.
func GetNumberPositiveDepth(pose *mat.Dense, pts1, pts2 []r2.Point, mask []bool) int {
	_, n, err := cheiralityMask(pose, pts1, pts2, mask, math.Inf(1))
	if err != nil {
		return 0
	}
	return n
}

// RecoverPose picks, among the four decompositions of the essential matrix, the pose for which
// the most masked correspondences lie in front of both cameras. Points are calibrated
// coordinates; a nil mask uses every correspondence. The returned mask keeps only the
// correspondences that passed the depth test for the chosen pose, and the returned count is its
// number of true entries.
func RecoverPose(essMat *mat.Dense, pts1, pts2 []r2.Point, mask []bool, distanceThresh float64) (*CamPose, []bool, int, error) {
	if len(pts1) != len(pts2) {
		return nil, nil, 0, errors.New("the 2 sets of points don't have the same number of elements")
	}
	if mask != nil && len(mask) != len(pts1) {
		return nil, nil, 0, errors.Errorf("mask has %d entries for %d points", len(mask), len(pts1))
	}
	if distanceThresh <= 0 {
		distanceThresh = DefaultDistanceThreshold
	}
	poses, err := GetPossibleCameraPoses(essMat)
	if err != nil {
		return nil, nil, 0, err
	}
	bestCount := -1
	var bestPose *mat.Dense
	var bestMask []bool
	for _, pose := range poses {
		poseMask, count, err := cheiralityMask(pose, pts1, pts2, mask, distanceThresh)
		if err != nil {
			return nil, nil, 0, err
		}
		if count > bestCount {
			bestCount, bestPose, bestMask = count, pose, poseMask
		}
	}
	return NewCamPoseFromMat(bestPose), bestMask, bestCount, nil
}

// GetCorrectCameraPose returns the best pose, which is the pose with the most positive depth values.
func GetCorrectCameraPose(poses []*mat.Dense, pts1, pts2 []r2.Point) *mat.Dense {
	maxNumPosDepth := -1
	correctPose := poses[0]
	for _, pose := range poses {
		if nPosDepth := GetNumberPositiveDepth(pose, pts1, pts2, nil); nPosDepth > maxNumPosDepth {
			maxNumPosDepth = nPosDepth
			correctPose = mat.DenseCopyOf(pose)
		}
	}
	return correctPose
}

// EstimateNewPose estimates the pose of the camera in the second set of points wrt the pose of the camera in the first
// set of points, using every correspondence and no outlier rejection.
// pts1 and pts2 are matches in 2 images (successive in time or from 2 different cameras of the same scene
// at the same time).
func EstimateNewPose(pts1, pts2 []r2.Point, k *mat.Dense) (*CamPose, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	fundamentalMatrix, err := ComputeFundamentalMatrixAllPoints(pts1, pts2, true)
	if err != nil {
		return nil, err
	}
	essentialMatrix, err := GetEssentialMatrixFromFundamental(k, k, fundamentalMatrix)
	if err != nil {
		return nil, err
	}
	poses, err := GetPossibleCameraPoses(essentialMatrix)
	if err != nil {
		return nil, err
	}
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, NewNoIntrinsicsError("camera matrix is not invertible")
	}
	pose := GetCorrectCameraPose(poses, applyInverseK(&kInv, pts1), applyInverseK(&kInv, pts2))
	return NewCamPoseFromMat(pose), nil
}

func applyInverseK(kInv *mat.Dense, pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		x := kInv.At(0, 0)*pt.X + kInv.At(0, 1)*pt.Y + kInv.At(0, 2)
		y := kInv.At(1, 0)*pt.X + kInv.At(1, 1)*pt.Y + kInv.At(1, 2)
		w := kInv.At(2, 0)*pt.X + kInv.At(2, 1)*pt.Y + kInv.At(2, 2)
		out[i] = r2.Point{X: x / w, Y: y / w}
	}
	return out
}
