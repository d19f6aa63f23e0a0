package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/ransac"
)

// minEightPointSamples is the number of correspondences the linear epipolar solvers need.
const minEightPointSamples = 8

// GetEssentialMatrixFromFundamental returns the essential matrix from the fundamental matrix and intrinsics parameters.
func GetEssentialMatrixFromFundamental(k1, k2, f *mat.Dense) (*mat.Dense, error) {
	var essMat, tmp mat.Dense
	tmp.Mul(k2.T(), f)
	essMat.Mul(&tmp, k1)
	return enforceEssentialConstraint(&essMat)
}

// enforceEssentialConstraint projects a 3x3 matrix onto the essential manifold: singular
// values (1, 1, 0).
func enforceEssentialConstraint(m *mat.Dense) (*mat.Dense, error) {
	mats := performSVD(m)
	if mats == nil {
		return nil, errors.New("failed to factorize essential matrix")
	}
	S := eye(3)
	S.Set(2, 2, 0)

	var essMat mat.Dense
	essMat.Mul(mats.U, S)
	essMat.Mul(&essMat, mats.VT)
	return &essMat, nil
}

// DecomposeEssentialMatrix decomposes the Essential matrix into 2 possible 3D rotations and a 3D translation.
func DecomposeEssentialMatrix(essMat *mat.Dense) (*mat.Dense, *mat.Dense, *mat.Dense, error) {
	mats := performSVD(essMat)
	if mats == nil {
		return nil, nil, nil, errors.New("failed to factorize essential matrix")
	}
	// keep U and V proper rotations so that both candidates are too
	if mat.Det(mats.U) < 0 {
		mats.U.Scale(-1, mats.U)
	}
	if mat.Det(mats.VT) < 0 {
		mats.VT.Scale(-1, mats.VT)
	}
	W := mat.NewDense(3, 3, []float64{
		0, 1, 0,
		-1, 0, 0,
		0, 0, 1,
	})
	var R1, R2 mat.Dense
	// UWV^T
	R1.Mul(mats.U, W)
	R1.Mul(&R1, mats.VT)
	// UW^TV^T
	R2.Mul(mats.U, W.T())
	R2.Mul(&R2, mats.VT)
	t := mat.NewDense(3, 1, []float64{mats.U.At(0, 2), mats.U.At(1, 2), mats.U.At(2, 2)})
	return &R1, &R2, t, nil
}

// Convert2DPointsToHomogeneousPoints converts float64 image coordinates to homogeneous float64 coordinates.
func Convert2DPointsToHomogeneousPoints(pts []r2.Point) []r3.Vector {
	ptsHomogeneous := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		ptsHomogeneous[i] = r3.Vector{X: pt.X, Y: pt.Y, Z: 1}
	}
	return ptsHomogeneous
}

// ComputeFundamentalMatrixAllPoints compute the fundamental matrix from all points.
func ComputeFundamentalMatrixAllPoints(pts1, pts2 []r2.Point, normalize bool) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	if len(pts1) < minEightPointSamples {
		return nil, errors.Errorf("sets of points must have at least %d elements", minEightPointSamples)
	}
	F, ok := eightPoint(pts1, pts2, normalize)
	if !ok {
		return nil, errors.New("degenerate point configuration for the 8-point algorithm")
	}
	if F.At(2, 2) != 0 {
		F.Scale(1/F.At(2, 2), F)
	}
	return F, nil
}

// eightPoint solves x2^T F x1 = 0 in the least squares sense and enforces rank 2.
func eightPoint(pts1, pts2 []r2.Point, normalize bool) (*mat.Dense, bool) {
	points1, points2 := pts1, pts2
	T1, T2 := eye(3), eye(3)
	if normalize {
		var ok1, ok2 bool
		points1, T1, ok1 = normalizePoints(pts1)
		points2, T2, ok2 = normalizePoints(pts2)
		if !ok1 || !ok2 {
			return nil, false
		}
	}

	// gonum's SVD needs at least as many rows as columns
	nRows := max(len(points1), 9)
	m := mat.NewDense(nRows, 9, nil)
	for i := range points1 {
		v1 := points1[i]
		v2 := points2[i]
		m.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		})
	}

	mats1 := performSVD(m)
	if mats1 == nil {
		return nil, false
	}
	F := mat.NewDense(3, 3, mat.Col(nil, 8, mats1.V))

	// enforce rank 2 of F
	mats2 := performSVD(F)
	if mats2 == nil {
		return nil, false
	}
	mats2.S.Set(2, 2, 0)
	F.Mul(mats2.U, mats2.S)
	F.Mul(F, mats2.VT)

	// undo the normalization: T2^T @ F @ T1
	F.Mul(T2.T(), F)
	F.Mul(F, T1)
	return F, true
}

// SampsonDistance is the first order approximation of the geometric distance of the
// correspondence (p1, p2) to the epipolar constraint of F, in the units of the points.
func SampsonDistance(F mat.Matrix, p1, p2 r2.Point) float64 {
	x1 := mat.NewVecDense(3, []float64{p1.X, p1.Y, 1})
	x2 := mat.NewVecDense(3, []float64{p2.X, p2.Y, 1})
	var fx1, ftx2 mat.VecDense
	fx1.MulVec(F, x1)
	ftx2.MulVec(F.T(), x2)
	e := mat.Dot(x2, &fx1)
	denom := fx1.AtVec(0)*fx1.AtVec(0) + fx1.AtVec(1)*fx1.AtVec(1) +
		ftx2.AtVec(0)*ftx2.AtVec(0) + ftx2.AtVec(1)*ftx2.AtVec(1)
	if denom == 0 {
		if e == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(e) / math.Sqrt(denom)
}

// essentialEstimator fits essential matrices to calibrated correspondences. Residuals are
// Sampson distances scaled back to pixels by the focal length.
type essentialEstimator struct {
	pts1, pts2 []r2.Point
	focal      float64
}

func (ee *essentialEstimator) SampleSize() int {
	return minEightPointSamples
}

func (ee *essentialEstimator) fitIndices(indices []int) (*mat.Dense, bool) {
	p1 := make([]r2.Point, len(indices))
	p2 := make([]r2.Point, len(indices))
	for i, idx := range indices {
		p1[i] = ee.pts1[idx]
		p2[i] = ee.pts2[idx]
	}
	F, ok := eightPoint(p1, p2, true)
	if !ok {
		return nil, false
	}
	E, err := enforceEssentialConstraint(F)
	if err != nil {
		return nil, false
	}
	return E, true
}

func (ee *essentialEstimator) Fit(indices []int) (*mat.Dense, bool) {
	return ee.fitIndices(indices)
}

func (ee *essentialEstimator) Residual(E *mat.Dense, i int) float64 {
	return SampsonDistance(E, ee.pts1[i], ee.pts2[i]) * ee.focal
}

func (ee *essentialEstimator) Refine(_ *mat.Dense, inliers []int) (*mat.Dense, bool) {
	if len(inliers) < minEightPointSamples {
		return nil, false
	}
	return ee.fitIndices(inliers)
}

// EstimateEssentialMatrixRANSAC robustly fits an essential matrix to calibrated (normalized)
// correspondences. focal converts the pixel threshold in cfg to calibrated units.
func EstimateEssentialMatrixRANSAC(pts1, pts2 []r2.Point, focal float64, cfg ransac.Config) (*ransac.Result[*mat.Dense], error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	if focal <= 0 {
		return nil, NewNoIntrinsicsError("focal length must be positive")
	}
	return ransac.Estimate[*mat.Dense](&essentialEstimator{pts1: pts1, pts2: pts2, focal: focal}, len(pts1), cfg)
}

// helpers
// normalizePoints normalizes points as described in Multiple View Geometry, Alg 11.1.
// ok is false when every point coincides.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, bool) {
	nPoints := float64(len(pts))
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / nPoints)
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / nPoints
	}
	if d == 0 {
		return nil, nil, false
	}
	scale := math.Sqrt(2) / d
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, len(pts))
	for i, pt := range pts {
		pointsTransformed[i] = pt.Sub(mu).Mul(scale)
	}
	return pointsTransformed, T, true
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  *mat.Dense
	// Values are the singular values in decreasing order.
	Values []float64
}

// performSVD performs SVD on inputMatrix and returns matrices U, Sigma and V from the decomposition.
func performSVD(inputMatrix mat.Matrix) *matsSVD {
	var svd mat.SVD
	ok := svd.Factorize(inputMatrix, mat.SVDFull)
	if !ok {
		return nil
	}

	u, v, sigma, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}, &mat.Dense{}

	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())

	singularValues := svd.Values(nil)
	sigma.CloneFrom(mat.NewDiagDense(len(singularValues), singularValues))

	return &matsSVD{u, v, vt, sigma, singularValues}
}
