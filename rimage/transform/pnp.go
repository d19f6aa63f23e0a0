package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/sfm/ransac"
)

const (
	// minPnPSamples is the number of 2D-3D correspondences the linear pose solver needs.
	minPnPSamples = 6
	// minPlanarPnPSamples is the number of correspondences the planar pose solver needs.
	minPlanarPnPSamples = 4
	// planarityRatio bounds the ratio of the smallest to the largest spread of world points
	// treated as coplanar.
	planarityRatio = 1e-3
)

// PoseEstimate is the result of a robust pose-from-points fit.
type PoseEstimate struct {
	Pose           *CamPose
	RotationVector r3.Vector
	Mask           []bool
	NumInliers     int
	// ReprojectionErrors holds the pixel error of every correspondence under Pose.
	ReprojectionErrors []float64
}

// InlierReprojectionErrors returns the reprojection errors of the inliers only.
func (pe *PoseEstimate) InlierReprojectionErrors() []float64 {
	out := make([]float64, 0, pe.NumInliers)
	for i, in := range pe.Mask {
		if in {
			out = append(out, pe.ReprojectionErrors[i])
		}
	}
	return out
}

// SolvePnPDLT computes the pose of a calibrated camera from at least 6 correspondences between
// world points and calibrated image coordinates by direct linear transform of the projection
// matrix. ok is false for degenerate configurations, e.g. coplanar world points, which
// SolvePnPPlanar handles.
func SolvePnPDLT(pts3d []r3.Vector, pts2d []r2.Point) (*CamPose, bool) {
	n := len(pts3d)
	if n < minPnPSamples || len(pts2d) != n {
		return nil, false
	}
	world, T3, ok := normalizePoints3D(pts3d)
	if !ok {
		return nil, false
	}
	image, T2, ok := normalizePoints(pts2d)
	if !ok {
		return nil, false
	}

	nRows := max(2*n, 12)
	A := mat.NewDense(nRows, 12, nil)
	for i := range world {
		X, Y, Z := world[i].X, world[i].Y, world[i].Z
		x, y := image[i].X, image[i].Y
		A.SetRow(2*i, []float64{X, Y, Z, 1, 0, 0, 0, 0, -x * X, -x * Y, -x * Z, -x})
		A.SetRow(2*i+1, []float64{0, 0, 0, 0, X, Y, Z, 1, -y * X, -y * Y, -y * Z, -y})
	}
	mats := performSVD(A)
	if mats == nil {
		return nil, false
	}
	// a second null direction means the points do not constrain the pose
	if mats.Values[0] == 0 || mats.Values[10]/mats.Values[0] < 1e-10 {
		return nil, false
	}
	Pn := mat.NewDense(3, 4, mat.Col(nil, 11, mats.V))

	var T2Inv, P mat.Dense
	if err := T2Inv.Inverse(T2); err != nil {
		return nil, false
	}
	P.Mul(&T2Inv, Pn)
	P.Mul(&P, T3)

	M := mat.DenseCopyOf(P.Slice(0, 3, 0, 3))
	if mat.Det(M) < 0 {
		P.Scale(-1, &P)
		M.Scale(-1, M)
	}
	msvd := performSVD(M)
	if msvd == nil {
		return nil, false
	}
	if msvd.Values[0] == 0 || msvd.Values[2]/msvd.Values[0] < 1e-6 {
		return nil, false
	}
	var R mat.Dense
	R.Mul(msvd.U, msvd.VT)
	scale := floats.Sum(msvd.Values) / 3
	t := mat.NewDense(3, 1, mat.Col(nil, 3, &P))
	t.Scale(1/scale, t)
	return NewCamPoseFromRotationTranslation(&R, t), true
}

// SolvePnPPlanar computes the pose of a calibrated camera from at least 4 correspondences
// between coplanar world points and calibrated image coordinates. The homography from the
// points' plane to the image is decomposed into the rotation and translation of the plane.
// ok is false when the world points are not coplanar or three of them are collinear.
func SolvePnPPlanar(pts3d []r3.Vector, pts2d []r2.Point) (*CamPose, bool) {
	n := len(pts3d)
	if n < minPlanarPnPSamples || len(pts2d) != n {
		return nil, false
	}
	center, basis, planar := planeBasis(pts3d)
	if !planar {
		return nil, false
	}
	e1 := r3.Vector{X: basis.At(0, 0), Y: basis.At(1, 0), Z: basis.At(2, 0)}
	e2 := r3.Vector{X: basis.At(0, 1), Y: basis.At(1, 1), Z: basis.At(2, 1)}
	onPlane := make([]r2.Point, n)
	for i, p := range pts3d {
		d := p.Sub(center)
		onPlane[i] = r2.Point{X: d.Dot(e1), Y: d.Dot(e2)}
	}
	h, ok := directLinearHomography(onPlane, pts2d)
	if !ok {
		return nil, false
	}

	// H ~ [r1 r2 t] in plane coordinates
	col := func(j int) r3.Vector {
		return r3.Vector{X: h.At(0, j), Y: h.At(1, j), Z: h.At(2, j)}
	}
	h1, h2, h3 := col(0), col(1), col(2)
	norm := (h1.Norm() + h2.Norm()) / 2
	if norm == 0 {
		return nil, false
	}
	lambda := 1 / norm
	// the centroid must lie in front of the camera
	if h3.Z < 0 {
		lambda = -lambda
	}
	c1, c2 := h1.Mul(lambda), h2.Mul(lambda)
	c3 := c1.Cross(c2)
	approx := mat.NewDense(3, 3, []float64{
		c1.X, c2.X, c3.X,
		c1.Y, c2.Y, c3.Y,
		c1.Z, c2.Z, c3.Z,
	})
	msvd := performSVD(approx)
	if msvd == nil {
		return nil, false
	}
	var planeRot mat.Dense
	planeRot.Mul(msvd.U, msvd.VT)
	if mat.Det(&planeRot) < 0 {
		return nil, false
	}

	// p_cam = R' B^T (p - c) + t', so R = R' B^T and t = t' - R c
	var R mat.Dense
	R.Mul(&planeRot, basis.T())
	tPlane := h3.Mul(lambda)
	rc := mat.NewVecDense(3, nil)
	rc.MulVec(&R, mat.NewVecDense(3, []float64{center.X, center.Y, center.Z}))
	t := mat.NewDense(3, 1, []float64{
		tPlane.X - rc.AtVec(0),
		tPlane.Y - rc.AtVec(1),
		tPlane.Z - rc.AtVec(2),
	})
	return NewCamPoseFromRotationTranslation(&R, t), true
}

// planeBasis returns the centroid of pts and a right-handed orthonormal basis whose last
// column is the normal of their best fitting plane. planar is false when the points spread
// along all three axes.
func planeBasis(pts []r3.Vector) (r3.Vector, *mat.Dense, bool) {
	var center r3.Vector
	if len(pts) < 3 {
		return center, nil, false
	}
	for _, p := range pts {
		center = center.Add(p)
	}
	center = center.Mul(1 / float64(len(pts)))
	centered := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		d := p.Sub(center)
		centered.SetRow(i, []float64{d.X, d.Y, d.Z})
	}
	mats := performSVD(centered)
	if mats == nil || len(mats.Values) < 3 || mats.Values[0] == 0 {
		return center, nil, false
	}
	e1 := r3.Vector{X: mats.V.At(0, 0), Y: mats.V.At(1, 0), Z: mats.V.At(2, 0)}
	e2 := r3.Vector{X: mats.V.At(0, 1), Y: mats.V.At(1, 1), Z: mats.V.At(2, 1)}
	e3 := e1.Cross(e2)
	basis := mat.NewDense(3, 3, []float64{
		e1.X, e2.X, e3.X,
		e1.Y, e2.Y, e3.Y,
		e1.Z, e2.Z, e3.Z,
	})
	return center, basis, mats.Values[2]/mats.Values[0] < planarityRatio
}

// normalizePoints3D centers the points and scales them to a mean distance of sqrt(3) from the
// origin. T maps homogeneous original points to the normalized ones.
func normalizePoints3D(pts []r3.Vector) ([]r3.Vector, *mat.Dense, bool) {
	nPoints := float64(len(pts))
	mu := r3.Vector{}
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
	scale := math.Sqrt(3) / d
	T := mat.NewDense(4, 4, []float64{
		scale, 0, 0, -scale * mu.X,
		0, scale, 0, -scale * mu.Y,
		0, 0, scale, -scale * mu.Z,
		0, 0, 0, 1,
	})
	out := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	return out, T, true
}

// ReprojectionError is the pixel distance between pixel and the projection of world point p
// by a camera at pose. Points on or behind the camera plane have an infinite error.
func ReprojectionError(model *PinholeCameraModel, pose *CamPose, p r3.Vector, pixel r2.Point) float64 {
	c := pose.TransformPoint(p)
	if c.Z <= 0 {
		return math.Inf(1)
	}
	proj, ok := model.ProjectPoint(c)
	if !ok {
		return math.Inf(1)
	}
	return proj.Sub(pixel).Norm()
}

type pnpEstimator struct {
	model      *PinholeCameraModel
	pts3d      []r3.Vector
	pixels     []r2.Point
	normalized []r2.Point
	// planar world points are sampled by fours
	planar bool
}

func (pe *pnpEstimator) SampleSize() int {
	if pe.planar {
		return minPlanarPnPSamples
	}
	return minPnPSamples
}

func (pe *pnpEstimator) fitIndices(indices []int) (*CamPose, bool) {
	p3 := make([]r3.Vector, len(indices))
	p2 := make([]r2.Point, len(indices))
	for i, idx := range indices {
		p3[i] = pe.pts3d[idx]
		p2[i] = pe.normalized[idx]
	}
	if pose, ok := SolvePnPPlanar(p3, p2); ok {
		return pose, true
	}
	return SolvePnPDLT(p3, p2)
}

func (pe *pnpEstimator) Fit(indices []int) (*CamPose, bool) {
	return pe.fitIndices(indices)
}

func (pe *pnpEstimator) Residual(pose *CamPose, i int) float64 {
	return ReprojectionError(pe.model, pose, pe.pts3d[i], pe.pixels[i])
}

func (pe *pnpEstimator) Refine(_ *CamPose, inliers []int) (*CamPose, bool) {
	if len(inliers) < pe.SampleSize() {
		return nil, false
	}
	return pe.fitIndices(inliers)
}

// EstimatePoseRANSAC robustly estimates the pose of a camera from correspondences between world
// points and their pixels in its image. The residual is the pixel reprojection error with the
// model's distortion applied. When refine is true, the winning pose is polished on its inliers
// by minimizing the squared reprojection error; the polished pose is kept only if it lowers it.
func EstimatePoseRANSAC(
	model *PinholeCameraModel,
	pts3d []r3.Vector,
	pixels []r2.Point,
	cfg ransac.Config,
	refine bool,
) (*PoseEstimate, error) {
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	if len(pts3d) != len(pixels) {
		return nil, errors.Errorf("got %d world points for %d pixels", len(pts3d), len(pixels))
	}
	est := &pnpEstimator{
		model:      model,
		pts3d:      pts3d,
		pixels:     pixels,
		normalized: model.UndistortPoints(pixels),
	}
	_, _, est.planar = planeBasis(pts3d)
	res, err := ransac.Estimate[*CamPose](est, len(pts3d), cfg)
	if err != nil {
		return nil, err
	}
	pose := res.Model
	if refine {
		pose = RefinePose(model, pose, pts3d, pixels, res.InlierIndices())
	}

	out := &PoseEstimate{
		Pose:               pose,
		RotationVector:     RodriguesFromRotationMatrix(pose.Rotation),
		Mask:               make([]bool, len(pts3d)),
		ReprojectionErrors: make([]float64, len(pts3d)),
	}
	for i := range pts3d {
		out.ReprojectionErrors[i] = ReprojectionError(model, pose, pts3d[i], pixels[i])
		if out.ReprojectionErrors[i] <= cfg.Threshold {
			out.Mask[i] = true
			out.NumInliers++
		}
	}
	// refinement moved the pose, keep the consensus of the sample if it is larger
	if out.NumInliers < res.NumInliers {
		out.Pose = res.Model
		out.RotationVector = RodriguesFromRotationMatrix(res.Model.Rotation)
		out.Mask = res.Mask
		out.NumInliers = res.NumInliers
		for i := range pts3d {
			out.ReprojectionErrors[i] = ReprojectionError(model, res.Model, pts3d[i], pixels[i])
		}
	}
	return out, nil
}

// RefinePose minimizes the summed squared reprojection error of the given correspondences over
// a rotation vector and a translation, starting from initial. It returns initial when the
// optimizer does not improve on it.
func RefinePose(model *PinholeCameraModel, initial *CamPose, pts3d []r3.Vector, pixels []r2.Point, indices []int) *CamPose {
	if len(indices) == 0 {
		return initial
	}
	cost := func(pose *CamPose) float64 {
		total := 0.
		for _, i := range indices {
			e := ReprojectionError(model, pose, pts3d[i], pixels[i])
			total += e * e
		}
		return total
	}
	fromParams := func(x []float64) *CamPose {
		rot := RotationMatrixFromRodrigues(r3.Vector{X: x[0], Y: x[1], Z: x[2]})
		return NewCamPoseFromRotationTranslation(rot, mat.NewDense(3, 1, []float64{x[3], x[4], x[5]}))
	}

	rv := RodriguesFromRotationMatrix(initial.Rotation)
	t := initial.TranslationVector()
	x0 := []float64{rv.X, rv.Y, rv.Z, t.X, t.Y, t.Z}
	initialCost := cost(initial)
	if initialCost == 0 {
		return initial
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			c := cost(fromParams(x))
			if math.IsInf(c, 0) || math.IsNaN(c) {
				return math.MaxFloat64
			}
			return c
		},
	}
	settings := &optimize.Settings{MajorIterations: 1000, FuncEvaluations: 5000}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil || result == nil || !(result.F < initialCost) {
		return initial
	}
	return fromParams(result.X)
}
