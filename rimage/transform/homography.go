package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/ransac"
)

// minHomographySamples is the number of correspondences that determine a homography.
const minHomographySamples = 4

// Homography is a 3x3 matrix (represented as a 2D array) used to transform a plane from the perspective of a 2D
// camera to the perspective of another 2D camera. Indices are [row][column].
type Homography [3][3]float64

// NewHomography creates a Homography from 9 values in row-major order.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	var h Homography
	for i, v := range vals {
		h[i/3][i%3] = v
	}
	return &h, nil
}

func homographyFromDense(m mat.Matrix) *Homography {
	var h Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = m.At(i, j)
		}
	}
	return &h
}

// At returns the value of the homography at the given row and column.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// ToDense returns the homography as a gonum matrix.
func (h *Homography) ToDense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

// Apply transforms a point with the homography. Points mapped to infinity come back as (+Inf, +Inf).
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	if z == 0 {
		return r2.Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return r2.Point{X: x / z, Y: y / z}
}

// Inverse returns the inverse homography.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.ToDense()); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	return homographyFromDense(&inv), nil
}

// EstimateHomography computes the homography mapping src onto dst with the normalized direct
// linear transform over every correspondence.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.New("sets of points src and dst must have the same number of elements")
	}
	if len(src) < minHomographySamples {
		return nil, errors.Errorf("need at least %d points to estimate a homography, got %d", minHomographySamples, len(src))
	}
	h, ok := directLinearHomography(src, dst)
	if !ok {
		return nil, errors.New("degenerate point configuration for homography estimation")
	}
	return h, nil
}

func directLinearHomography(src, dst []r2.Point) (*Homography, bool) {
	srcN, T1, ok1 := normalizePoints(src)
	dstN, T2, ok2 := normalizePoints(dst)
	if !ok1 || !ok2 {
		return nil, false
	}
	if len(src) == minHomographySamples && (hasCollinearTriple(srcN) || hasCollinearTriple(dstN)) {
		return nil, false
	}

	nRows := max(2*len(src), 9)
	A := mat.NewDense(nRows, 9, nil)
	for i := range srcN {
		X, Y := srcN[i].X, srcN[i].Y
		x, y := dstN[i].X, dstN[i].Y
		A.SetRow(2*i, []float64{-X, -Y, -1, 0, 0, 0, x * X, x * Y, x})
		A.SetRow(2*i+1, []float64{0, 0, 0, -X, -Y, -1, y * X, y * Y, y})
	}
	mats := performSVD(A)
	if mats == nil {
		return nil, false
	}
	Hn := mat.NewDense(3, 3, mat.Col(nil, 8, mats.V))
	// a near singular normalized homography collapses the plane
	if math.Abs(mat.Det(Hn)) < 1e-8 {
		return nil, false
	}

	// H = T2^-1 Hn T1
	var T2inv, H mat.Dense
	if err := T2inv.Inverse(T2); err != nil {
		return nil, false
	}
	H.Mul(&T2inv, Hn)
	H.Mul(&H, T1)
	if H.At(2, 2) == 0 {
		return nil, false
	}
	H.Scale(1/H.At(2, 2), &H)
	return homographyFromDense(&H), true
}

// hasCollinearTriple reports whether any three of the points lie on a line.
func hasCollinearTriple(pts []r2.Point) bool {
	const eps = 1e-9
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			for k := j + 1; k < len(pts); k++ {
				if math.Abs(pts[j].Sub(pts[i]).Cross(pts[k].Sub(pts[i]))) < eps {
					return true
				}
			}
		}
	}
	return false
}

// homographyEstimator scores homographies by the forward transfer error in pixels.
type homographyEstimator struct {
	src, dst []r2.Point
}

func (he *homographyEstimator) SampleSize() int {
	return minHomographySamples
}

func (he *homographyEstimator) subset(indices []int) ([]r2.Point, []r2.Point) {
	src := make([]r2.Point, len(indices))
	dst := make([]r2.Point, len(indices))
	for i, idx := range indices {
		src[i] = he.src[idx]
		dst[i] = he.dst[idx]
	}
	return src, dst
}

func (he *homographyEstimator) Fit(indices []int) (*Homography, bool) {
	return directLinearHomography(he.subset(indices))
}

func (he *homographyEstimator) Residual(h *Homography, i int) float64 {
	return h.Apply(he.src[i]).Sub(he.dst[i]).Norm()
}

func (he *homographyEstimator) Refine(_ *Homography, inliers []int) (*Homography, bool) {
	if len(inliers) < minHomographySamples {
		return nil, false
	}
	return directLinearHomography(he.subset(inliers))
}

// EstimateHomographyRANSAC robustly fits a homography mapping src onto dst.
func EstimateHomographyRANSAC(src, dst []r2.Point, cfg ransac.Config) (*ransac.Result[*Homography], error) {
	if len(src) != len(dst) {
		return nil, errors.New("sets of points src and dst must have the same number of elements")
	}
	return ransac.Estimate[*Homography](&homographyEstimator{src: src, dst: dst}, len(src), cfg)
}
