package ransac

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

// lineEstimator fits y = a*x + b.
type lineEstimator struct {
	xs, ys []float64
}

type line struct{ a, b float64 }

func (le *lineEstimator) SampleSize() int { return 2 }

func (le *lineEstimator) Fit(indices []int) (line, bool) {
	x0, y0 := le.xs[indices[0]], le.ys[indices[0]]
	x1, y1 := le.xs[indices[1]], le.ys[indices[1]]
	if x0 == x1 {
		return line{}, false
	}
	a := (y1 - y0) / (x1 - x0)
	return line{a, y0 - a*x0}, true
}

func (le *lineEstimator) Residual(l line, i int) float64 {
	return math.Abs(le.ys[i] - (l.a*le.xs[i] + l.b))
}

type refiningLineEstimator struct {
	lineEstimator
	refined int
}

// Refine runs a least squares fit over the inliers.
func (rle *refiningLineEstimator) Refine(_ line, inliers []int) (line, bool) {
	rle.refined++
	var sx, sy, sxx, sxy float64
	for _, i := range inliers {
		sx += rle.xs[i]
		sy += rle.ys[i]
		sxx += rle.xs[i] * rle.xs[i]
		sxy += rle.xs[i] * rle.ys[i]
	}
	n := float64(len(inliers))
	det := n*sxx - sx*sx
	if det == 0 {
		return line{}, false
	}
	a := (n*sxy - sx*sy) / det
	return line{a, (sy - a*sx) / n}, true
}

func makeLineData(n, outliers int) *lineEstimator {
	le := &lineEstimator{}
	for i := 0; i < n; i++ {
		x := float64(i)
		y := 2*x + 1
		if i%(n/outliers) == 0 {
			y += 50 + float64(i)
		}
		le.xs = append(le.xs, x)
		le.ys = append(le.ys, y)
	}
	return le
}

func TestEstimateLine(t *testing.T) {
	le := makeLineData(100, 20)
	res, err := Estimate[line](le, 100, Config{Threshold: 0.5, MaxIterations: 200, Confidence: 0.99, Seed: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Model.a, test.ShouldAlmostEqual, 2, 1e-9)
	test.That(t, res.Model.b, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, res.NumInliers, test.ShouldEqual, 80)
	test.That(t, res.InlierIndices(), test.ShouldHaveLength, 80)
	for i, in := range res.Mask {
		test.That(t, in, test.ShouldEqual, i%5 != 0)
	}
	// adaptive termination stops well before the cap on this easy problem
	test.That(t, res.Iterations, test.ShouldBeLessThan, 200)
}

func TestEstimateRefines(t *testing.T) {
	rle := &refiningLineEstimator{lineEstimator: *makeLineData(50, 10)}
	res, err := Estimate[line](rle, 50, Config{Threshold: 0.5, MaxIterations: 100, Seed: 3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rle.refined, test.ShouldEqual, 1)
	test.That(t, res.NumInliers, test.ShouldEqual, 40)
	test.That(t, res.Iterations, test.ShouldEqual, 100)
}

func TestEstimateDeterministic(t *testing.T) {
	le := makeLineData(60, 20)
	cfg := Config{Threshold: 0.5, MaxIterations: 50, Seed: 42}
	res1, err := Estimate[line](le, 60, cfg)
	test.That(t, err, test.ShouldBeNil)
	res2, err := Estimate[line](le, 60, cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res1, test.ShouldResemble, res2)
}

func TestEstimateFailures(t *testing.T) {
	le := makeLineData(10, 5)

	_, err := Estimate[line](le, 1, Config{Threshold: 1, MaxIterations: 10})
	test.That(t, errors.Is(err, ErrNotEnoughPoints), test.ShouldBeTrue)

	_, err = Estimate[line](le, 10, Config{Threshold: 1})
	test.That(t, err, test.ShouldNotBeNil)

	// every sample is degenerate when all x are equal
	flat := &lineEstimator{xs: []float64{1, 1, 1, 1}, ys: []float64{1, 2, 3, 4}}
	_, err = Estimate[line](flat, 4, Config{Threshold: 1, MaxIterations: 20})
	test.That(t, errors.Is(err, ErrNoModel), test.ShouldBeTrue)
}

func TestUpdateNumIters(t *testing.T) {
	test.That(t, updateNumIters(0.99, 0, 4, 1000), test.ShouldEqual, 0)
	test.That(t, updateNumIters(0.99, 1, 4, 1000), test.ShouldEqual, 1000)
	// log(0.01)/log(1-0.5^2) = 16.008...
	test.That(t, updateNumIters(0.99, 0.5, 2, 1000), test.ShouldEqual, 16)
}

func TestDrawSampleDistinct(t *testing.T) {
	pool := []int{0, 1, 2, 3, 4, 5}
	sample := make([]int, 6)
	for i := 0; i < 20; i++ {
		drawSample(newTestRand(int64(i)), pool, sample)
		seen := map[int]bool{}
		for _, s := range sample {
			test.That(t, seen[s], test.ShouldBeFalse)
			seen[s] = true
		}
	}
}
