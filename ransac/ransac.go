// Package ransac implements a generic sample-score-select robust estimator. A geometric model
// plugs in by describing how to fit itself to a minimal sample and how far a single
// correspondence lies from it; the package handles sampling, consensus scoring, adaptive
// iteration counts and the final refit on the consensus set.
package ransac

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

var (
	// ErrNotEnoughPoints is returned when there are fewer data points than a minimal sample.
	ErrNotEnoughPoints = errors.New("not enough points for a minimal sample")
	// ErrNoModel is returned when no sample produced a model with any support.
	ErrNoModel = errors.New("robust estimation failed to find a model")
)

// Estimator fits models of type M to subsets of n indexed data points.
type Estimator[M any] interface {
	// SampleSize is the number of points in a minimal sample.
	SampleSize() int
	// Fit estimates a model from the points at the given indices. ok is false for degenerate samples.
	Fit(indices []int) (model M, ok bool)
	// Residual is the error of point i under model, in the same unit as Config.Threshold.
	Residual(model M, i int) float64
}

// Refiner is implemented by estimators that can re-fit a model on the full consensus set.
type Refiner[M any] interface {
	Refine(model M, inliers []int) (M, bool)
}

// Config holds the parameters of a robust fit.
type Config struct {
	// Threshold is the largest residual still counted as an inlier.
	Threshold float64
	// MaxIterations caps the number of samples drawn.
	MaxIterations int
	// Confidence in (0, 1) shrinks the iteration count once a good model is found. Zero disables it.
	Confidence float64
	// Seed makes sampling reproducible.
	Seed int64
}

// Result is the outcome of a robust fit.
type Result[M any] struct {
	Model      M
	Mask       []bool
	NumInliers int
	Iterations int
}

// InlierIndices returns the indices flagged in the mask.
func (r *Result[M]) InlierIndices() []int {
	return maskIndices(r.Mask)
}

type scored[M any] struct {
	model      M
	mask       []bool
	numInliers int
	cost       float64
}

// Estimate runs the sample-score-select loop over n data points.
func Estimate[M any](est Estimator[M], n int, cfg Config) (*Result[M], error) {
	sampleSize := est.SampleSize()
	if n < sampleSize || sampleSize <= 0 {
		return nil, errors.Wrapf(ErrNotEnoughPoints, "have %d, need %d", n, sampleSize)
	}
	if cfg.MaxIterations <= 0 {
		return nil, errors.Errorf("max iterations must be positive, got %d", cfg.MaxIterations)
	}

	rnd := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	sample := make([]int, sampleSize)

	var best *scored[M]
	maxIters := cfg.MaxIterations
	iter := 0
	for ; iter < maxIters; iter++ {
		drawSample(rnd, pool, sample)
		model, ok := est.Fit(sample)
		if !ok {
			continue
		}
		candidate := score(est, model, n, cfg.Threshold)
		if candidate.numInliers < sampleSize || !candidate.better(best) {
			continue
		}
		best = candidate
		if cfg.Confidence > 0 {
			maxIters = min(maxIters, updateNumIters(cfg.Confidence, float64(n-best.numInliers)/float64(n), sampleSize, cfg.MaxIterations))
		}
	}
	if best == nil {
		return nil, ErrNoModel
	}

	if refiner, ok := est.(Refiner[M]); ok {
		if refined, ok := refiner.Refine(best.model, maskIndices(best.mask)); ok {
			if candidate := score(est, refined, n, cfg.Threshold); candidate.better(best) {
				best = candidate
			}
		}
	}

	return &Result[M]{
		Model:      best.model,
		Mask:       best.mask,
		NumInliers: best.numInliers,
		Iterations: iter,
	}, nil
}

func score[M any](est Estimator[M], model M, n int, threshold float64) *scored[M] {
	s := &scored[M]{model: model, mask: make([]bool, n)}
	for i := 0; i < n; i++ {
		r := est.Residual(model, i)
		if r <= threshold {
			s.mask[i] = true
			s.numInliers++
			s.cost += r * r
		}
	}
	return s
}

// better prefers more inliers and breaks ties on the summed squared residual.
func (s *scored[M]) better(other *scored[M]) bool {
	if other == nil {
		return true
	}
	if s.numInliers != other.numInliers {
		return s.numInliers > other.numInliers
	}
	return s.cost < other.cost
}

// drawSample fills sample with distinct indices with a partial Fisher-Yates shuffle of pool.
func drawSample(rnd *rand.Rand, pool, sample []int) {
	n := len(pool)
	for i := range sample {
		j := i + rnd.Intn(n-i)
		pool[i], pool[j] = pool[j], pool[i]
		sample[i] = pool[i]
	}
}

// updateNumIters returns the number of samples needed to draw an all-inlier sample with
// the given confidence when a fraction outlierRatio of the data are outliers.
func updateNumIters(confidence, outlierRatio float64, sampleSize, maxIters int) int {
	confidence = math.Max(math.Min(confidence, 1), 0)
	outlierRatio = math.Max(math.Min(outlierRatio, 1), 0)

	num := math.Max(1-confidence, math.SmallestNonzeroFloat64)
	denom := 1 - math.Pow(1-outlierRatio, float64(sampleSize))
	if denom < math.SmallestNonzeroFloat64 {
		return 0
	}
	num = math.Log(num)
	denom = math.Log(denom)
	if denom >= 0 || -num >= float64(maxIters)*(-denom) {
		return maxIters
	}
	return int(math.Round(num / denom))
}

func maskIndices(mask []bool) []int {
	out := make([]int, 0, len(mask))
	for i, in := range mask {
		if in {
			out = append(out, i)
		}
	}
	return out
}
