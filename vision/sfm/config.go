// Package sfm implements the two-view geometric estimation stage of a structure from motion
// pipeline: planarity scoring of a view pair, relative pose recovery, triangulation of map
// points and registration of a new view from 2D-3D correspondences.
package sfm

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"go.viam.com/sfm/ransac"
)

// Config contains the parameters of the robust estimators.
type Config struct {
	// RANSACThreshold is the inlier distance in pixels for homography and 2D-3D pose fits.
	RANSACThreshold float64 `json:"ransac_threshold" yaml:"ransac_threshold"`
	// HomographyConfidence and HomographyMaxIterations drive the homography fit.
	HomographyConfidence    float64 `json:"homography_confidence" yaml:"homography_confidence"`
	HomographyMaxIterations int     `json:"homography_max_iterations" yaml:"homography_max_iterations"`
	// HomographyMinMatches is the number of matches below which a pair scores zero.
	HomographyMinMatches int `json:"homography_min_matches" yaml:"homography_min_matches"`

	// EssentialThreshold is the epipolar inlier distance in pixels.
	EssentialThreshold     float64 `json:"essential_threshold" yaml:"essential_threshold"`
	EssentialConfidence    float64 `json:"essential_confidence" yaml:"essential_confidence"`
	EssentialMaxIterations int     `json:"essential_max_iterations" yaml:"essential_max_iterations"`
	// DistanceThreshold bounds the depth of points used to pick among the pose candidates.
	DistanceThreshold float64 `json:"distance_threshold" yaml:"distance_threshold"`

	// FilterBehindCamera drops triangulated points with non-positive depth in either view.
	FilterBehindCamera bool `json:"filter_behind_camera" yaml:"filter_behind_camera"`

	PnPIterations int     `json:"pnp_iterations" yaml:"pnp_iterations"`
	PnPConfidence float64 `json:"pnp_confidence" yaml:"pnp_confidence"`
	// PoseInliersMinimalRatio is the smallest inlier ratio for which a 2D-3D pose is accepted.
	PoseInliersMinimalRatio float64 `json:"pose_inliers_minimal_ratio" yaml:"pose_inliers_minimal_ratio"`
	RefinePose              bool    `json:"refine_pose" yaml:"refine_pose"`

	// Seed seeds every robust fit.
	Seed int64 `json:"seed" yaml:"seed"`
}

// DefaultConfig returns the parameters the estimators are tuned for.
func DefaultConfig() *Config {
	return &Config{
		RANSACThreshold:         2.5,
		HomographyConfidence:    0.995,
		HomographyMaxIterations: 2000,
		HomographyMinMatches:    4,
		EssentialThreshold:      1.0,
		EssentialConfidence:     0.999,
		EssentialMaxIterations:  1000,
		DistanceThreshold:       50,
		FilterBehindCamera:      false,
		PnPIterations:           100,
		PnPConfidence:           0.99,
		PoseInliersMinimalRatio: 0.5,
		RefinePose:              true,
		Seed:                    0,
	}
}

// Validate returns every problem with the configuration at once.
func (cfg *Config) Validate() error {
	var err error
	positive := func(name string, v float64) {
		if v <= 0 {
			err = multierr.Append(err, errors.Errorf("%s must be positive, got %v", name, v))
		}
	}
	probability := func(name string, v float64) {
		if v <= 0 || v >= 1 {
			err = multierr.Append(err, errors.Errorf("%s must be in (0, 1), got %v", name, v))
		}
	}
	positive("ransac_threshold", cfg.RANSACThreshold)
	positive("essential_threshold", cfg.EssentialThreshold)
	positive("distance_threshold", cfg.DistanceThreshold)
	positive("homography_max_iterations", float64(cfg.HomographyMaxIterations))
	positive("essential_max_iterations", float64(cfg.EssentialMaxIterations))
	positive("pnp_iterations", float64(cfg.PnPIterations))
	probability("homography_confidence", cfg.HomographyConfidence)
	probability("essential_confidence", cfg.EssentialConfidence)
	probability("pnp_confidence", cfg.PnPConfidence)
	if cfg.HomographyMinMatches < 4 {
		err = multierr.Append(err, errors.Errorf("homography_min_matches must be at least 4, got %d", cfg.HomographyMinMatches))
	}
	if cfg.PoseInliersMinimalRatio < 0 || cfg.PoseInliersMinimalRatio > 1 {
		err = multierr.Append(err, errors.Errorf("pose_inliers_minimal_ratio must be in [0, 1], got %v", cfg.PoseInliersMinimalRatio))
	}
	return err
}

// LoadConfig reads a JSON or YAML configuration file. Fields absent from the file keep their
// default value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}
	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, errors.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func (cfg *Config) homographyRANSAC() ransac.Config {
	return ransac.Config{
		Threshold:     cfg.RANSACThreshold,
		MaxIterations: cfg.HomographyMaxIterations,
		Confidence:    cfg.HomographyConfidence,
		Seed:          cfg.Seed,
	}
}

func (cfg *Config) essentialRANSAC() ransac.Config {
	return ransac.Config{
		Threshold:     cfg.EssentialThreshold,
		MaxIterations: cfg.EssentialMaxIterations,
		Confidence:    cfg.EssentialConfidence,
		Seed:          cfg.Seed,
	}
}

func (cfg *Config) pnpRANSAC() ransac.Config {
	return ransac.Config{
		Threshold:     cfg.RANSACThreshold,
		MaxIterations: cfg.PnPIterations,
		Confidence:    cfg.PnPConfidence,
		Seed:          cfg.Seed,
	}
}

func orDefault(cfg *Config) *Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return cfg
}
