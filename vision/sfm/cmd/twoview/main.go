// Package main reconstructs a small scene from precomputed keypoints and matches. It picks the
// least planar pair as the baseline, recovers its relative pose, triangulates the matches and
// then registers every remaining view against the resulting cloud.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/rimage/transform"
	"go.viam.com/sfm/vision/keypoints"
	"go.viam.com/sfm/vision/sfm"
)

var logger = logging.NewLogger("twoview")

// Arguments for the command.
type Arguments struct {
	Scene  string `flag:"0,required,usage=scene json file"`
	Config string `flag:"config,usage=sfm config file (json or yaml)"`
	Debug  bool   `flag:"debug,usage=enable debug logging"`
}

// Scene is the on-disk input of the command.
type Scene struct {
	Camera  *transform.PinholeCameraModel `json:"camera"`
	Views   []View                        `json:"views"`
	Matches []PairMatches                 `json:"matches"`
}

// View is the keypoints of one image.
type View struct {
	ID        int          `json:"id"`
	KeyPoints [][2]float64 `json:"keypoints"`
}

// PairMatches is the match list between two views.
type PairMatches struct {
	Left    int               `json:"left"`
	Right   int               `json:"right"`
	Matches keypoints.Matches `json:"matches"`
}

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger.SetLevel(logging.DEBUG)
	}

	cfg := sfm.DefaultConfig()
	if argsParsed.Config != "" {
		var err error
		cfg, err = sfm.LoadConfig(argsParsed.Config)
		if err != nil {
			return err
		}
	}

	scene, err := readScene(argsParsed.Scene)
	if err != nil {
		return err
	}
	return run(ctx, scene, cfg, os.Stdout, logger)
}

func readScene(path string) (*Scene, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open scene")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var scene Scene
	if err := json.NewDecoder(f).Decode(&scene); err != nil {
		return nil, errors.Wrapf(err, "cannot decode scene %q", path)
	}
	if err := scene.Camera.CheckValid(); err != nil {
		return nil, err
	}
	return &scene, nil
}

func (s *Scene) features() map[int]keypoints.KeyPoints {
	out := make(map[int]keypoints.KeyPoints, len(s.Views))
	for _, v := range s.Views {
		kps := make(keypoints.KeyPoints, len(v.KeyPoints))
		for i, p := range v.KeyPoints {
			kps[i] = r2.Point{X: p[0], Y: p[1]}
		}
		out[v.ID] = kps
	}
	return out
}

func (s *Scene) pairMatches() map[sfm.ImagePair]keypoints.Matches {
	out := make(map[sfm.ImagePair]keypoints.Matches, len(s.Matches))
	for _, pm := range s.Matches {
		out[sfm.ImagePair{Left: pm.Left, Right: pm.Right}] = pm.Matches
	}
	return out
}

// matchesFrom returns the matches of view a against view b with a as the first set.
func matchesFrom(pairs map[sfm.ImagePair]keypoints.Matches, a, b int) (keypoints.Matches, bool) {
	if m, ok := pairs[sfm.ImagePair{Left: a, Right: b}]; ok {
		return m, true
	}
	if m, ok := pairs[sfm.ImagePair{Left: b, Right: a}]; ok {
		return m.Swap(), true
	}
	return nil, false
}

func run(ctx context.Context, scene *Scene, cfg *sfm.Config, out io.Writer, logger logging.Logger) error {
	features := scene.features()
	pairs := scene.pairMatches()

	scored, err := sfm.SortPairsByHomographyRatio(features, pairs, cfg, logger)
	if err != nil {
		return err
	}
	if len(scored) == 0 {
		return errors.New("scene has no matched pairs")
	}
	for _, sp := range scored {
		fmt.Fprintf(out, "pair (%d, %d) homography inlier ratio %.3f\n", sp.Pair.Left, sp.Pair.Right, sp.Ratio)
	}

	base := scored[0].Pair
	rp, err := sfm.FindCameraMatricesFromMatch(scene.Camera, features[base.Left], features[base.Right], pairs[base], cfg, logger)
	if err != nil {
		return errors.Wrapf(err, "baseline pair (%d, %d)", base.Left, base.Right)
	}
	fmt.Fprintf(out, "baseline (%d, %d): %d / %d inliers, translation %v\n",
		base.Left, base.Right, rp.NumInliers(), len(pairs[base]), rp.Right.TranslationVector())

	poses := map[int]*transform.CamPose{base.Left: rp.Left, base.Right: rp.Right}
	var cloud sfm.PointCloud
	points, err := sfm.TriangulateViews(scene.Camera, base, features[base.Left], features[base.Right], rp.PrunedMatches,
		rp.Left, rp.Right, cfg, logger)
	if err != nil {
		return err
	}
	cloud.Append(points...)
	fmt.Fprintf(out, "triangulated %d points\n", len(cloud))

	ids := make([]int, 0, len(features))
	for id := range features {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	// a view may only become reachable through a view registered after it, so passes repeat
	// until one registers nothing
	unregistered := map[int]error{}
	for progress := true; progress; {
		progress = false
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, ok := poses[id]; ok {
				continue
			}
			vp, total, err := registerView(scene.Camera, id, features[id], pairs, poses, cloud, cfg, logger)
			if err != nil {
				if errors.Is(err, sfm.ErrInsufficientInliers) || errors.Is(err, errNoRegisteredMatches) {
					unregistered[id] = err
					continue
				}
				return errors.Wrapf(err, "view %d", id)
			}
			delete(unregistered, id)
			poses[id] = vp.Pose
			progress = true
			fmt.Fprintf(out, "view %d: %d / %d inliers, rotation %v, translation %v, median error %.4f px\n",
				id, vp.NumInliers, total, vp.RotationVector, vp.Pose.TranslationVector(), vp.MedianReprojectionError)
		}
	}
	for _, id := range ids {
		if err, ok := unregistered[id]; ok {
			logger.Warnw("view not registered", "view", id, "error", err)
			fmt.Fprintf(out, "view %d not registered: %v\n", id, err)
		}
	}
	fmt.Fprintf(out, "registered %d / %d views\n", len(poses), len(ids))
	return nil
}

var errNoRegisteredMatches = errors.New("no matches with registered views")

// registerView estimates the pose of view id from the cloud points seen in the registered
// views it has matches with, and records its inlier observations in the cloud. It also
// returns the number of 2D-3D correspondences tried.
func registerView(
	camera *transform.PinholeCameraModel,
	id int,
	kps keypoints.KeyPoints,
	pairs map[sfm.ImagePair]keypoints.Matches,
	poses map[int]*transform.CamPose,
	cloud sfm.PointCloud,
	cfg *sfm.Config,
	logger logging.Logger,
) (*sfm.ViewPose, int, error) {
	toNew := map[int]keypoints.Matches{}
	for registered := range poses {
		if m, ok := matchesFrom(pairs, registered, id); ok {
			toNew[registered] = m
		}
	}
	if len(toNew) == 0 {
		return nil, 0, errNoRegisteredMatches
	}
	match, src, err := sfm.Find2D3DMatches(cloud, kps, toNew)
	if err != nil {
		return nil, 0, err
	}
	vp, err := sfm.FindCameraPoseFrom2D3DMatch(camera, match, cfg, logger)
	if err != nil {
		return nil, match.Len(), err
	}
	if err := sfm.AddObservations(cloud, id, src, vp.Mask); err != nil {
		return nil, match.Len(), err
	}
	return vp, match.Len(), nil
}
