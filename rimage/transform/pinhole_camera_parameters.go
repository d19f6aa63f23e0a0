package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"distortion"`
}

// CheckValid returns ErrNoIntrinsics (wrapped) if the model cannot be used for projection.
func (params *PinholeCameraModel) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("camera model does not exist")
	}
	if err := params.PinholeCameraIntrinsics.CheckValid(); err != nil {
		return err
	}
	if params.Distortion != nil {
		return params.Distortion.CheckValid()
	}
	return nil
}

// NewPinholeCameraModelFromMatrix builds a camera model from a 3x3 camera matrix and a
// Brown-Conrady coefficient vector (rk1, rk2, rk3, tp1, tp2). An empty distortion vector means
// no distortion. The image size is unknown from a matrix, so it is derived from the principal
// point.
func NewPinholeCameraModelFromMatrix(k mat.Matrix, distortion []float64) (*PinholeCameraModel, error) {
	if d, ok := k.(*mat.Dense); k == nil || (ok && (d == nil || d.IsEmpty())) {
		return nil, NewNoIntrinsicsError("camera matrix K is empty")
	}
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, NewNoIntrinsicsError(fmt.Sprintf("camera matrix K must be 3x3, got %dx%d", r, c))
	}
	intrinsics := &PinholeCameraIntrinsics{
		Fx:  k.At(0, 0),
		Fy:  k.At(1, 1),
		Ppx: k.At(0, 2),
		Ppy: k.At(1, 2),
	}
	intrinsics.Width = int(2 * intrinsics.Ppx)
	intrinsics.Height = int(2 * intrinsics.Ppy)
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	model := &PinholeCameraModel{PinholeCameraIntrinsics: intrinsics}
	if len(distortion) > 0 {
		bc, err := NewBrownConrady(distortion)
		if err != nil {
			return nil, err
		}
		model.Distortion = bc
	}
	return model, nil
}

// UnmarshalJSON reads the intrinsics and a distortion model given as
// {"type": "brown_conrady", "parameters": [...]}.
func (params *PinholeCameraModel) UnmarshalJSON(data []byte) error {
	var raw struct {
		Intrinsics *PinholeCameraIntrinsics `json:"intrinsic_parameters"`
		Distortion *struct {
			Type       DistortionType `json:"type"`
			Parameters []float64      `json:"parameters"`
		} `json:"distortion"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	params.PinholeCameraIntrinsics = raw.Intrinsics
	params.Distortion = nil
	if raw.Distortion != nil {
		d, err := NewDistorter(raw.Distortion.Type, raw.Distortion.Parameters)
		if err != nil {
			return err
		}
		params.Distortion = d
	}
	return nil
}

// MarshalJSON writes the model in the format read by UnmarshalJSON.
func (params *PinholeCameraModel) MarshalJSON() ([]byte, error) {
	type distortion struct {
		Type       DistortionType `json:"type"`
		Parameters []float64      `json:"parameters"`
	}
	out := struct {
		Intrinsics *PinholeCameraIntrinsics `json:"intrinsic_parameters"`
		Distortion *distortion              `json:"distortion,omitempty"`
	}{Intrinsics: params.PinholeCameraIntrinsics}
	if params.Distortion != nil {
		out.Distortion = &distortion{params.Distortion.ModelType(), params.Distortion.Parameters()}
	}
	return json.Marshal(out)
}

// NewPinholeCameraModelFromJSONFile reads a PinholeCameraModel from a JSON file and validates it.
func NewPinholeCameraModelFromJSONFile(jsonPath string) (*PinholeCameraModel, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	model := &PinholeCameraModel{}
	if err := json.Unmarshal(byteValue, model); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	return model, nil
}

// PixelToNormalized maps a pixel to calibrated (normalized image plane) coordinates, removing
// lens distortion when the model has one.
func (params *PinholeCameraModel) PixelToNormalized(pt r2.Point) r2.Point {
	x := (pt.X - params.Ppx) / params.Fx
	y := (pt.Y - params.Ppy) / params.Fy
	if u, ok := params.Distortion.(Undistorter); ok {
		x, y = u.Undistort(x, y)
	}
	return r2.Point{X: x, Y: y}
}

// UndistortPoints maps every pixel to calibrated coordinates.
func (params *PinholeCameraModel) UndistortPoints(pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = params.PixelToNormalized(pt)
	}
	return out
}

// NormalizedToPixel applies distortion and the camera matrix to calibrated coordinates.
func (params *PinholeCameraModel) NormalizedToPixel(pt r2.Point) r2.Point {
	x, y := pt.X, pt.Y
	if params.Distortion != nil {
		x, y = params.Distortion.Transform(x, y)
	}
	return r2.Point{X: x*params.Fx + params.Ppx, Y: y*params.Fy + params.Ppy}
}

// ProjectPoint projects a point given in camera coordinates to a pixel, without rounding.
// ok is false for points on the camera plane.
func (params *PinholeCameraModel) ProjectPoint(pt r3.Vector) (r2.Point, bool) {
	if pt.Z == 0 {
		return r2.Point{}, false
	}
	return params.NormalizedToPixel(r2.Point{X: pt.X / pt.Z, Y: pt.Y / pt.Z}), true
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width == 0 || params.Height == 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// PixelToPoint transforms a pixel with depth to a 3D point.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	if params == nil {
		return float64(0), float64(0), float64(0)
	}
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	return xOverZ * z, yOverZ * z, z
}

// PointToPixel projects a 3D point to a pixel in an image plane, ignoring distortion.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		return (x/z)*params.Fx + params.Ppx, (y/z)*params.Fy + params.Ppy
	}
	// if depth is zero, return negative coordinates so that cropping to image bounds filters it out
	return -1.0, -1.0
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}
