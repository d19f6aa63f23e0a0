package transform

const (
	undistortMaxIterations = 20
	undistortTolerance     = 1e-12
)

// InverseBrownConrady applies the inverse of the Brown-Conrady distortion model with
// Newton-Raphson iterations on the forward model.
type InverseBrownConrady struct {
	forward BrownConrady
}

// NewInverseBrownConrady takes the parameters of the forward model it inverts.
func NewInverseBrownConrady(inp []float64) (*InverseBrownConrady, error) {
	bc, err := NewBrownConrady(inp)
	if err != nil {
		return nil, err
	}
	return bc.Inverse(), nil
}

// CheckValid checks if the fields for InverseBrownConrady have valid inputs.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil {
		return InvalidDistortionError("InverseBrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Parameters returns the parameters of the forward model.
func (ibc *InverseBrownConrady) Parameters() []float64 {
	if ibc == nil {
		return []float64{}
	}
	return ibc.forward.Parameters()
}

// Undistort distorts again, which is the inverse of this model.
func (ibc *InverseBrownConrady) Undistort(x, y float64) (float64, float64) {
	if ibc == nil {
		return x, y
	}
	return ibc.forward.Transform(x, y)
}

// Transform finds the undistorted (xu, yu) whose forward distortion is (xd, yd).
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil {
		return xd, yd
	}
	k1, k2, k3 := ibc.forward.RadialK1, ibc.forward.RadialK2, ibc.forward.RadialK3
	p1, p2 := ibc.forward.TangentialP1, ibc.forward.TangentialP2

	xu, yu := xd, yd
	for i := 0; i < undistortMaxIterations; i++ {
		xEst, yEst := ibc.forward.Transform(xu, yu)
		errX, errY := xEst-xd, yEst-yd
		if errX*errX+errY*errY < undistortTolerance*undistortTolerance {
			break
		}

		r2 := xu*xu + yu*yu
		radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
		dRadial := 2 * (k1 + 2*k2*r2 + 3*k3*r2*r2)

		// jacobian of the forward model
		j00 := radial + xu*xu*dRadial + 2*p1*yu + 6*p2*xu
		j01 := xu*yu*dRadial + 2*p1*xu + 2*p2*yu
		j10 := xu*yu*dRadial + 2*p2*yu + 2*p1*xu
		j11 := radial + yu*yu*dRadial + 2*p2*xu + 6*p1*yu

		det := j00*j11 - j01*j10
		if det == 0 {
			break
		}
		xu -= (j11*errX - j01*errY) / det
		yu -= (-j10*errX + j00*errY) / det
	}
	return xu, yu
}
