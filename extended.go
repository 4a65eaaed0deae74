package gofusion

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EKFOption configures an EKF.
type EKFOption func(*EKF)

// WithTolerance sets the tolerance of the symmetry and positive semi-definiteness checks
// performed after each predict and update. Defaults to 1e-9.
func WithTolerance(tol float64) EKFOption {
	return func(kf *EKF) {
		kf.tol = tol
	}
}

// NewEKF returns a new Extended KF which estimates [x, y, θ, v, ω] from IMU driven
// predictions and GPS position updates.
// Parameters:
// - x0: initial state
// - P0: initial covariance, symmetric positive semi-definite
// - noise: process noise model used at each prediction
// - R: GPS measurement covariance, symmetric positive definite
func NewEKF(x0 mat.Vector, P0 mat.Symmetric, noise ProcessNoise, R mat.Symmetric, opts ...EKFOption) (*EKF, *EKFEstimate, error) {
	H := mat.NewDense(MeasSize, StateSize, nil)
	H.Set(0, StateX, 1)
	H.Set(1, StateY, 1)
	// Let's check the dimensions of everything here to return an error ASAP.
	if err := checkMatDims(x0, P0, "x0", "P0", rows2cols); err != nil {
		return nil, nil, err
	}
	if err := checkMatDims(x0, H, "x0", "H", rows2cols); err != nil {
		return nil, nil, err
	}
	if err := checkMatDims(R, H, "R", "H", rows2rows); err != nil {
		return nil, nil, err
	}
	if noise == nil {
		return nil, nil, invalidConfig("a process noise model is required")
	}

	kf := &EKF{H: H, noise: noise, tol: 1e-9}
	for _, opt := range opts {
		opt(kf)
	}
	if !(kf.tol > 0) {
		return nil, nil, invalidConfig("tolerance must be positive, got %g", kf.tol)
	}
	if err := checkPSD(P0, kf.tol, "P0"); err != nil {
		return nil, nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(R); !ok {
		return nil, nil, invalidConfig("R must be positive definite")
	}

	kf.x0 = mat.VecDenseCopyOf(x0)
	kf.P0 = mat.NewSymDense(StateSize, nil)
	kf.P0.CopySym(P0)
	kf.R = mat.NewSymDense(MeasSize, nil)
	kf.R.CopySym(R)
	kf.Reset()
	est0 := kf.estimate()
	return kf, &est0, nil
}

// EKF defines an Extended Kalman filter. Use NewEKF to initialize.
type EKF struct {
	H         *mat.Dense
	R         *mat.SymDense
	noise     ProcessNoise
	x0        *mat.VecDense
	P0        *mat.SymDense
	x         *mat.VecDense
	P         *mat.SymDense
	predicted bool // Locks the KF until Predict is called.
	tol       float64
	step      int
}

func (kf *EKF) String() string {
	return fmt.Sprintf("EKF [k=%d]\nx=%v\nP=%v\nR=%v\n%s", kf.step, mat.Formatted(kf.x.T(), mat.Prefix("  ")), mat.Formatted(kf.P, mat.Prefix("  ")), mat.Formatted(kf.R, mat.Prefix("  ")), kf.noise)
}

// Reset reinitializes the KF with its initial estimate.
func (kf *EKF) Reset() {
	kf.x = mat.VecDenseCopyOf(kf.x0)
	kf.P = mat.NewSymDense(StateSize, nil)
	kf.P.CopySym(kf.P0)
	kf.predicted = false
	kf.step = 0
}

// State returns a copy of the current mean.
func (kf *EKF) State() *mat.VecDense {
	return mat.VecDenseCopyOf(kf.x)
}

// Covariance returns a copy of the current covariance.
func (kf *EKF) Covariance() *mat.SymDense {
	P := mat.NewSymDense(StateSize, nil)
	P.CopySym(kf.P)
	return P
}

// Step returns the number of predictions since the last reset.
func (kf *EKF) Step() int {
	return kf.step
}

// Predict propagates the mean through the motion model driven by the IMU measurement, and the
// covariance as F*P*F' + Q. The filter is left unchanged if an error is returned.
func (kf *EKF) Predict(imu ImuMeasurement, dt float64) (Estimate, error) {
	if !(dt > 0) {
		return nil, invalidConfig("prediction step must be positive, got %f", dt)
	}
	Q, err := kf.noise.Matrix(kf.x, imu, dt)
	if err != nil {
		return nil, errors.Wrapf(err, "process noise at k=%d", kf.step+1)
	}
	if err := checkMatDims(Q, kf.P, "Q", "P", rowsAndcols); err != nil {
		return nil, err
	}

	x := kf.x.RawVector().Data
	xNext := make([]float64, StateSize)
	propagate(xNext, x, imu, dt)
	F := stateJacobian(x, imu, dt)

	var FP, FPFt mat.Dense
	FP.Mul(F, kf.P)
	FPFt.Mul(&FP, F.T())
	FPFt.Add(&FPFt, Q)
	P, err := kf.stabilize(&FPFt, "P-")
	if err != nil {
		return nil, errors.Wrapf(err, "predict at k=%d", kf.step+1)
	}

	kf.x = mat.NewVecDense(StateSize, xNext)
	kf.P = P
	kf.predicted = true
	kf.step++
	est := kf.estimate()
	est.predCovar = kf.Covariance()
	return est, nil
}

// Update corrects the predicted belief with a GPS fix using the Joseph form of the
// covariance update. Must be preceded by a call to Predict. The filter is left unchanged if
// an error is returned.
func (kf *EKF) Update(gps GpsMeasurement) (Estimate, error) {
	if !kf.predicted {
		return nil, errors.Wrapf(ErrUpdateBeforePredict, "k=%d", kf.step)
	}
	z := gps.Vector()

	// Innovation
	var y mat.VecDense
	y.MulVec(kf.H, kf.x)
	y.SubVec(z, &y)

	// S = H*P*H' + R
	var PHt, HPHt mat.Dense
	PHt.Mul(kf.P, kf.H.T())
	HPHt.Mul(kf.H, &PHt)
	HPHt.Add(&HPHt, kf.R)
	S, err := AsSymDense(&HPHt, kf.tol)
	if err != nil {
		return nil, errors.Wrapf(err, "S at k=%d", kf.step)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(S); !ok {
		return nil, errors.Wrapf(ErrSingularInnovation, "k=%d", kf.step)
	}

	// Kalman gain: K = P*H'*S⁻¹, solved as S*K' = H*P.
	var Kt mat.Dense
	if err := chol.SolveTo(&Kt, PHt.T()); err != nil {
		return nil, errors.Wrapf(ErrSingularInnovation, "k=%d: %s", kf.step, err)
	}
	K := mat.DenseCopyOf(Kt.T())

	var Siy mat.VecDense
	if err := chol.SolveVecTo(&Siy, &y); err != nil {
		return nil, errors.Wrapf(ErrSingularInnovation, "k=%d: %s", kf.step, err)
	}
	nis := mat.Dot(&y, &Siy)

	// Measurement update
	var Ky mat.VecDense
	Ky.MulVec(K, &y)
	xPlus := mat.NewVecDense(StateSize, nil)
	xPlus.AddVec(kf.x, &Ky)
	xPlus.SetVec(StateHeading, WrapAngle(xPlus.AtVec(StateHeading)))

	// P = (I-KH)*P*(I-KH)' + K*R*K'
	var IKH, IKHP, Pplus, KR, KRKt mat.Dense
	IKH.Mul(K, kf.H)
	IKH.Sub(Identity(StateSize), &IKH)
	IKHP.Mul(&IKH, kf.P)
	Pplus.Mul(&IKHP, IKH.T())
	KR.Mul(K, kf.R)
	KRKt.Mul(&KR, K.T())
	Pplus.Add(&Pplus, &KRKt)
	P, err := kf.stabilize(&Pplus, "P+")
	if err != nil {
		return nil, errors.Wrapf(err, "update at k=%d", kf.step)
	}

	predCovar := kf.Covariance()
	kf.x = xPlus
	kf.P = P
	kf.predicted = false
	est := kf.estimate()
	est.predCovar = predCovar
	est.innovation = mat.VecDenseCopyOf(&y)
	est.innovCovar = S
	est.gain = K
	est.nis = nis
	return est, nil
}

// stabilize averages the roundoff asymmetry of m and checks it is positive semi-definite.
func (kf *EKF) stabilize(m mat.Matrix, name string) (*mat.SymDense, error) {
	P, err := AsSymDense(m, kf.tol)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	if err := checkPSD(P, kf.tol, name); err != nil {
		return nil, err
	}
	return P, nil
}

func (kf *EKF) estimate() EKFEstimate {
	return EKFEstimate{
		step:  kf.step,
		state: kf.State(),
		covar: kf.Covariance(),
	}
}

// EKFEstimate is the output of each predict or update of the EKF.
// It implements the Estimate interface.
type EKFEstimate struct {
	step              int
	state, innovation *mat.VecDense
	covar, predCovar  *mat.SymDense
	innovCovar        *mat.SymDense
	gain              *mat.Dense
	nis               float64
}

// IsWithinNσ returns whether the truth lies within the N*σ bounds of the estimate. The
// heading error is wrapped.
func (e EKFEstimate) IsWithinNσ(truth mat.Vector, N float64) bool {
	for i := 0; i < e.state.Len(); i++ {
		Nσ := N * math.Sqrt(e.covar.At(i, i))
		δ := e.state.AtVec(i) - truth.AtVec(i)
		if i == StateHeading {
			δ = WrapAngle(δ)
		}
		if math.Abs(δ) > Nσ {
			return false
		}
	}
	return true
}

// Step returns the index of the prediction this estimate derives from.
func (e EKFEstimate) Step() int {
	return e.step
}

// State implements the Estimate interface.
func (e EKFEstimate) State() *mat.VecDense {
	return e.state
}

// Covariance implements the Estimate interface.
func (e EKFEstimate) Covariance() *mat.SymDense {
	return e.covar
}

// PredCovariance implements the Estimate interface.
func (e EKFEstimate) PredCovariance() *mat.SymDense {
	return e.predCovar
}

// Innovation implements the Estimate interface.
func (e EKFEstimate) Innovation() *mat.VecDense {
	return e.innovation
}

// InnovationCovariance returns S, nil after a predict.
func (e EKFEstimate) InnovationCovariance() *mat.SymDense {
	return e.innovCovar
}

// Gain returns K, nil after a predict.
func (e EKFEstimate) Gain() *mat.Dense {
	return e.gain
}

// IsUpdate returns whether this estimate results from a measurement update.
func (e EKFEstimate) IsUpdate() bool {
	return e.innovation != nil
}

// NIS returns the normalized innovation squared y'*S⁻¹*y of an update, zero after a predict.
func (e EKFEstimate) NIS() float64 {
	return e.nis
}

func (e EKFEstimate) String() string {
	state := mat.Formatted(e.state.T(), mat.Prefix("  "))
	covar := mat.Formatted(e.covar, mat.Prefix("  "))
	if !e.IsUpdate() {
		return fmt.Sprintf("{k=%d\ns=%v\nP=%v\n}", e.step, state, covar)
	}
	gain := mat.Formatted(e.gain, mat.Prefix("  "))
	innov := mat.Formatted(e.innovation.T(), mat.Prefix("  "))
	return fmt.Sprintf("{k=%d\ns=%v\nP=%v\nK=%v\ni=%v\nNIS=%.4f\n}", e.step, state, covar, gain, innov, e.nis)
}
