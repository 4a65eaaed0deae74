package gofusion

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ProcessNoise returns the discrete process noise covariance Q used by the EKF to
// propagate the covariance from the provided mean over dt.
type ProcessNoise interface {
	Matrix(x mat.Vector, imu ImuMeasurement, dt float64) (*mat.SymDense, error)
	String() string
}

// ConstantProcessNoise is a fixed Q.
type ConstantProcessNoise struct {
	Q *mat.SymDense
}

// NewConstantProcessNoise returns a constant process noise after checking Q is a
// symmetric positive semi-definite matrix of the state size.
func NewConstantProcessNoise(Q mat.Symmetric) (*ConstantProcessNoise, error) {
	if n := Q.SymmetricDim(); n != StateSize {
		return nil, errors.Wrapf(ErrDimensionMismatch, "Q(%dx%d) state(%d)", n, n, StateSize)
	}
	if err := checkPSD(Q, 1e-12, "Q"); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	q := mat.NewSymDense(StateSize, nil)
	q.CopySym(Q)
	return &ConstantProcessNoise{Q: q}, nil
}

// Matrix implements the ProcessNoise interface. The returned matrix is a copy.
func (n *ConstantProcessNoise) Matrix(x mat.Vector, imu ImuMeasurement, dt float64) (*mat.SymDense, error) {
	Q := mat.NewSymDense(StateSize, nil)
	Q.CopySym(n.Q)
	return Q, nil
}

func (n *ConstantProcessNoise) String() string {
	return fmt.Sprintf("ConstantProcessNoise{\nQ=%v}", mat.Formatted(n.Q, mat.Prefix("  ")))
}

// InputProcessNoise maps the white noise and the bias increments of the IMU through the
// motion model. Over one step the measured input is a_m = a + b + w + n where the bias b
// of the previous step is in the state, w is its increment and n is the white noise, so
// Q = L*D*L' with D = diag(σ²a, σ²ω, w²a, w²ω) and the columns of L:
//
//	n_a: [G_a; 0]    w_a: [G_a; -e_ba]
//	n_ω: [G_ω; 0]    w_ω: [G_ω; -e_bω]
//
// G being the input Jacobian of the motion model.
type InputProcessNoise struct {
	AccelVar     float64 // (m/s²)²
	GyroVar      float64 // (rad/s)²
	AccelBiasVar float64 // (m/s²)² per step
	GyroBiasVar  float64 // (rad/s)² per step
}

// NewInputProcessNoise returns a new InputProcessNoise.
func NewInputProcessNoise(accelVar, gyroVar, accelBiasVar, gyroBiasVar float64) (*InputProcessNoise, error) {
	for _, v := range []float64{accelVar, gyroVar, accelBiasVar, gyroBiasVar} {
		if !(v >= 0) || math.IsInf(v, 0) {
			return nil, invalidConfig("input variances must be finite and non-negative, got %f, %f, %f and %f", accelVar, gyroVar, accelBiasVar, gyroBiasVar)
		}
	}
	return &InputProcessNoise{accelVar, gyroVar, accelBiasVar, gyroBiasVar}, nil
}

// Matrix implements the ProcessNoise interface.
func (n *InputProcessNoise) Matrix(x mat.Vector, imu ImuMeasurement, dt float64) (*mat.SymDense, error) {
	G := inputJacobian(vecSlice(x), imu, dt)
	// Q = (L*D^½)(L*D^½)' is symmetric by construction.
	LD := mat.NewDense(StateSize, noiseSize, nil)
	sa, sω := math.Sqrt(n.AccelVar), math.Sqrt(n.GyroVar)
	wa, wω := math.Sqrt(n.AccelBiasVar), math.Sqrt(n.GyroBiasVar)
	for i := 0; i < KinematicSize; i++ {
		ga, gω := G.At(i, inputAccel), G.At(i, inputYawRate)
		LD.Set(i, noiseAccel, sa*ga)
		LD.Set(i, noiseYawAccel, sω*gω)
		LD.Set(i, noiseAccelBias, wa*ga)
		LD.Set(i, noiseGyroBias, wω*gω)
	}
	LD.Set(StateAccelBias, noiseAccelBias, -wa)
	LD.Set(StateGyroBias, noiseGyroBias, -wω)
	Q := mat.NewSymDense(StateSize, nil)
	Q.SymOuterK(1, LD)
	return Q, nil
}

func (n *InputProcessNoise) String() string {
	return fmt.Sprintf("InputProcessNoise{σ²a=%g σ²ω=%g w²a=%g w²ω=%g}", n.AccelVar, n.GyroVar, n.AccelBiasVar, n.GyroBiasVar)
}

// VanLoanProcessNoise discretizes continuous white noise on the longitudinal acceleration,
// on the yaw acceleration and on the bias rates with the Van Loan method, using the
// continuous Jacobian of the dynamics at the current mean.
type VanLoanProcessNoise struct {
	AccelPSD     float64 // (m/s²)²/Hz
	YawAccelPSD  float64 // (rad/s²)²/Hz
	AccelBiasPSD float64 // (m/s²)²/Hz
	GyroBiasPSD  float64 // (rad/s)²/Hz
}

// NewVanLoanProcessNoise returns a new VanLoanProcessNoise.
func NewVanLoanProcessNoise(accelPSD, yawAccelPSD, accelBiasPSD, gyroBiasPSD float64) (*VanLoanProcessNoise, error) {
	for _, q := range []float64{accelPSD, yawAccelPSD, accelBiasPSD, gyroBiasPSD} {
		if !(q >= 0) || math.IsInf(q, 0) {
			return nil, invalidConfig("spectral densities must be finite and non-negative, got %f, %f, %f and %f", accelPSD, yawAccelPSD, accelBiasPSD, gyroBiasPSD)
		}
	}
	return &VanLoanProcessNoise{accelPSD, yawAccelPSD, accelBiasPSD, gyroBiasPSD}, nil
}

// Matrix implements the ProcessNoise interface.
func (n *VanLoanProcessNoise) Matrix(x mat.Vector, imu ImuMeasurement, dt float64) (*mat.SymDense, error) {
	A := continuousJacobian(vecSlice(x))
	Γ, W := unicycleNoise(n.AccelPSD, n.YawAccelPSD, n.AccelBiasPSD, n.GyroBiasPSD)
	_, Q, err := VanLoan(A, Γ, W, dt)
	if err != nil {
		return nil, err
	}
	return Q, nil
}

func (n *VanLoanProcessNoise) String() string {
	return fmt.Sprintf("VanLoanProcessNoise{qa=%g qω=%g qba=%g qbω=%g}", n.AccelPSD, n.YawAccelPSD, n.AccelBiasPSD, n.GyroBiasPSD)
}

// vecSlice returns the content of v as a new slice.
func vecSlice(v mat.Vector) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
