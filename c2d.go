package gofusion

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNyquist is returned by VanLoan when the sampling period is too coarse for the dynamics.
var ErrNyquist = errors.New("Nyquist sampling criterion not fulfilled")

// VanLoan discretizes the continuous system ẋ = A·x + Γ·w, E[w·w'] = W·δ(t), over Δt and
// returns the state transition F and the process noise Q. The exponential of
//
//	M = [ -A·Δt  Γ·W·Γ'·Δt ]
//	    [   0      A'·Δt   ]
//
// holds F' in its bottom right block and F⁻¹·Q in its top right block. F and Q are always
// returned when the blocks are consistent, the error then only flags aliasing.
func VanLoan(A, Γ, W mat.Matrix, Δt float64) (*mat.Dense, *mat.SymDense, error) {
	n, c := A.Dims()
	if n != c {
		return nil, nil, errors.Wrapf(ErrDimensionMismatch, "A(%dx%d) is not square", n, c)
	}
	if r, _ := Γ.Dims(); r != n {
		return nil, nil, errors.Wrapf(ErrDimensionMismatch, "Γ has %d rows, A has %d", r, n)
	}

	var nyquist error
	var λ mat.Eigen
	if ok := λ.Factorize(A, mat.EigenNone); ok {
		λmax := 0.0
		for _, v := range λ.Values(nil) {
			λmax = math.Max(λmax, cmplx.Abs(v))
		}
		if 2*λmax*Δt >= math.Pi {
			nyquist = errors.Wrapf(ErrNyquist, "Δt=%f |λ|=%f", Δt, λmax)
		}
	}

	var ΓW mat.Dense
	ΓW.Mul(Γ, W)
	M := mat.NewDense(2*n, 2*n, nil)
	M.Slice(0, n, 0, n).(*mat.Dense).Scale(-Δt, A)
	diffusion := M.Slice(0, n, n, 2*n).(*mat.Dense)
	diffusion.Mul(&ΓW, Γ.T())
	diffusion.Scale(Δt, diffusion)
	M.Slice(n, 2*n, n, 2*n).(*mat.Dense).Scale(Δt, A.T())

	var expM mat.Dense
	expM.Exp(M)
	F := mat.DenseCopyOf(expM.Slice(n, 2*n, n, 2*n).T())
	var Q mat.Dense
	Q.Mul(F, expM.Slice(0, n, n, 2*n))
	QSym, err := AsSymDense(&Q, 1e-9)
	if err != nil {
		return F, nil, err
	}
	return F, QSym, nyquist
}

// Columns of the continuous noise input matrix of the unicycle model.
const (
	noiseAccel = iota
	noiseYawAccel
	noiseAccelBias
	noiseGyroBias
	noiseSize
)

// unicycleNoise returns the continuous noise input matrix Γ and the spectral density W of
// the unicycle model: white acceleration on v, white yaw acceleration on ω and a random walk
// on each bias.
func unicycleNoise(accelPSD, yawAccelPSD, accelBiasPSD, gyroBiasPSD float64) (Γ, W *mat.Dense) {
	Γ = mat.NewDense(StateSize, noiseSize, nil)
	Γ.Set(StateSpeed, noiseAccel, 1)
	Γ.Set(StateYawRate, noiseYawAccel, 1)
	Γ.Set(StateAccelBias, noiseAccelBias, 1)
	Γ.Set(StateGyroBias, noiseGyroBias, 1)
	W = mat.NewDense(noiseSize, noiseSize, nil)
	W.Set(noiseAccel, noiseAccel, accelPSD)
	W.Set(noiseYawAccel, noiseYawAccel, yawAccelPSD)
	W.Set(noiseAccelBias, noiseAccelBias, accelBiasPSD)
	W.Set(noiseGyroBias, noiseGyroBias, gyroBiasPSD)
	return Γ, W
}
