package gofusion

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Identity returns an identity matrix of the provided size.
func Identity(n int) *mat.SymDense {
	return ScaledIdentity(n, 1)
}

// ScaledIdentity returns an identity matrix time a scaling factor of the provided size.
func ScaledIdentity(n int, s float64) *mat.SymDense {
	vals := make([]float64, n*n)
	for j := 0; j < n*n; j++ {
		if j%(n+1) == 0 {
			vals[j] = s
		}
	}
	return mat.NewSymDense(n, vals)
}

// Diagonal returns a symmetric matrix with the provided values on its diagonal.
func Diagonal(diag ...float64) *mat.SymDense {
	n := len(diag)
	m := mat.NewSymDense(n, nil)
	for i, v := range diag {
		m.SetSym(i, i, v)
	}
	return m
}

// IsNil returns whether the provided matrix only has zero values
func IsNil(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) != 0 {
				return false
			}
		}
	}
	return true
}

// AsSymDense returns a SymDense from the provided square matrix. Entries which differ from
// their transpose by more than tol (relative to the largest entry) return an error, smaller
// differences are averaged.
func AsSymDense(m mat.Matrix, tol float64) (*mat.SymDense, error) {
	r, c := m.Dims()
	if r != c {
		return nil, errors.Wrapf(ErrDimensionMismatch, "matrix must be square, got (%dx%d)", r, c)
	}
	scale := 1.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			scale = math.Max(scale, math.Abs(m.At(i, j)))
		}
	}
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < c; j++ {
			a, b := m.At(i, j), m.At(j, i)
			if math.Abs(a-b) > tol*scale {
				return nil, errors.Wrapf(ErrCovarianceNotPSD, "asymmetry of %g at (%d,%d)", math.Abs(a-b), i, j)
			}
			sym.SetSym(i, j, 0.5*(a+b))
		}
	}
	return sym, nil
}

// checkPSD returns an error if the smallest eigenvalue of m is below -tol (relative to
// the trace of m when it exceeds one).
func checkPSD(m mat.Symmetric, tol float64, name string) error {
	var eig mat.EigenSym
	if ok := eig.Factorize(m, false); !ok {
		return errors.Wrapf(ErrCovarianceNotPSD, "%s: eigen decomposition failed", name)
	}
	scale := 1.0
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		scale = math.Max(scale, m.At(i, i))
	}
	for i, λ := range eig.Values(nil) {
		if math.IsNaN(λ) || λ < -tol*scale {
			return errors.Wrapf(ErrCovarianceNotPSD, "%s: eigenvalue #%d is %g", name, i, λ)
		}
	}
	return nil
}

// WrapAngle returns the provided angle in (-π, π].
func WrapAngle(θ float64) float64 {
	θ = math.Mod(θ, 2*math.Pi)
	if θ <= -math.Pi {
		θ += 2 * math.Pi
	} else if θ > math.Pi {
		θ -= 2 * math.Pi
	}
	return θ
}

// sinc returns sin(u)/u, continuous at 0.
func sinc(u float64) float64 {
	if math.Abs(u) < 1e-4 {
		return 1 - u*u/6
	}
	return math.Sin(u) / u
}

// sincDeriv returns the derivative of sinc at u.
func sincDeriv(u float64) float64 {
	if math.Abs(u) < 1e-4 {
		return -u / 3
	}
	return (u*math.Cos(u) - math.Sin(u)) / (u * u)
}
