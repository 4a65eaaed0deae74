// Package gofusion simulates a 2D agent carrying an IMU and a GPS receiver, and fuses the
// synthetic measurements with an Extended Kalman Filter to reconstruct its position,
// velocity and heading.
package gofusion

import "gonum.org/v1/gonum/mat"

// Rows of the EKF state vector [x, y, θ, v, ω, b_a, b_ω]. The last two rows are the
// accelerometer and gyroscope biases, which follow a random walk.
const (
	StateX = iota
	StateY
	StateHeading
	StateSpeed
	StateYawRate
	StateAccelBias
	StateGyroBias
	// StateSize is the number of rows of the state vector.
	StateSize
)

// KinematicSize is the number of kinematic rows [x, y, θ, v, ω] leading the state vector.
const KinematicSize = StateAccelBias

// MeasSize is the number of rows of a GPS measurement.
const MeasSize = 2

// Filter defines the predict/update cycle of a non-linear dynamics Kalman filter driven by
// IMU measurements and corrected by GPS fixes.
type Filter interface {
	Predict(imu ImuMeasurement, dt float64) (Estimate, error)
	Update(gps GpsMeasurement) (Estimate, error)
	State() *mat.VecDense
	Covariance() *mat.SymDense
	Reset()
	String() string
}

// Estimate is returned from Predict() and Update().
type Estimate interface {
	IsWithinNσ(truth mat.Vector, N float64) bool // IsWithinNσ returns whether the truth lies within the N*σ bounds of the estimate.
	State() *mat.VecDense                        // Returns \hat{x}_{k}
	Covariance() *mat.SymDense                   // Returns P_{k}
	PredCovariance() *mat.SymDense               // Returns P_{k}^{-}
	Innovation() *mat.VecDense                   // Returns z_{k} - h(\hat{x}_{k}^{-}), nil after a predict
	String() string                              // Must implement the stringer interface.
}
