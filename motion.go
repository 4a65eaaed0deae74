package gofusion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// The motion model advances [x, y, θ, v, ω, b_a, b_ω] over dt with the bias corrected IMU
// longitudinal acceleration a = a_m - b_a and yaw rate ω_c = ω_m - b_ω as inputs:
//
//	ω̄  = (ω + ω_c)/2
//	θ' = θ + ω̄·dt
//	v' = v + a·dt
//	ω' = ω_c
//	p' = p + (v + a·dt/2)·dt·sinc(ω̄·dt/2)·[cos, sin](θ + ω̄·dt/2)
//
// The biases are propagated unchanged. The position increment is the chord of the arc
// travelled at constant turn rate, so uniform circular motion is propagated exactly.

type motionTerms struct {
	dt, θm, s, c, vbar, sincU, dsincU, d float64
}

func newMotionTerms(x []float64, a, ωm, dt float64) motionTerms {
	ωbar := 0.5 * (x[StateYawRate] + ωm)
	u := 0.5 * ωbar * dt
	m := motionTerms{dt: dt}
	m.θm = x[StateHeading] + u
	m.s, m.c = math.Sincos(m.θm)
	m.vbar = x[StateSpeed] + 0.5*a*dt
	m.sincU = sinc(u)
	m.dsincU = sincDeriv(u)
	m.d = m.vbar * dt * m.sincU
	return m
}

// correctedInputs returns the IMU inputs minus the bias estimates of x.
func correctedInputs(x []float64, imu ImuMeasurement) (a, ωc float64) {
	return imu.AX - x[StateAccelBias], imu.Omega - x[StateGyroBias]
}

// propagate applies the motion model to x and stores the result in dst.
func propagate(dst, x []float64, imu ImuMeasurement, dt float64) {
	a, ωc := correctedInputs(x, imu)
	m := newMotionTerms(x, a, ωc, dt)
	ωbar := 0.5 * (x[StateYawRate] + ωc)
	dst[StateX] = x[StateX] + m.d*m.c
	dst[StateY] = x[StateY] + m.d*m.s
	dst[StateHeading] = WrapAngle(x[StateHeading] + ωbar*dt)
	dst[StateSpeed] = x[StateSpeed] + a*dt
	dst[StateYawRate] = ωc
	dst[StateAccelBias] = x[StateAccelBias]
	dst[StateGyroBias] = x[StateGyroBias]
}

// dPosdω returns the derivative of the position increment with respect to ω (or ω_c,
// which enter the model symmetrically).
func (m motionTerms) dPosdω() (float64, float64) {
	k := m.vbar * m.dt * m.dt / 4
	return k * (m.dsincU*m.c - m.sincU*m.s), k * (m.dsincU*m.s + m.sincU*m.c)
}

// stateJacobian returns ∂f/∂x evaluated at x. The biases enter the motion model through
// the corrected inputs only, so their columns are minus the input Jacobian.
func stateJacobian(x []float64, imu ImuMeasurement, dt float64) *mat.Dense {
	a, ωc := correctedInputs(x, imu)
	m := newMotionTerms(x, a, ωc, dt)
	dxdω, dydω := m.dPosdω()
	F := mat.NewDense(StateSize, StateSize, nil)
	F.Set(StateX, StateX, 1)
	F.Set(StateX, StateHeading, -m.d*m.s)
	F.Set(StateX, StateSpeed, dt*m.sincU*m.c)
	F.Set(StateX, StateYawRate, dxdω)
	F.Set(StateY, StateY, 1)
	F.Set(StateY, StateHeading, m.d*m.c)
	F.Set(StateY, StateSpeed, dt*m.sincU*m.s)
	F.Set(StateY, StateYawRate, dydω)
	F.Set(StateHeading, StateHeading, 1)
	F.Set(StateHeading, StateYawRate, dt/2)
	F.Set(StateSpeed, StateSpeed, 1)
	// ω' = ω_c only depends on the gyroscope bias.
	G := inputJacobian(x, imu, dt)
	for i := 0; i < KinematicSize; i++ {
		F.Set(i, StateAccelBias, -G.At(i, inputAccel))
		F.Set(i, StateGyroBias, -G.At(i, inputYawRate))
	}
	F.Set(StateAccelBias, StateAccelBias, 1)
	F.Set(StateGyroBias, StateGyroBias, 1)
	return F
}

// Columns of the input Jacobian.
const (
	inputAccel = iota
	inputYawRate
	inputSize
)

// inputJacobian returns ∂f/∂(a_m, ω_m) evaluated at x. The bias rows are zero.
func inputJacobian(x []float64, imu ImuMeasurement, dt float64) *mat.Dense {
	a, ωc := correctedInputs(x, imu)
	m := newMotionTerms(x, a, ωc, dt)
	dxdω, dydω := m.dPosdω()
	G := mat.NewDense(StateSize, inputSize, nil)
	G.Set(StateX, inputAccel, 0.5*dt*dt*m.sincU*m.c)
	G.Set(StateY, inputAccel, 0.5*dt*dt*m.sincU*m.s)
	G.Set(StateSpeed, inputAccel, dt)
	G.Set(StateX, inputYawRate, dxdω)
	G.Set(StateY, inputYawRate, dydω)
	G.Set(StateHeading, inputYawRate, dt/2)
	G.Set(StateYawRate, inputYawRate, 1)
	return G
}

// continuousJacobian returns the continuous time Jacobian of the unicycle dynamics
// ẋ = v cos θ, ẏ = v sin θ, θ̇ = ω, v̇ = a_m - b_a, ω̇ = 0, ḃ = 0 evaluated at x.
func continuousJacobian(x []float64) *mat.Dense {
	s, c := math.Sincos(x[StateHeading])
	v := x[StateSpeed]
	A := mat.NewDense(StateSize, StateSize, nil)
	A.Set(StateX, StateHeading, -v*s)
	A.Set(StateX, StateSpeed, c)
	A.Set(StateY, StateHeading, v*c)
	A.Set(StateY, StateSpeed, s)
	A.Set(StateHeading, StateYawRate, 1)
	A.Set(StateSpeed, StateAccelBias, -1)
	return A
}
