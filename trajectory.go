package gofusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// TrueState is the ground truth kinematic state of the agent at a given time.
type TrueState struct {
	T       float64 `json:"t"`       // time, s
	X       float64 `json:"x"`       // position, m
	Y       float64 `json:"y"`       // position, m
	Heading float64 `json:"heading"` // θ, rad in (-π, π]
	Speed   float64 `json:"speed"`   // v, m/s
	YawRate float64 `json:"yawRate"` // ω, rad/s
	Accel   float64 `json:"accel"`   // longitudinal acceleration dv/dt, m/s²
}

// LateralAccel returns the centripetal acceleration v·ω in the body frame.
func (s TrueState) LateralAccel() float64 {
	return s.Speed * s.YawRate
}

// Vector returns the state as an EKF state vector [x, y, θ, v, ω, 0, 0]. The biases are
// those of the sensors, see Record.TrueVector.
func (s TrueState) Vector() *mat.VecDense {
	return mat.NewVecDense(StateSize, []float64{s.X, s.Y, s.Heading, s.Speed, s.YawRate, 0, 0})
}

func (s TrueState) String() string {
	return fmt.Sprintf("t=%.3f x=%.3f y=%.3f θ=%.4f v=%.3f ω=%.4f a=%.3f", s.T, s.X, s.Y, s.Heading, s.Speed, s.YawRate, s.Accel)
}

// Trajectory generates the ground truth. StateAt must be a pure function of t and the
// returned velocity, yaw rate and acceleration must be the analytic derivatives of the
// position law.
type Trajectory interface {
	StateAt(t float64) TrueState
	String() string
}

// stateFromDerivatives builds a TrueState from the position and its first two derivatives.
// The speed must be strictly positive.
func stateFromDerivatives(t, x, y, dx, dy, ddx, ddy float64) TrueState {
	v2 := dx*dx + dy*dy
	v := math.Sqrt(v2)
	return TrueState{
		T:       t,
		X:       x,
		Y:       y,
		Heading: math.Atan2(dy, dx),
		Speed:   v,
		YawRate: (dx*ddy - dy*ddx) / v2,
		Accel:   (dx*ddx + dy*ddy) / v,
	}
}

// Circle is a uniform circular motion, counter-clockwise for a positive rate.
type Circle struct {
	CX     float64 `yaml:"cx"`     // center, m
	CY     float64 `yaml:"cy"`     // center, m
	Radius float64 `yaml:"radius"` // m
	Rate   float64 `yaml:"rate"`   // angular rate, rad/s
	Phase  float64 `yaml:"phase"`  // angle of the position at t=0, rad
}

// StateAt implements the Trajectory interface.
func (c Circle) StateAt(t float64) TrueState {
	φ := c.Phase + c.Rate*t
	sφ, cφ := math.Sincos(φ)
	x := c.CX + c.Radius*cφ
	y := c.CY + c.Radius*sφ
	heading := φ + math.Pi/2
	speed := c.Radius * c.Rate
	if speed < 0 {
		heading = φ - math.Pi/2
		speed = -speed
	}
	return TrueState{
		T:       t,
		X:       x,
		Y:       y,
		Heading: WrapAngle(heading),
		Speed:   speed,
		YawRate: c.Rate,
		Accel:   0,
	}
}

func (c Circle) String() string {
	return fmt.Sprintf("Circle{center=(%g,%g) r=%g ω=%g φ=%g}", c.CX, c.CY, c.Radius, c.Rate, c.Phase)
}

// FigureEight is the Lissajous curve x = A sin(Ωt), y = A sin(2Ωt).
type FigureEight struct {
	Scale float64 `yaml:"scale"` // A, m
	Rate  float64 `yaml:"rate"`  // Ω, rad/s
}

// StateAt implements the Trajectory interface.
func (f FigureEight) StateAt(t float64) TrueState {
	A, Ω := f.Scale, f.Rate
	s1, c1 := math.Sincos(Ω * t)
	s2, c2 := math.Sincos(2 * Ω * t)
	return stateFromDerivatives(t,
		A*s1, A*s2,
		A*Ω*c1, 2*A*Ω*c2,
		-A*Ω*Ω*s1, -4*A*Ω*Ω*s2)
}

func (f FigureEight) String() string {
	return fmt.Sprintf("FigureEight{A=%g Ω=%g}", f.Scale, f.Rate)
}

// Straight is a rectilinear motion along a fixed heading with constant acceleration.
// Speed must stay positive over the simulated duration.
type Straight struct {
	X0      float64 `yaml:"x0"`      // m
	Y0      float64 `yaml:"y0"`      // m
	Heading float64 `yaml:"heading"` // rad
	Speed   float64 `yaml:"speed"`   // initial speed, m/s
	Accel   float64 `yaml:"accel"`   // m/s²
}

// StateAt implements the Trajectory interface.
func (s Straight) StateAt(t float64) TrueState {
	d := s.Speed*t + 0.5*s.Accel*t*t
	sθ, cθ := math.Sincos(s.Heading)
	return TrueState{
		T:       t,
		X:       s.X0 + d*cθ,
		Y:       s.Y0 + d*sθ,
		Heading: WrapAngle(s.Heading),
		Speed:   s.Speed + s.Accel*t,
		YawRate: 0,
		Accel:   s.Accel,
	}
}

func (s Straight) String() string {
	return fmt.Sprintf("Straight{p0=(%g,%g) θ=%g v=%g a=%g}", s.X0, s.Y0, s.Heading, s.Speed, s.Accel)
}
