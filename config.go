package gofusion

import (
	"fmt"
	"math"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Process noise models.
const (
	ProcessNoiseInput    = "input"
	ProcessNoiseVanLoan  = "vanloan"
	ProcessNoiseConstant = "constant"
)

// Trajectory kinds.
const (
	TrajectoryCircle      = "circle"
	TrajectoryFigureEight = "figure8"
	TrajectoryStraight    = "straight"
)

// Config is the full configuration of a simulation run.
type Config struct {
	Seed       uint64           `yaml:"seed" json:"seed"`
	Duration   float64          `yaml:"duration" json:"duration"`   // s, ignored when Ticks is set
	Ticks      int              `yaml:"ticks" json:"ticks"`         // number of simulation ticks
	TickRate   float64          `yaml:"tick_rate" json:"tick_rate"` // Hz
	Trajectory TrajectoryConfig `yaml:"trajectory" json:"trajectory"`
	IMU        IMUConfig        `yaml:"imu" json:"imu"`
	GPS        GPSConfig        `yaml:"gps" json:"gps"`
	Filter     FilterConfig     `yaml:"filter" json:"filter"`
}

// TrajectoryConfig selects and parametrizes the ground truth.
type TrajectoryConfig struct {
	Kind        string      `yaml:"kind" json:"kind"`
	Circle      Circle      `yaml:"circle" json:"circle"`
	FigureEight FigureEight `yaml:"figure8" json:"figure8"`
	Straight    Straight    `yaml:"straight" json:"straight"`
}

// IMUConfig holds the standard deviations of the IMU error model.
type IMUConfig struct {
	AccelNoise    float64 `yaml:"accel_noise" json:"accel_noise"`         // m/s²
	GyroNoise     float64 `yaml:"gyro_noise" json:"gyro_noise"`           // rad/s
	AccelBiasWalk float64 `yaml:"accel_bias_walk" json:"accel_bias_walk"` // m/s² per tick
	GyroBiasWalk  float64 `yaml:"gyro_bias_walk" json:"gyro_bias_walk"`   // rad/s per tick
	BiasLimit     float64 `yaml:"bias_limit" json:"bias_limit"`           // clamp of each bias component, 0 disables
}

// Validate returns an error if any standard deviation is negative.
func (c IMUConfig) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"accel noise", c.AccelNoise},
		{"gyro noise", c.GyroNoise},
		{"accel bias walk", c.AccelBiasWalk},
		{"gyro bias walk", c.GyroBiasWalk},
		{"bias limit", c.BiasLimit},
	} {
		if !(f.v >= 0) || math.IsInf(f.v, 0) {
			return invalidConfig("IMU %s must be finite and non-negative, got %f", f.name, f.v)
		}
	}
	return nil
}

// GPSConfig holds the rate and noise of the GPS receiver.
type GPSConfig struct {
	Rate   float64 `yaml:"rate" json:"rate"`     // Hz
	Period int     `yaml:"period" json:"period"` // ticks between fixes, overrides Rate when set
	Noise  float64 `yaml:"noise" json:"noise"`   // m
}

// FilterConfig initializes the EKF.
type FilterConfig struct {
	// InitialState defaults to the true state at t=0 with zero biases. The biases default to
	// zero when only the 5 kinematic values are set.
	InitialState []float64 `yaml:"initial_state,omitempty" json:"initial_state,omitempty"`
	// InitialCovariance is either the diagonal (5 or 7 values) or the full row-major matrix
	// (25 or 49 values). The bias block is zero when only the kinematic block is set.
	InitialCovariance []float64          `yaml:"initial_covariance" json:"initial_covariance"`
	ProcessNoise      ProcessNoiseConfig `yaml:"process_noise" json:"process_noise"`
	// MeasurementNoise overrides R = σ²·I, either as its diagonal (2 values) or full (4 values).
	MeasurementNoise []float64 `yaml:"measurement_noise,omitempty" json:"measurement_noise,omitempty"`
	// Tolerance of the symmetry and positive semi-definiteness checks.
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
}

// ProcessNoiseConfig selects the process noise model.
type ProcessNoiseConfig struct {
	Model string `yaml:"model" json:"model"`
	// Matrix is the constant Q, laid out like the initial covariance.
	Matrix []float64 `yaml:"matrix,omitempty" json:"matrix,omitempty"`
	// Input variances, derived from the IMU noise when both are zero.
	AccelVariance float64 `yaml:"accel_variance" json:"accel_variance"`
	GyroVariance  float64 `yaml:"gyro_variance" json:"gyro_variance"`
	// Bias increment variances per tick, derived from the IMU bias walk when both are zero.
	AccelBiasVariance float64 `yaml:"accel_bias_variance" json:"accel_bias_variance"`
	GyroBiasVariance  float64 `yaml:"gyro_bias_variance" json:"gyro_bias_variance"`
	// Continuous time spectral densities of the Van Loan model. The bias densities are
	// derived from the IMU bias walk when both are zero.
	AccelPSD     float64 `yaml:"accel_psd" json:"accel_psd"`
	YawAccelPSD  float64 `yaml:"yaw_accel_psd" json:"yaw_accel_psd"`
	AccelBiasPSD float64 `yaml:"accel_bias_psd" json:"accel_bias_psd"`
	GyroBiasPSD  float64 `yaml:"gyro_bias_psd" json:"gyro_bias_psd"`
}

// DefaultConfig returns the uniform circular motion scenario: radius 10 m at 1 rad/s sampled
// at 10 Hz for 1000 ticks with a 1 Hz GPS.
func DefaultConfig() Config {
	return Config{
		Seed:     1,
		Duration: 100,
		TickRate: 10,
		Trajectory: TrajectoryConfig{
			Kind:        TrajectoryCircle,
			Circle:      Circle{Radius: 10, Rate: 1},
			FigureEight: FigureEight{Scale: 10, Rate: 0.5},
			Straight:    Straight{Speed: 1},
		},
		IMU: IMUConfig{
			AccelNoise:    0.05,
			GyroNoise:     0.01,
			AccelBiasWalk: 0.001,
			GyroBiasWalk:  0.0001,
		},
		GPS: GPSConfig{Rate: 1, Noise: 0.5},
		Filter: FilterConfig{
			InitialCovariance: []float64{1, 1, 0.01, 0.25, 0.01, 0, 0},
			ProcessNoise:      ProcessNoiseConfig{Model: ProcessNoiseInput},
			Tolerance:         1e-9,
		},
	}
}

// LoadConfig reads a YAML configuration. Unset fields keep their DefaultConfig value.
func LoadConfig(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading configuration")
	}
	return ParseConfig(content)
}

// ParseConfig decodes a YAML configuration over DefaultConfig and validates it.
func ParseConfig(content []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Dt returns the simulation tick period in seconds.
func (c Config) Dt() float64 {
	return 1 / c.TickRate
}

// NumTicks returns the number of simulated ticks.
func (c Config) NumTicks() int {
	if c.Ticks > 0 {
		return c.Ticks
	}
	return int(math.Round(c.Duration * c.TickRate))
}

// GPSPeriod returns the number of ticks between two GPS fixes.
func (c Config) GPSPeriod() (int, error) {
	if c.GPS.Period > 0 {
		return c.GPS.Period, nil
	}
	if c.GPS.Period < 0 {
		return 0, invalidConfig("GPS period must be positive, got %d", c.GPS.Period)
	}
	return UpdatePeriod(c.TickRate, c.GPS.Rate)
}

// Validate checks the whole configuration and returns an ErrInvalidConfig on the first problem.
func (c Config) Validate() error {
	if !(c.TickRate > 0) || math.IsInf(c.TickRate, 0) {
		return invalidConfig("tick rate must be positive, got %f", c.TickRate)
	}
	if c.Ticks < 0 || !(c.Duration >= 0) {
		return invalidConfig("duration and ticks must be non-negative")
	}
	if c.NumTicks() < 1 {
		return invalidConfig("the run must last at least one tick")
	}
	if _, err := c.BuildTrajectory(); err != nil {
		return err
	}
	if err := c.IMU.Validate(); err != nil {
		return err
	}
	if !(c.GPS.Noise >= 0) {
		return invalidConfig("GPS noise must be non-negative, got %f", c.GPS.Noise)
	}
	if _, err := c.GPSPeriod(); err != nil {
		return err
	}
	if _, err := c.InitialCovariance(); err != nil {
		return err
	}
	if _, err := c.MeasurementNoise(); err != nil {
		return err
	}
	if _, err := c.BuildProcessNoise(); err != nil {
		return err
	}
	if n := len(c.Filter.InitialState); n != 0 && n != KinematicSize && n != StateSize {
		return errors.Wrapf(ErrInvalidConfig, "initial state must have %d or %d values, got %d", KinematicSize, StateSize, n)
	}
	if !(c.Filter.Tolerance > 0) {
		return invalidConfig("tolerance must be positive, got %g", c.Filter.Tolerance)
	}
	return nil
}

// BuildTrajectory returns the configured ground truth.
func (c Config) BuildTrajectory() (Trajectory, error) {
	switch c.Trajectory.Kind {
	case TrajectoryCircle:
		circ := c.Trajectory.Circle
		if !(circ.Radius > 0) || circ.Rate == 0 {
			return nil, invalidConfig("circle requires a positive radius and a non-zero rate")
		}
		return circ, nil
	case TrajectoryFigureEight:
		f := c.Trajectory.FigureEight
		if !(f.Scale > 0) || f.Rate == 0 {
			return nil, invalidConfig("figure eight requires a positive scale and a non-zero rate")
		}
		return f, nil
	case TrajectoryStraight:
		s := c.Trajectory.Straight
		// The speed must stay positive so that the heading is defined.
		end := float64(c.NumTicks()) * c.Dt()
		if !(s.Speed > 0) || s.Speed+s.Accel*end <= 0 {
			return nil, invalidConfig("straight line speed must remain positive over %f s", end)
		}
		return s, nil
	default:
		return nil, invalidConfig("unknown trajectory %q", c.Trajectory.Kind)
	}
}

// InitialState returns the initial mean of the filter.
func (c Config) InitialState(truth TrueState) *mat.VecDense {
	if n := len(c.Filter.InitialState); n == KinematicSize || n == StateSize {
		x0 := mat.NewVecDense(StateSize, nil)
		for i, v := range c.Filter.InitialState {
			x0.SetVec(i, v)
		}
		return x0
	}
	return truth.Vector()
}

// InitialCovariance returns P0 which must be symmetric positive semi-definite.
func (c Config) InitialCovariance() (*mat.SymDense, error) {
	P0, err := stateSymFromValues(c.Filter.InitialCovariance, "initial covariance")
	if err != nil {
		return nil, err
	}
	if err := checkPSD(P0, 1e-12, "initial covariance"); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return P0, nil
}

// MeasurementNoise returns R which must be symmetric positive definite.
func (c Config) MeasurementNoise() (*mat.SymDense, error) {
	var R *mat.SymDense
	if len(c.Filter.MeasurementNoise) > 0 {
		var err error
		if R, err = symFromValues(c.Filter.MeasurementNoise, MeasSize, "measurement noise"); err != nil {
			return nil, err
		}
	} else {
		R = ScaledIdentity(MeasSize, c.GPS.Noise*c.GPS.Noise)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(R); !ok {
		return nil, invalidConfig("measurement noise must be positive definite, set a non-zero GPS noise or measurement_noise")
	}
	return R, nil
}

// BuildProcessNoise returns the configured process noise model.
func (c Config) BuildProcessNoise() (ProcessNoise, error) {
	pn := c.Filter.ProcessNoise
	imu := c.IMU
	switch pn.Model {
	case ProcessNoiseInput, "":
		accelVar, gyroVar := pn.AccelVariance, pn.GyroVariance
		if accelVar == 0 && gyroVar == 0 {
			accelVar, gyroVar = imu.AccelNoise*imu.AccelNoise, imu.GyroNoise*imu.GyroNoise
		}
		accelBiasVar, gyroBiasVar := pn.AccelBiasVariance, pn.GyroBiasVariance
		if accelBiasVar == 0 && gyroBiasVar == 0 {
			accelBiasVar, gyroBiasVar = imu.AccelBiasWalk*imu.AccelBiasWalk, imu.GyroBiasWalk*imu.GyroBiasWalk
		}
		return NewInputProcessNoise(accelVar, gyroVar, accelBiasVar, gyroBiasVar)
	case ProcessNoiseVanLoan:
		accelBiasPSD, gyroBiasPSD := pn.AccelBiasPSD, pn.GyroBiasPSD
		if accelBiasPSD == 0 && gyroBiasPSD == 0 {
			// A walk of σ per tick has a density of σ²/dt.
			accelBiasPSD = imu.AccelBiasWalk * imu.AccelBiasWalk * c.TickRate
			gyroBiasPSD = imu.GyroBiasWalk * imu.GyroBiasWalk * c.TickRate
		}
		return NewVanLoanProcessNoise(pn.AccelPSD, pn.YawAccelPSD, accelBiasPSD, gyroBiasPSD)
	case ProcessNoiseConstant:
		Q, err := stateSymFromValues(pn.Matrix, "process noise")
		if err != nil {
			return nil, err
		}
		return NewConstantProcessNoise(Q)
	default:
		return nil, invalidConfig("unknown process noise model %q", pn.Model)
	}
}

// stateSymFromValues builds a state covariance from the values of either the full state or
// the kinematic block only, the bias block being zero in the latter case.
func stateSymFromValues(vals []float64, name string) (*mat.SymDense, error) {
	switch len(vals) {
	case StateSize, StateSize * StateSize:
		return symFromValues(vals, StateSize, name)
	case KinematicSize, KinematicSize * KinematicSize:
		kin, err := symFromValues(vals, KinematicSize, name)
		if err != nil {
			return nil, err
		}
		sym := mat.NewSymDense(StateSize, nil)
		for i := 0; i < KinematicSize; i++ {
			for j := i; j < KinematicSize; j++ {
				sym.SetSym(i, j, kin.At(i, j))
			}
		}
		return sym, nil
	default:
		return nil, invalidConfig("%s requires %d, %d, %d or %d values, got %d", name,
			KinematicSize, StateSize, KinematicSize*KinematicSize, StateSize*StateSize, len(vals))
	}
}

// symFromValues builds an n×n symmetric matrix from either its diagonal or its full
// row-major content.
func symFromValues(vals []float64, n int, name string) (*mat.SymDense, error) {
	switch len(vals) {
	case n:
		return Diagonal(vals...), nil
	case n * n:
		sym, err := AsSymDense(mat.NewDense(n, n, append([]float64(nil), vals...)), 1e-12)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidConfig, fmt.Sprintf("%s: %s", name, err))
		}
		return sym, nil
	default:
		return nil, invalidConfig("%s requires %d or %d values, got %d", name, n, n*n, len(vals))
	}
}
