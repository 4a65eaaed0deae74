package gofusion

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Option configures a Simulation.
type Option func(*Simulation)

// WithLogger sets the logger of the simulation. Logs are discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulation) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTrajectory overrides the trajectory of the configuration.
func WithTrajectory(traj Trajectory) Option {
	return func(s *Simulation) {
		s.traj = traj
	}
}

// Simulation drives the sensors and the EKF over a fixed number of ticks.
type Simulation struct {
	cfg    Config
	traj   Trajectory
	logger *slog.Logger
}

// NewSimulation returns a new simulation of the provided configuration.
func NewSimulation(cfg Config, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulation{cfg: cfg, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	if s.traj == nil {
		traj, err := cfg.BuildTrajectory()
		if err != nil {
			return nil, err
		}
		s.traj = traj
	}
	return s, nil
}

// Config returns the configuration of the simulation.
func (s *Simulation) Config() Config {
	return s.cfg
}

// Meta describes the run which produced a TimeSeries. The matrices are marshaled in
// row-major order.
type Meta struct {
	Seed         uint64        `json:"seed"`
	Dt           float64       `json:"dt"`
	Ticks        int           `json:"ticks"`
	GPSPeriod    int           `json:"gps_period"`
	Trajectory   string        `json:"trajectory"`
	ProcessNoise string        `json:"process_noise"`
	InitialMean  *mat.VecDense `json:"-"`
	InitialCovar *mat.SymDense `json:"-"`
	R            *mat.SymDense `json:"-"`
	Config       Config        `json:"config"`
}

// Record is the output of a single tick. The mean and the covariance are marshaled as the
// state vector and the row-major covariance.
type Record struct {
	Tick       int             `json:"tick"`
	Time       float64         `json:"t"`
	Truth      TrueState       `json:"truth"`
	IMU        ImuMeasurement  `json:"imu"`
	Bias       ImuBias         `json:"bias"`
	GPS        *GpsMeasurement `json:"gps,omitempty"` // nil on ticks without a fix
	Mean       *mat.VecDense   `json:"-"`
	Covariance *mat.SymDense   `json:"-"`
	NIS        float64         `json:"nis"` // zero on ticks without a fix
}

// Position returns the estimated position.
func (r Record) Position() (float64, float64) {
	return r.Mean.AtVec(StateX), r.Mean.AtVec(StateY)
}

// MarshalJSON implements json.Marshaler.
func (m Meta) MarshalJSON() ([]byte, error) {
	type plain Meta
	return json.Marshal(struct {
		plain
		InitialMean  []float64 `json:"initial_mean"`
		InitialCovar []float64 `json:"initial_covariance"`
		R            []float64 `json:"measurement_noise"`
	}{plain(m), vecValues(m.InitialMean), matValues(m.InitialCovar), matValues(m.R)})
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		Mean       []float64 `json:"mean"`
		Covariance []float64 `json:"covariance"`
	}{plain(r), vecValues(r.Mean), matValues(r.Covariance)})
}

// vecValues returns a copy of the content of v, nil if v is nil.
func vecValues(v *mat.VecDense) []float64 {
	if v == nil {
		return nil
	}
	return vecSlice(v)
}

// matValues returns a copy of the row-major content of m, nil if m is nil.
func matValues(m *mat.SymDense) []float64 {
	if m == nil {
		return nil
	}
	n := m.SymmetricDim()
	vals := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			vals = append(vals, m.At(i, j))
		}
	}
	return vals
}

// TrueVector returns the true state vector including the true sensor biases.
func (r Record) TrueVector() *mat.VecDense {
	x := r.Truth.Vector()
	x.SetVec(StateAccelBias, r.Bias.AX)
	x.SetVec(StateGyroBias, r.Bias.Omega)
	return x
}

// Error returns the estimation error as estimate minus truth, the heading error being wrapped.
func (r Record) Error() *mat.VecDense {
	var δ mat.VecDense
	δ.SubVec(r.Mean, r.TrueVector())
	δ.SetVec(StateHeading, WrapAngle(δ.AtVec(StateHeading)))
	return &δ
}

func (r Record) String() string {
	gps := "none"
	if r.GPS != nil {
		gps = r.GPS.String()
	}
	return fmt.Sprintf("[%d] %s\n%s GPS=%s\nx̂=%v", r.Tick, r.Truth, r.IMU, gps, mat.Formatted(r.Mean.T()))
}

// TimeSeries is the ordered output of a complete run.
type TimeSeries struct {
	Meta    Meta     `json:"meta"`
	Records []Record `json:"records"`
}

// Run simulates every tick k=1..N at t=k·dt, the filter being initialized at t=0. Each
// call starts from scratch with the configured seed, so two runs of the same simulation
// are identical. No time series is returned if any step fails.
func (s *Simulation) Run() (*TimeSeries, error) {
	cfg := s.cfg
	dt := cfg.Dt()
	ticks := cfg.NumTicks()
	period, err := cfg.GPSPeriod()
	if err != nil {
		return nil, err
	}
	imu, err := NewIMU(cfg.IMU, dt, NewNoiseSource(cfg.Seed, StreamIMU))
	if err != nil {
		return nil, err
	}
	gps, err := NewGPS(cfg.GPS, period, NewNoiseSource(cfg.Seed, StreamGPS))
	if err != nil {
		return nil, err
	}
	noise, err := cfg.BuildProcessNoise()
	if err != nil {
		return nil, err
	}
	P0, err := cfg.InitialCovariance()
	if err != nil {
		return nil, err
	}
	R, err := cfg.MeasurementNoise()
	if err != nil {
		return nil, err
	}
	x0 := cfg.InitialState(s.traj.StateAt(0))
	kf, _, err := NewEKF(x0, P0, noise, R, WithTolerance(cfg.Filter.Tolerance))
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("seed", cfg.Seed)
	logger.Info("simulation started", "trajectory", s.traj.String(), "ticks", ticks, "dt", dt, "gps_period", period, "process_noise", noise.String())
	logger.Debug("sensors", "imu", imu.String(), "gps", gps.String())

	ts := &TimeSeries{
		Meta: Meta{
			Seed:         cfg.Seed,
			Dt:           dt,
			Ticks:        ticks,
			GPSPeriod:    period,
			Trajectory:   s.traj.String(),
			ProcessNoise: noise.String(),
			InitialMean:  mat.VecDenseCopyOf(x0),
			InitialCovar: P0,
			R:            R,
			Config:       cfg,
		},
		Records: make([]Record, 0, ticks),
	}
	for k := 1; k <= ticks; k++ {
		truth := s.traj.StateAt(float64(k) * dt)
		meas := imu.Measure(truth)
		rec := Record{Tick: k, Time: truth.T, Truth: truth, IMU: meas, Bias: imu.Bias()}
		fix, hasFix := gps.MaybeMeasure(truth, k)

		est, err := kf.Predict(meas, dt)
		if err != nil {
			logger.Error("prediction failed", "tick", k, "error", err)
			return nil, errors.Wrapf(err, "tick %d", k)
		}
		if hasFix {
			est, err = kf.Update(fix)
			if err != nil {
				logger.Error("update failed", "tick", k, "error", err)
				return nil, errors.Wrapf(err, "tick %d", k)
			}
			rec.GPS = &fix
			if ekfEst, ok := est.(EKFEstimate); ok {
				rec.NIS = ekfEst.NIS()
			}
			logger.Debug("gps update", "tick", k, "nis", rec.NIS)
		}
		rec.Mean = est.State()
		rec.Covariance = est.Covariance()
		ts.Records = append(ts.Records, rec)
	}
	stats := ts.ErrorStats(0)
	logger.Info("simulation completed", "position_rms", stats.PositionRMS, "gps_rms", stats.GPSRMS)
	return ts, nil
}
