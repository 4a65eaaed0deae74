package gofusion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 1000, cfg.NumTicks())
	require.InDelta(t, 0.1, cfg.Dt(), 1e-15)
	period, err := cfg.GPSPeriod()
	require.NoError(t, err)
	require.Equal(t, 10, period)

	R, err := cfg.MeasurementNoise()
	require.NoError(t, err)
	require.InDelta(t, 0.25, R.At(0, 0), 1e-15)
	require.Zero(t, R.At(0, 1))

	pn, err := cfg.BuildProcessNoise()
	require.NoError(t, err)
	input, ok := pn.(*InputProcessNoise)
	require.True(t, ok)
	// The white noise drives the inputs and the bias walk drives the bias states.
	require.InDelta(t, 0.05*0.05, input.AccelVar, 1e-15)
	require.InDelta(t, 0.01*0.01, input.GyroVar, 1e-15)
	require.InDelta(t, 0.001*0.001, input.AccelBiasVar, 1e-18)
	require.InDelta(t, 0.0001*0.0001, input.GyroBiasVar, 1e-20)

	P0, err := cfg.InitialCovariance()
	require.NoError(t, err)
	require.Zero(t, P0.At(StateAccelBias, StateAccelBias), "the sensors start unbiased")
}

func TestConfigKinematicValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filter.InitialState = []float64{1, 2, 0.5, 3, 0.1}
	cfg.Filter.InitialCovariance = []float64{
		4, 1, 0, 0, 0,
		1, 4, 0, 0, 0,
		0, 0, 0.1, 0, 0,
		0, 0, 0, 1, 0,
		0, 0, 0, 0, 0.1,
	}
	require.NoError(t, cfg.Validate())
	x0 := cfg.InitialState(TrueState{})
	require.Equal(t, []float64{1, 2, 0.5, 3, 0.1, 0, 0}, x0.RawVector().Data)
	P0, err := cfg.InitialCovariance()
	require.NoError(t, err)
	require.Equal(t, StateSize, P0.SymmetricDim())
	require.Equal(t, 1.0, P0.At(StateY, StateX))
	require.Zero(t, P0.At(StateGyroBias, StateGyroBias))

	cfg.Filter.InitialState = []float64{1, 2, 0.5, 3, 0.1, 0.02, -0.001}
	cfg.Filter.InitialCovariance = []float64{4, 4, 0.1, 1, 0.1, 1e-4, 1e-6}
	require.NoError(t, cfg.Validate())
	require.Equal(t, -0.001, cfg.InitialState(TrueState{}).AtVec(StateGyroBias))
	P0, err = cfg.InitialCovariance()
	require.NoError(t, err)
	require.Equal(t, 1e-6, P0.At(StateGyroBias, StateGyroBias))

	cfg.Filter.InitialCovariance = make([]float64, 36)
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
seed: 7
ticks: 300
tick_rate: 50
trajectory:
  kind: figure8
  figure8:
    scale: 20
    rate: 0.25
imu:
  accel_noise: 0.1
  bias_limit: 0.5
gps:
  rate: 5
  noise: 2
filter:
  initial_state: [0, 0, 0, 5, 0]
  initial_covariance: [4, 4, 0.1, 1, 0.1]
  process_noise:
    model: vanloan
    accel_psd: 0.1
    yaw_accel_psd: 0.01
    accel_bias_psd: 0.001
`))
	require.NoError(t, err)
	require.Equal(t, uint64(7), cfg.Seed)
	require.Equal(t, 300, cfg.NumTicks())
	require.Equal(t, FigureEight{Scale: 20, Rate: 0.25}, cfg.Trajectory.FigureEight)
	require.Equal(t, 0.1, cfg.IMU.AccelNoise)
	// Unset fields keep their default value.
	require.Equal(t, 0.01, cfg.IMU.GyroNoise)
	require.Equal(t, 1e-9, cfg.Filter.Tolerance)

	period, err := cfg.GPSPeriod()
	require.NoError(t, err)
	require.Equal(t, 10, period)

	traj, err := cfg.BuildTrajectory()
	require.NoError(t, err)
	require.IsType(t, FigureEight{}, traj)

	pn, err := cfg.BuildProcessNoise()
	require.NoError(t, err)
	require.Equal(t, &VanLoanProcessNoise{AccelPSD: 0.1, YawAccelPSD: 0.01, AccelBiasPSD: 0.001}, pn)

	x0 := cfg.InitialState(traj.StateAt(0))
	require.Equal(t, 5.0, x0.AtVec(StateSpeed))
	require.Zero(t, x0.AtVec(StateHeading))

	P0, err := cfg.InitialCovariance()
	require.NoError(t, err)
	require.Equal(t, 4.0, P0.At(StateX, StateX))
}

func TestParseConfigErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"malformed":          "seed: [",
		"wrong type":         "ticks: many",
		"constant Q size":    "filter:\n  process_noise:\n    model: constant\n    matrix: [1, 2, 3]",
		"asymmetric P0":      "filter:\n  initial_covariance: [1,0,0,0,0, 1,1,0,0,0, 0,0,1,0,0, 0,0,0,1,0, 0,0,0,0,1]",
		"initial state size": "filter:\n  initial_state: [1, 2]",
		"R size":             "filter:\n  measurement_noise: [1, 2, 3]",
		"reversing straight": "ticks: 100\ntrajectory:\n  kind: straight\n  straight:\n    speed: 1\n    accel: -1",
		"flat circle":        "trajectory:\n  circle:\n    radius: 0",
	} {
		_, err := ParseConfig([]byte(doc))
		require.ErrorIs(t, err, ErrInvalidConfig, name)
	}
}

func TestConfigMatrices(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filter.ProcessNoise = ProcessNoiseConfig{
		Model:  ProcessNoiseConstant,
		Matrix: []float64{1e-4, 1e-4, 1e-5, 1e-3, 1e-5},
	}
	cfg.Filter.MeasurementNoise = []float64{1, 0.5, 0.5, 2}
	require.NoError(t, cfg.Validate())

	pn, err := cfg.BuildProcessNoise()
	require.NoError(t, err)
	require.IsType(t, &ConstantProcessNoise{}, pn)

	R, err := cfg.MeasurementNoise()
	require.NoError(t, err)
	require.Equal(t, 0.5, R.At(1, 0))

	cfg.Filter.MeasurementNoise = []float64{1, 2, 2, 1}
	_, err = cfg.MeasurementNoise()
	require.ErrorIs(t, err, ErrInvalidConfig, "indefinite R")

	cfg.Filter.ProcessNoise = ProcessNoiseConfig{Model: ProcessNoiseInput, AccelVariance: 0.5, GyroBiasVariance: 1e-9}
	pn, err = cfg.BuildProcessNoise()
	require.NoError(t, err)
	require.Equal(t, &InputProcessNoise{AccelVar: 0.5, GyroBiasVar: 1e-9}, pn)

	// A bias walk of σ per tick has a spectral density of σ²/dt.
	cfg.Filter.ProcessNoise = ProcessNoiseConfig{Model: ProcessNoiseVanLoan, AccelPSD: 0.1}
	pn, err = cfg.BuildProcessNoise()
	require.NoError(t, err)
	vl, ok := pn.(*VanLoanProcessNoise)
	require.True(t, ok)
	require.InDelta(t, 0.001*0.001/0.1, vl.AccelBiasPSD, 1e-18)
	require.InDelta(t, 0.0001*0.0001/0.1, vl.GyroBiasPSD, 1e-20)

	cfg.Filter.ProcessNoise = ProcessNoiseConfig{
		Model:  ProcessNoiseConstant,
		Matrix: []float64{1e-4, 1e-4, 1e-5, 1e-3, 1e-5, 1e-6, 1e-8},
	}
	pn, err = cfg.BuildProcessNoise()
	require.NoError(t, err)
	Q, err := pn.Matrix(cfg.InitialState(TrueState{}), ImuMeasurement{}, cfg.Dt())
	require.NoError(t, err)
	require.Equal(t, 1e-8, Q.At(StateGyroBias, StateGyroBias))
}

func TestLoadConfig(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "run.yml")
	require.NoError(t, os.WriteFile(path, []byte("seed: 3\ngps:\n  period: 5\n"), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, uint64(3), cfg.Seed)
	period, err := cfg.GPSPeriod()
	require.NoError(t, err)
	require.Equal(t, 5, period)

	for _, example := range []string{"circle.yml", "figure8.yml", "straight.yml"} {
		_, err := LoadConfig(filepath.Join("examples", example))
		require.NoError(t, err, example)
	}
}
