package gofusion

import (
	"fmt"
	"math"
)

// ImuMeasurement is a noisy and biased body frame IMU sample.
type ImuMeasurement struct {
	AX    float64 `json:"ax"`    // longitudinal acceleration, m/s²
	AY    float64 `json:"ay"`    // lateral acceleration, m/s²
	Omega float64 `json:"omega"` // yaw rate, rad/s
}

func (m ImuMeasurement) String() string {
	return fmt.Sprintf("IMU{ax=%.4f ay=%.4f ω=%.5f}", m.AX, m.AY, m.Omega)
}

// ImuBias is the slowly drifting offset of each IMU axis.
type ImuBias struct {
	AX    float64 `json:"ax"`
	AY    float64 `json:"ay"`
	Omega float64 `json:"omega"`
}

// IMU simulates an accelerometer and gyroscope pair. The bias follows a random walk which
// is integrated at every call to Measure and never reset.
type IMU struct {
	cfg  IMUConfig
	dt   float64
	src  *NoiseSource
	bias ImuBias
}

// NewIMU returns a new IMU sampled every dt seconds.
func NewIMU(cfg IMUConfig, dt float64, src *NoiseSource) (*IMU, error) {
	if !(dt > 0) {
		return nil, invalidConfig("IMU sampling period must be positive, got %f", dt)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, invalidConfig("IMU requires a noise source")
	}
	return &IMU{cfg: cfg, dt: dt, src: src}, nil
}

// Measure returns the IMU sample for the provided true state. It must be called once per
// simulation tick.
func (imu *IMU) Measure(truth TrueState) ImuMeasurement {
	imu.bias.AX = imu.walk(imu.bias.AX, imu.cfg.AccelBiasWalk)
	imu.bias.AY = imu.walk(imu.bias.AY, imu.cfg.AccelBiasWalk)
	imu.bias.Omega = imu.walk(imu.bias.Omega, imu.cfg.GyroBiasWalk)
	return ImuMeasurement{
		AX:    imu.src.Gaussian(truth.Accel+imu.bias.AX, imu.cfg.AccelNoise),
		AY:    imu.src.Gaussian(truth.LateralAccel()+imu.bias.AY, imu.cfg.AccelNoise),
		Omega: imu.src.Gaussian(truth.YawRate+imu.bias.Omega, imu.cfg.GyroNoise),
	}
}

func (imu *IMU) walk(b, stddev float64) float64 {
	b = imu.src.Gaussian(b, stddev)
	if lim := imu.cfg.BiasLimit; lim > 0 {
		b = math.Max(-lim, math.Min(lim, b))
	}
	return b
}

// Bias returns the current bias.
func (imu *IMU) Bias() ImuBias {
	return imu.bias
}

// DT returns the sampling period of the IMU.
func (imu *IMU) DT() float64 {
	return imu.dt
}

func (imu *IMU) String() string {
	return fmt.Sprintf("IMU{dt=%g %+v bias=%+v}", imu.dt, imu.cfg, imu.bias)
}
