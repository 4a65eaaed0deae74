package gofusion

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

func TestNewIMUErrors(t *testing.T) {
	src := NewNoiseSource(1, StreamIMU)
	for name, c := range map[string]struct {
		cfg IMUConfig
		dt  float64
		src *NoiseSource
	}{
		"zero dt":        {IMUConfig{}, 0, src},
		"negative dt":    {IMUConfig{}, -0.1, src},
		"negative noise": {IMUConfig{AccelNoise: -1}, 0.1, src},
		"NaN walk":       {IMUConfig{GyroBiasWalk: math.NaN()}, 0.1, src},
		"no source":      {IMUConfig{}, 0.1, nil},
	} {
		if _, err := NewIMU(c.cfg, c.dt, c.src); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected an invalid configuration, got %v", name, err)
		}
	}
	imu, err := NewIMU(IMUConfig{}, 0.01, src)
	if err != nil {
		t.Fatal(err)
	}
	if imu.DT() != 0.01 {
		t.Fatalf("dt=%f", imu.DT())
	}
}

func TestIMUNoiseless(t *testing.T) {
	imu, err := NewIMU(IMUConfig{}, 0.1, NewNoiseSource(1, StreamIMU))
	if err != nil {
		t.Fatal(err)
	}
	traj := FigureEight{Scale: 10, Rate: 0.5}
	for k := 1; k <= 50; k++ {
		truth := traj.StateAt(float64(k) * 0.1)
		m := imu.Measure(truth)
		if m.AX != truth.Accel || m.AY != truth.LateralAccel() || m.Omega != truth.YawRate {
			t.Fatalf("k=%d: %s != %s", k, m, truth)
		}
	}
}

func TestIMUBiasWalk(t *testing.T) {
	imu, err := NewIMU(IMUConfig{AccelBiasWalk: 0.01, GyroBiasWalk: 0.001}, 0.1, NewNoiseSource(5, StreamIMU))
	if err != nil {
		t.Fatal(err)
	}
	truth := Circle{Radius: 10, Rate: 0.1}.StateAt(0)
	prev := imu.Bias()
	changed := 0
	for k := 0; k < 100; k++ {
		m := imu.Measure(truth)
		b := imu.Bias()
		// Without white noise, the measurement error is the bias.
		if math.Abs(m.AX-truth.Accel-b.AX) > 1e-15 || math.Abs(m.Omega-truth.YawRate-b.Omega) > 1e-15 {
			t.Fatalf("k=%d: measurement error is not the bias %+v", k, b)
		}
		if b != prev {
			changed++
		}
		prev = b
	}
	if changed != 100 {
		t.Fatalf("bias changed %d times out of 100", changed)
	}
}

func TestIMUBiasLimit(t *testing.T) {
	imu, err := NewIMU(IMUConfig{AccelBiasWalk: 1, GyroBiasWalk: 1, BiasLimit: 0.05}, 0.1, NewNoiseSource(2, StreamIMU))
	if err != nil {
		t.Fatal(err)
	}
	clamped := false
	for k := 0; k < 100; k++ {
		imu.Measure(TrueState{})
		b := imu.Bias()
		for _, v := range []float64{b.AX, b.AY, b.Omega} {
			if math.Abs(v) > 0.05 {
				t.Fatalf("k=%d: bias %+v beyond the limit", k, b)
			}
			if math.Abs(v) == 0.05 {
				clamped = true
			}
		}
	}
	if !clamped {
		t.Fatal("bias never reached the limit")
	}
}
