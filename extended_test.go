package gofusion

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func newTestEKF(t *testing.T, x0 mat.Vector) *EKF {
	noise, err := NewInputProcessNoise(0.05*0.05, 0.01*0.01, 0.001*0.001, 0.0001*0.0001)
	if err != nil {
		t.Fatal(err)
	}
	kf, _, err := NewEKF(x0, Diagonal(1, 1, 0.01, 0.25, 0.01, 0, 0), noise, ScaledIdentity(MeasSize, 0.25))
	if err != nil {
		t.Fatal(err)
	}
	return kf
}

func TestNewEKFErrors(t *testing.T) {
	noise := &InputProcessNoise{}
	x0 := mat.NewVecDense(StateSize, nil)
	R := Identity(MeasSize)
	if _, _, err := NewEKF(mat.NewVecDense(3, nil), Identity(3), noise, R); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("x0 of the wrong size does not fail: %v", err)
	}
	if _, _, err := NewEKF(x0, Identity(3), noise, R); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("x0 and P0 of incompatible sizes does not fail: %v", err)
	}
	if _, _, err := NewEKF(x0, Identity(StateSize), noise, Identity(3)); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("R of the wrong size does not fail: %v", err)
	}
	if _, _, err := NewEKF(x0, Diagonal(1, 1, -1, 1, 1, 1, 1), noise, R); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("negative definite P0 does not fail: %v", err)
	}
	if _, _, err := NewEKF(x0, Identity(StateSize), noise, mat.NewSymDense(MeasSize, nil)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("zero R does not fail: %v", err)
	}
	if _, _, err := NewEKF(x0, Identity(StateSize), nil, R); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("missing process noise does not fail: %v", err)
	}
	if _, _, err := NewEKF(x0, Identity(StateSize), noise, R, WithTolerance(0)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("zero tolerance does not fail: %v", err)
	}
	// A zero initial covariance is a perfectly known initial state.
	if _, _, err := NewEKF(x0, mat.NewSymDense(StateSize, nil), noise, R); err != nil {
		t.Fatalf("zero P0 rejected: %s", err)
	}
}

func TestEKFUpdateBeforePredict(t *testing.T) {
	kf := newTestEKF(t, mat.NewVecDense(StateSize, []float64{0, 0, 0, 1, 0, 0, 0}))
	if _, err := kf.Update(GpsMeasurement{}); !errors.Is(err, ErrUpdateBeforePredict) {
		t.Fatalf("update without predict: %v", err)
	}
	if _, err := kf.Predict(ImuMeasurement{}, 0.1); err != nil {
		t.Fatal(err)
	}
	if _, err := kf.Update(GpsMeasurement{X: 0.1}); err != nil {
		t.Fatal(err)
	}
	if _, err := kf.Update(GpsMeasurement{X: 0.1}); !errors.Is(err, ErrUpdateBeforePredict) {
		t.Fatalf("second update without predict: %v", err)
	}
}

func TestEKFInvalidStepLeavesFilterUnchanged(t *testing.T) {
	kf := newTestEKF(t, mat.NewVecDense(StateSize, []float64{0, 0, 0, 1, 0, 0, 0}))
	x, P := kf.State(), kf.Covariance()
	if _, err := kf.Predict(ImuMeasurement{}, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("dt=0 accepted: %v", err)
	}
	if !mat.Equal(x, kf.State()) || !mat.Equal(P, kf.Covariance()) || kf.Step() != 0 {
		t.Fatal("failed predict modified the filter")
	}
}

func TestEKFSingularInnovation(t *testing.T) {
	x0 := mat.NewVecDense(StateSize, []float64{0, 0, 0, 1, 0, 0, 0})
	kf, _, err := NewEKF(x0, mat.NewSymDense(StateSize, nil), &InputProcessNoise{}, Identity(MeasSize))
	if err != nil {
		t.Fatal(err)
	}
	// Only reachable by corrupting R after construction.
	kf.R = mat.NewSymDense(MeasSize, nil)
	if _, err := kf.Predict(ImuMeasurement{}, 0.1); err != nil {
		t.Fatal(err)
	}
	if _, err := kf.Update(GpsMeasurement{X: 0.1}); !errors.Is(err, ErrSingularInnovation) {
		t.Fatalf("singular S not detected: %v", err)
	}
}

func TestEKFCovarianceNotPSD(t *testing.T) {
	x0 := mat.NewVecDense(StateSize, []float64{0, 0, 0, 1, 0, 0, 0})
	Q := &ConstantProcessNoise{Q: Diagonal(0, 0, 0, -1, 0, 0, 0)}
	kf, _, err := NewEKF(x0, mat.NewSymDense(StateSize, nil), Q, Identity(MeasSize))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := kf.Predict(ImuMeasurement{}, 0.1); !errors.Is(err, ErrCovarianceNotPSD) {
		t.Fatalf("negative covariance not detected: %v", err)
	}
}

func TestEKFCircle(t *testing.T) {
	traj := Circle{Radius: 10, Rate: 1}
	dt := 0.1
	imu, err := NewIMU(IMUConfig{AccelNoise: 0.05, GyroNoise: 0.01}, dt, NewNoiseSource(3, StreamIMU))
	if err != nil {
		t.Fatal(err)
	}
	gps, err := NewGPS(GPSConfig{Noise: 0.5}, 10, NewNoiseSource(3, StreamGPS))
	if err != nil {
		t.Fatal(err)
	}
	kf := newTestEKF(t, traj.StateAt(0).Vector())
	within := 0
	for k := 1; k <= 500; k++ {
		truth := traj.StateAt(float64(k) * dt)
		est, err := kf.Predict(imu.Measure(truth), dt)
		if err != nil {
			t.Fatalf("k=%d: %s", k, err)
		}
		assertCovariance(t, est.Covariance(), k)
		if fix, ok := gps.MaybeMeasure(truth, k); ok {
			prior := est.Covariance()
			est, err = kf.Update(fix)
			if err != nil {
				t.Fatalf("k=%d: %s", k, err)
			}
			assertCovariance(t, est.Covariance(), k)
			if est.Covariance().At(StateX, StateX) > prior.At(StateX, StateX) {
				t.Fatalf("k=%d: update increased the position variance", k)
			}
			if est.Innovation() == nil || est.(EKFEstimate).NIS() < 0 {
				t.Fatalf("k=%d: invalid innovation", k)
			}
			if est.IsWithinNσ(truth.Vector(), 3) {
				within++
			}
		}
	}
	// Fifty updates, at least 90% expected within 3σ.
	if within < 45 {
		t.Fatalf("only %d/50 updates within 3σ", within)
	}
	kf.Reset()
	if kf.Step() != 0 || !mat.Equal(kf.State(), traj.StateAt(0).Vector()) {
		t.Fatal("reset did not restore the initial estimate")
	}
}

func assertCovariance(t *testing.T, P *mat.SymDense, k int) {
	t.Helper()
	var eig mat.EigenSym
	if ok := eig.Factorize(P, false); !ok {
		t.Fatalf("k=%d: eigen decomposition failed", k)
	}
	for _, λ := range eig.Values(nil) {
		if λ < -1e-9 || math.IsNaN(λ) {
			t.Fatalf("k=%d: negative eigenvalue %g", k, λ)
		}
	}
}

func TestEKFEstimatesBias(t *testing.T) {
	// Straight line at constant speed with biased but otherwise perfect sensors.
	traj := Straight{Heading: 0.4, Speed: 2}
	dt := 0.1
	const ba, bω = 0.05, -0.01
	noise, err := NewInputProcessNoise(1e-6, 1e-8, 1e-10, 1e-12)
	if err != nil {
		t.Fatal(err)
	}
	P0 := Diagonal(0.01, 0.01, 1e-4, 1e-3, 1e-4, 0.01, 1e-4)
	kf, _, err := NewEKF(traj.StateAt(0).Vector(), P0, noise, ScaledIdentity(MeasSize, 0.01))
	if err != nil {
		t.Fatal(err)
	}
	for k := 1; k <= 3000; k++ {
		truth := traj.StateAt(float64(k) * dt)
		if _, err := kf.Predict(ImuMeasurement{AX: truth.Accel + ba, Omega: truth.YawRate + bω}, dt); err != nil {
			t.Fatalf("k=%d: %s", k, err)
		}
		if k%5 == 0 {
			if _, err := kf.Update(GpsMeasurement{X: truth.X, Y: truth.Y}); err != nil {
				t.Fatalf("k=%d: %s", k, err)
			}
		}
	}
	x := kf.State()
	if math.Abs(x.AtVec(StateAccelBias)-ba) > 5e-3 || math.Abs(x.AtVec(StateGyroBias)-bω) > 1e-3 {
		t.Fatalf("biases not estimated: %v", mat.Formatted(x.T()))
	}
}

func benchmarkEKF(b *testing.B, update bool) {
	noise, err := NewInputProcessNoise(0.05*0.05, 0.01*0.01, 0.001*0.001, 0.0001*0.0001)
	if err != nil {
		b.Fatal(err)
	}
	traj := Circle{Radius: 10, Rate: 1}
	kf, _, err := NewEKF(traj.StateAt(0).Vector(), Diagonal(1, 1, 0.01, 0.25, 0.01, 0, 0), noise, ScaledIdentity(MeasSize, 0.25))
	if err != nil {
		b.Fatal(err)
	}
	truth := traj.StateAt(0.1)
	imu := ImuMeasurement{AX: truth.Accel, AY: truth.LateralAccel(), Omega: truth.YawRate}
	fix := GpsMeasurement{X: truth.X, Y: truth.Y}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		// Bounds the growth of the covariance over long benchmarks.
		if i%1000 == 0 {
			kf.Reset()
		}
		if !update {
			if _, err := kf.Predict(imu, 0.1); err != nil {
				b.Fatalf("predict failed: %v", err)
			}
			continue
		}
		kf.predicted = true
		if _, err := kf.Update(fix); err != nil {
			b.Fatalf("update failed: %v", err)
		}
	}
}

func BenchmarkEKFPredict(b *testing.B) {
	benchmarkEKF(b, false)
}

func BenchmarkEKFUpdate(b *testing.B) {
	benchmarkEKF(b, true)
}
