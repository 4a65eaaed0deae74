package gofusion

import "testing"

func TestImplementsKF(t *testing.T) {
	implements := func(Filter) {}
	implements(new(EKF))
}

func TestImplementsEst(t *testing.T) {
	implements := func(Estimate) {}
	implements(EKFEstimate{})
}

func TestImplementsProcessNoise(t *testing.T) {
	implements := func(ProcessNoise) {}
	implements(new(ConstantProcessNoise))
	implements(new(InputProcessNoise))
	implements(new(VanLoanProcessNoise))
}

func TestImplementsTrajectory(t *testing.T) {
	implements := func(Trajectory) {}
	implements(Circle{})
	implements(FigureEight{})
	implements(Straight{})
}
