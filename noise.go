package gofusion

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Noise streams. Each stochastic component draws from its own stream of the run seed so
// that the noise sequence of one sensor does not depend on the cadence of another.
const (
	StreamIMU uint64 = iota + 1
	StreamGPS
)

// NoiseSource is a seedable Gaussian noise generator.
type NoiseSource struct {
	seed, stream uint64
	src          rand.Source
	draws        uint64
}

// NewNoiseSource returns a new noise source. Two sources with the same seed and stream
// generate the same sequence.
func NewNoiseSource(seed, stream uint64) *NoiseSource {
	return &NoiseSource{seed: seed, stream: stream, src: rand.NewPCG(seed, stream)}
}

// Gaussian returns a sample of N(mean, stddev²) and advances the generator.
// A zero stddev returns mean exactly. Panics if stddev is negative.
func (n *NoiseSource) Gaussian(mean, stddev float64) float64 {
	if stddev < 0 {
		panic(fmt.Errorf("negative standard deviation %f", stddev))
	}
	n.draws++
	sample := distuv.Normal{Mu: 0, Sigma: 1, Src: n.src}.Rand()
	if stddev == 0 {
		return mean
	}
	return mean + stddev*sample
}

// Draws returns the number of samples drawn so far.
func (n *NoiseSource) Draws() uint64 {
	return n.draws
}

// String implements the Stringer interface.
func (n *NoiseSource) String() string {
	return fmt.Sprintf("NoiseSource{seed=%d stream=%d draws=%d}", n.seed, n.stream, n.draws)
}
