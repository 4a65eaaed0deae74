package gofusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// GpsMeasurement is a noisy position fix.
type GpsMeasurement struct {
	X float64 `json:"x"` // m
	Y float64 `json:"y"` // m
}

// Vector returns the measurement as a vector.
func (m GpsMeasurement) Vector() *mat.VecDense {
	return mat.NewVecDense(MeasSize, []float64{m.X, m.Y})
}

func (m GpsMeasurement) String() string {
	return fmt.Sprintf("GPS{x=%.4f y=%.4f}", m.X, m.Y)
}

// GPS simulates a bias free position receiver which produces a fix every period ticks.
type GPS struct {
	cfg    GPSConfig
	period int
	src    *NoiseSource
}

// NewGPS returns a new GPS producing a fix every period ticks.
func NewGPS(cfg GPSConfig, period int, src *NoiseSource) (*GPS, error) {
	if period <= 0 {
		return nil, invalidConfig("GPS update period must be positive, got %d", period)
	}
	if !(cfg.Noise >= 0) {
		return nil, invalidConfig("GPS noise must be non-negative, got %f", cfg.Noise)
	}
	if src == nil {
		return nil, invalidConfig("GPS requires a noise source")
	}
	return &GPS{cfg: cfg, period: period, src: src}, nil
}

// MaybeMeasure returns a fix of the provided true state if tick is a multiple of the
// update period. Noise is only drawn when a fix is produced.
func (g *GPS) MaybeMeasure(truth TrueState, tick int) (GpsMeasurement, bool) {
	if tick%g.period != 0 {
		return GpsMeasurement{}, false
	}
	return GpsMeasurement{
		X: g.src.Gaussian(truth.X, g.cfg.Noise),
		Y: g.src.Gaussian(truth.Y, g.cfg.Noise),
	}, true
}

// Period returns the number of ticks between two fixes.
func (g *GPS) Period() int {
	return g.period
}

func (g *GPS) String() string {
	return fmt.Sprintf("GPS{period=%d σ=%g}", g.period, g.cfg.Noise)
}

// UpdatePeriod returns the number of simulation ticks between two GPS fixes. The tick rate
// must be an integer multiple of the GPS rate.
func UpdatePeriod(tickRate, gpsRate float64) (int, error) {
	if !(tickRate > 0) || !(gpsRate > 0) {
		return 0, invalidConfig("rates must be positive: tick=%f Hz, GPS=%f Hz", tickRate, gpsRate)
	}
	ratio := tickRate / gpsRate
	period := math.Round(ratio)
	if period < 1 || math.Abs(ratio-period) > 1e-9*math.Max(1, ratio) {
		return 0, invalidConfig("tick rate %f Hz is not an integer multiple of the GPS rate %f Hz", tickRate, gpsRate)
	}
	return int(period), nil
}
