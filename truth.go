package gofusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrorStats summarizes the error of the estimate against the ground truth over a window of
// a time series.
type ErrorStats struct {
	From, Samples int
	PositionRMS   float64 // m, norm of the (x, y) error
	PositionMSE   float64 // m², mean squared norm of the (x, y) error
	HeadingRMS    float64 // rad, wrapped
	SpeedRMS      float64 // m/s
	YawRateRMS    float64 // rad/s
	MaxPosition   float64 // m

	// Raw GPS fixes over the same window.
	GPSFixes int
	GPSRMS   float64 // m
}

func (s ErrorStats) String() string {
	return fmt.Sprintf("ticks %d+ (%d): pos=%.4f m (max %.4f) θ=%.5f rad v=%.4f m/s ω=%.5f rad/s | GPS (%d fixes)=%.4f m",
		s.From, s.Samples, s.PositionRMS, s.MaxPosition, s.HeadingRMS, s.SpeedRMS, s.YawRateRMS, s.GPSFixes, s.GPSRMS)
}

// PositionErrors returns the norm of the position error of each record.
func (ts *TimeSeries) PositionErrors() []float64 {
	errs := make([]float64, len(ts.Records))
	for i, rec := range ts.Records {
		x, y := rec.Position()
		errs[i] = math.Hypot(x-rec.Truth.X, y-rec.Truth.Y)
	}
	return errs
}

// ErrorStats returns the error statistics of the records from index `from` onward, which
// allows excluding the initial transient.
func (ts *TimeSeries) ErrorStats(from int) ErrorStats {
	if from < 0 {
		from = 0
	}
	stats := ErrorStats{From: from}
	if from >= len(ts.Records) {
		return stats
	}
	window := ts.Records[from:]
	stats.Samples = len(window)

	pos := make([]float64, len(window))
	heading := make([]float64, len(window))
	speed := make([]float64, len(window))
	yawRate := make([]float64, len(window))
	var gps []float64
	for i, rec := range window {
		δ := rec.Error()
		pos[i] = math.Hypot(δ.AtVec(StateX), δ.AtVec(StateY))
		heading[i] = δ.AtVec(StateHeading)
		speed[i] = δ.AtVec(StateSpeed)
		yawRate[i] = δ.AtVec(StateYawRate)
		if rec.GPS != nil {
			gps = append(gps, math.Hypot(rec.GPS.X-rec.Truth.X, rec.GPS.Y-rec.Truth.Y))
		}
	}
	stats.PositionMSE = meanSquare(pos)
	stats.PositionRMS = math.Sqrt(stats.PositionMSE)
	stats.MaxPosition = floats.Max(pos)
	stats.HeadingRMS = rms(heading)
	stats.SpeedRMS = rms(speed)
	stats.YawRateRMS = rms(yawRate)
	stats.GPSFixes = len(gps)
	if len(gps) > 0 {
		stats.GPSRMS = rms(gps)
	}
	return stats
}

// SteadyState returns the error statistics of the last fraction of the records.
func (ts *TimeSeries) SteadyState(fraction float64) ErrorStats {
	fraction = math.Max(0, math.Min(1, fraction))
	n := len(ts.Records)
	return ts.ErrorStats(n - int(math.Ceil(fraction*float64(n))))
}

func meanSquare(x []float64) float64 {
	return floats.Dot(x, x) / float64(len(x))
}

func rms(x []float64) float64 {
	return math.Sqrt(stat.Mean(squares(x), nil))
}

func squares(x []float64) []float64 {
	sq := make([]float64, len(x))
	floats.MulTo(sq, x, x)
	return sq
}
