package gofusion

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// StateHeaders are the names of the state components.
var StateHeaders = []string{"x", "y", "heading", "speed", "yawRate", "accelBias", "gyroBias"}

// MonteCarloRuns stores MC runs.
type MonteCarloRuns struct {
	runs, steps int
	Runs        []*TimeSeries
}

// MonteCarlo runs the simulation `runs` times on at most `workers` goroutines. Run r uses
// the seed cfg.Seed+r and its own sensors and filter, so the result does not depend on the
// number of workers.
func MonteCarlo(ctx context.Context, cfg Config, runs, workers int, opts ...Option) (*MonteCarloRuns, error) {
	if runs < 1 {
		return nil, invalidConfig("at least one run is required, got %d", runs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	results := make([]*TimeSeries, runs)
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for r := 0; r < runs; r++ {
		runCfg := cfg
		runCfg.Seed = cfg.Seed + uint64(r)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sim, err := NewSimulation(runCfg, opts...)
			if err != nil {
				return err
			}
			ts, err := sim.Run()
			if err != nil {
				return errors.Wrapf(err, "run #%d (seed %d)", r, runCfg.Seed)
			}
			results[r] = ts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &MonteCarloRuns{runs: runs, steps: cfg.NumTicks(), Runs: results}, nil
}

// Len returns the number of runs.
func (mc *MonteCarloRuns) Len() int {
	return mc.runs
}

// Steps returns the number of ticks of each run.
func (mc *MonteCarloRuns) Steps() int {
	return mc.steps
}

// errorSamples returns the estimation error of each run at the given step, per state component.
func (mc *MonteCarloRuns) errorSamples(step int) [][]float64 {
	samples := make([][]float64, StateSize)
	for i := range samples {
		samples[i] = make([]float64, mc.runs)
	}
	for r, run := range mc.Runs {
		δ := run.Records[step].Error()
		for i := 0; i < StateSize; i++ {
			samples[i][r] = δ.AtVec(i)
		}
	}
	return samples
}

// Mean returns the mean estimation error of all the samples for the given time step.
func (mc *MonteCarloRuns) Mean(step int) []float64 {
	means := make([]float64, StateSize)
	for i, s := range mc.errorSamples(step) {
		means[i] = stat.Mean(s, nil)
	}
	return means
}

// StdDev returns the standard deviation of the estimation error of all the samples for the
// given time step. Requires at least two runs.
func (mc *MonteCarloRuns) StdDev(step int) []float64 {
	devs := make([]float64, StateSize)
	for i, s := range mc.errorSamples(step) {
		devs[i] = stat.StdDev(s, nil)
	}
	return devs
}

// PositionMSE returns the mean squared position error of the runs from step `from` onward.
func (mc *MonteCarloRuns) PositionMSE(from int) float64 {
	mse := make([]float64, mc.runs)
	for r, run := range mc.Runs {
		mse[r] = run.ErrorStats(from).PositionMSE
	}
	return stat.Mean(mse, nil)
}

// AsCSV is used as a CSV serializer of the estimation errors, one file per state component.
// Each file has a header line followed by one line per step.
func (mc *MonteCarloRuns) AsCSV(headers []string) []string {
	rtn := make([]string, StateSize)
	means := make([][]float64, mc.steps)
	devs := make([][]float64, mc.steps)
	for k := 0; k < mc.steps; k++ {
		means[k] = mc.Mean(k)
		devs[k] = mc.StdDev(k)
	}

	for i := 0; i < StateSize; i++ {
		header := headers[i]
		lines := make([]string, mc.steps+1) // One line per step, plus header.
		cols := make([]string, 0, mc.runs+3)
		cols = append(cols, "t")
		for rNo := 0; rNo < mc.runs; rNo++ {
			cols = append(cols, fmt.Sprintf("%s-%d", header, rNo))
		}
		lines[0] = strings.Join(append(cols, header+"-mean", header+"-stddev"), ",")

		for k := 0; k < mc.steps; k++ {
			vals := make([]string, 0, mc.runs+3)
			vals = append(vals, fmt.Sprintf("%f", mc.Runs[0].Records[k].Time))
			for _, run := range mc.Runs {
				vals = append(vals, fmt.Sprintf("%f", run.Records[k].Error().AtVec(i)))
			}
			vals = append(vals, fmt.Sprintf("%f", means[k][i]), fmt.Sprintf("%f", devs[k][i]))
			lines[k+1] = strings.Join(vals, ",")
		}
		rtn[i] = strings.Join(lines, "\n")
	}
	return rtn
}

// Variant is a named modification of a base configuration.
type Variant struct {
	Name  string
	Apply func(*Config)
	Err   error // set when the variant cannot be applied
}

// GPSPeriodVariants returns one variant per GPS period, in ticks. A zero period would
// silently fall back to the configured rate, so periods must be at least one tick.
func GPSPeriodVariants(periods ...int) []Variant {
	variants := make([]Variant, len(periods))
	for i, p := range periods {
		variants[i] = Variant{Name: fmt.Sprintf("gps-period=%d", p), Apply: func(c *Config) { c.GPS.Period = p }}
		if p < 1 {
			variants[i].Err = invalidConfig("GPS period must be at least one tick, got %d", p)
		}
	}
	return variants
}

// GPSNoiseVariants returns one variant per GPS noise standard deviation, in meters.
func GPSNoiseVariants(noises ...float64) []Variant {
	variants := make([]Variant, len(noises))
	for i, n := range noises {
		variants[i] = Variant{Name: fmt.Sprintf("gps-noise=%g", n), Apply: func(c *Config) { c.GPS.Noise = n }}
	}
	return variants
}

// AccelNoiseVariants returns one variant per accelerometer noise standard deviation.
func AccelNoiseVariants(noises ...float64) []Variant {
	variants := make([]Variant, len(noises))
	for i, n := range noises {
		variants[i] = Variant{Name: fmt.Sprintf("accel-noise=%g", n), Apply: func(c *Config) { c.IMU.AccelNoise = n }}
	}
	return variants
}

// SweepResult summarizes the Monte Carlo runs of a variant.
type SweepResult struct {
	Name        string
	Config      Config
	PositionMSE float64 // mean over the runs, after the transient
	PositionRMS float64 // mean over the runs, after the transient
	GPSRMS      float64 // mean over the runs, after the transient
}

func (r SweepResult) String() string {
	return fmt.Sprintf("%s: pos MSE=%.5f m² RMS=%.4f m (GPS %.4f m)", r.Name, r.PositionMSE, r.PositionRMS, r.GPSRMS)
}

// Sweep runs `runs` Monte Carlo simulations of each variant of the base configuration.
// Statistics skip the first `from` ticks of each run. Variants are processed sequentially
// and the runs of a variant in parallel.
func Sweep(ctx context.Context, base Config, variants []Variant, runs, workers, from int, opts ...Option) ([]SweepResult, error) {
	results := make([]SweepResult, len(variants))
	for v, variant := range variants {
		if variant.Err != nil {
			return nil, errors.Wrapf(variant.Err, "variant %s", variant.Name)
		}
		cfg := base
		// Slices are shared with the base configuration.
		cfg.Filter.InitialCovariance = append([]float64(nil), base.Filter.InitialCovariance...)
		variant.Apply(&cfg)
		mc, err := MonteCarlo(ctx, cfg, runs, workers, opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "variant %s", variant.Name)
		}
		res := SweepResult{Name: variant.Name, Config: cfg}
		rms := make([]float64, runs)
		gps := make([]float64, runs)
		for r, run := range mc.Runs {
			stats := run.ErrorStats(from)
			rms[r] = stats.PositionRMS
			gps[r] = stats.GPSRMS
		}
		res.PositionMSE = mc.PositionMSE(from)
		res.PositionRMS = stat.Mean(rms, nil)
		res.GPSRMS = stat.Mean(gps, nil)
		results[v] = res
	}
	return results, nil
}
