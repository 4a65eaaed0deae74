package gofusion

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// EstimatedStates returns the rows of P with a positive variance. The others are known
// exactly, like the biases of a sensor configured without bias walk, and are left out of the
// NEES.
func EstimatedStates(P mat.Symmetric) []int {
	var idx []int
	for i := 0; i < P.SymmetricDim(); i++ {
		if P.At(i, i) > 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

// NEES returns the normalized estimation error squared δ'*P⁻¹*δ of a record, where δ is the
// estimation error restricted to the estimated states. Returns an error if the covariance
// of those states is not positive definite.
func NEES(rec Record) (float64, error) {
	idx := EstimatedStates(rec.Covariance)
	if len(idx) == 0 {
		return 0, errors.Wrapf(ErrCovarianceNotPSD, "NEES at tick %d: zero covariance", rec.Tick)
	}
	full := rec.Error()
	δ := mat.NewVecDense(len(idx), nil)
	P := mat.NewSymDense(len(idx), nil)
	for a, i := range idx {
		δ.SetVec(a, full.AtVec(i))
		for b := a; b < len(idx); b++ {
			P.SetSym(a, b, rec.Covariance.At(i, idx[b]))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(P); !ok {
		return 0, errors.Wrapf(ErrCovarianceNotPSD, "NEES at tick %d: covariance is not positive definite", rec.Tick)
	}
	var Piδ mat.VecDense
	if err := chol.SolveVecTo(&Piδ, δ); err != nil {
		return 0, errors.Wrapf(ErrCovarianceNotPSD, "NEES at tick %d: %s", rec.Tick, err)
	}
	return mat.Dot(δ, &Piδ), nil
}

// ChiSquareBounds returns the two-sided acceptance interval of the mean of `runs` independent
// χ² variables of `dof` degrees of freedom at the provided confidence.
func ChiSquareBounds(dof, runs int, confidence float64) (lo, hi float64) {
	α := 1 - confidence
	χ2 := distuv.ChiSquared{K: float64(dof * runs)}
	n := float64(runs)
	return χ2.Quantile(α/2) / n, χ2.Quantile(1-α/2) / n
}

// ConsistencyReport is the result of the NEES and NIS tests of a set of runs. A consistent
// filter has about `Confidence` of its ticks within the bounds.
type ConsistencyReport struct {
	Runs       int
	Confidence float64
	Dof        int // number of estimated states

	Times      []float64 // s, one per tick
	NEES       []float64 // mean over the runs, one per tick
	NEESBounds [2]float64
	NEESWithin float64 // fraction of the ticks within the bounds
	MeanNEES   float64

	FixTimes  []float64 // s, one per GPS fix
	NIS       []float64 // mean over the runs, one per GPS fix
	NISBounds [2]float64
	NISWithin float64 // fraction of the fixes within the bounds
	MeanNIS   float64
}

func (c ConsistencyReport) String() string {
	return fmt.Sprintf("%d runs at %.0f%%: NEES(%d)=%.3f in [%.3f, %.3f] %.1f%% | NIS=%.3f in [%.3f, %.3f] %.1f%%",
		c.Runs, 100*c.Confidence, c.Dof,
		c.MeanNEES, c.NEESBounds[0], c.NEESBounds[1], 100*c.NEESWithin,
		c.MeanNIS, c.NISBounds[0], c.NISBounds[1], 100*c.NISWithin)
}

// NewConsistencyReport runs the Chi square tests on the provided runs, which must share the
// same number of ticks and GPS period.
func NewConsistencyReport(runs []*TimeSeries, confidence float64) (ConsistencyReport, error) {
	if len(runs) == 0 {
		return ConsistencyReport{}, errors.New("Chi square requires at least one run")
	}
	if !(confidence > 0 && confidence < 1) {
		return ConsistencyReport{}, invalidConfig("confidence must be in (0, 1), got %f", confidence)
	}
	steps := len(runs[0].Records)
	for r, run := range runs {
		if len(run.Records) != steps {
			return ConsistencyReport{}, errors.Wrapf(ErrDimensionMismatch, "run #%d has %d ticks instead of %d", r, len(run.Records), steps)
		}
	}

	rep := ConsistencyReport{Runs: len(runs), Confidence: confidence, Dof: StateSize}
	if steps > 0 {
		rep.Dof = len(EstimatedStates(runs[0].Records[steps-1].Covariance))
	}
	lo, hi := ChiSquareBounds(rep.Dof, len(runs), confidence)
	rep.NEESBounds = [2]float64{lo, hi}
	lo, hi = ChiSquareBounds(MeasSize, len(runs), confidence)
	rep.NISBounds = [2]float64{lo, hi}

	NEESsamples := make([]float64, len(runs))
	NISsamples := make([]float64, len(runs))
	for k := 0; k < steps; k++ {
		hasFix := runs[0].Records[k].GPS != nil
		for r, run := range runs {
			rec := run.Records[k]
			nees, err := NEES(rec)
			if err != nil {
				return ConsistencyReport{}, errors.Wrapf(err, "run #%d", r)
			}
			NEESsamples[r] = nees
			if (rec.GPS != nil) != hasFix {
				return ConsistencyReport{}, errors.Wrapf(ErrDimensionMismatch, "run #%d has a different GPS cadence at tick %d", r, rec.Tick)
			}
			NISsamples[r] = rec.NIS
		}
		t := runs[0].Records[k].Time
		rep.Times = append(rep.Times, t)
		rep.NEES = append(rep.NEES, stat.Mean(NEESsamples, nil))
		if hasFix {
			rep.FixTimes = append(rep.FixTimes, t)
			rep.NIS = append(rep.NIS, stat.Mean(NISsamples, nil))
		}
	}

	rep.MeanNEES, rep.NEESWithin = summarize(rep.NEES, rep.NEESBounds)
	rep.MeanNIS, rep.NISWithin = summarize(rep.NIS, rep.NISBounds)
	return rep, nil
}

func summarize(samples []float64, bounds [2]float64) (mean, within float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	in := 0
	for _, s := range samples {
		if s >= bounds[0] && s <= bounds[1] {
			in++
		}
	}
	return stat.Mean(samples, nil), float64(in) / float64(len(samples))
}
