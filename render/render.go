// Package render draws the time series of a simulation to PNG files.
package render

import (
	"math"
	"path/filepath"

	"github.com/ChristopherRabotin/gofusion"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// File names written by All.
const (
	TrajectoryFile = "fusion.png"
	ErrorFile      = "error_metrics.png"
	CovarianceFile = "covariance.png"
	NEESFile       = "nees.png"
)

var (
	width  = 8 * vg.Inch
	height = 5 * vg.Inch
)

var errEmpty = errors.New("nothing to plot")

// Trajectory plots the true and estimated paths, with the GPS fixes as points.
func Trajectory(ts *gofusion.TimeSeries) (*plot.Plot, error) {
	if len(ts.Records) == 0 {
		return nil, errEmpty
	}
	truth := make(plotter.XYs, len(ts.Records))
	est := make(plotter.XYs, len(ts.Records))
	var fixes plotter.XYs
	for i, rec := range ts.Records {
		truth[i].X, truth[i].Y = rec.Truth.X, rec.Truth.Y
		est[i].X, est[i].Y = rec.Position()
		if rec.GPS != nil {
			fixes = append(fixes, plotter.XY{X: rec.GPS.X, Y: rec.GPS.Y})
		}
	}

	p := plot.New()
	p.Title.Text = "IMU/GPS fusion: " + ts.Meta.Trajectory
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())
	if err := plotutil.AddLines(p, "truth", truth, "EKF", est); err != nil {
		return nil, err
	}
	if len(fixes) > 0 {
		if err := plotutil.AddScatters(p, "GPS", fixes); err != nil {
			return nil, err
		}
	}
	p.Legend.Top = true
	return p, nil
}

// Errors plots the position error of the estimate over time and the error of the raw GPS fixes.
func Errors(ts *gofusion.TimeSeries) (*plot.Plot, error) {
	if len(ts.Records) == 0 {
		return nil, errEmpty
	}
	pos := make(plotter.XYs, len(ts.Records))
	var gps plotter.XYs
	for i, rec := range ts.Records {
		δ := rec.Error()
		pos[i].X = rec.Time
		pos[i].Y = math.Hypot(δ.AtVec(gofusion.StateX), δ.AtVec(gofusion.StateY))
		if rec.GPS != nil {
			gps = append(gps, plotter.XY{X: rec.Time, Y: math.Hypot(rec.GPS.X-rec.Truth.X, rec.GPS.Y-rec.Truth.Y)})
		}
	}

	p := plot.New()
	p.Title.Text = "Position error"
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "error (m)"
	p.Add(plotter.NewGrid())
	if err := plotutil.AddLines(p, "EKF", pos); err != nil {
		return nil, err
	}
	if len(gps) > 0 {
		if err := plotutil.AddScatters(p, "GPS", gps); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Covariance plots the 1σ uncertainty of the position and heading over time.
func Covariance(ts *gofusion.TimeSeries) (*plot.Plot, error) {
	if len(ts.Records) == 0 {
		return nil, errEmpty
	}
	sx := make(plotter.XYs, len(ts.Records))
	sy := make(plotter.XYs, len(ts.Records))
	sθ := make(plotter.XYs, len(ts.Records))
	for i, rec := range ts.Records {
		P := rec.Covariance
		sx[i] = plotter.XY{X: rec.Time, Y: math.Sqrt(P.At(gofusion.StateX, gofusion.StateX))}
		sy[i] = plotter.XY{X: rec.Time, Y: math.Sqrt(P.At(gofusion.StateY, gofusion.StateY))}
		sθ[i] = plotter.XY{X: rec.Time, Y: math.Sqrt(P.At(gofusion.StateHeading, gofusion.StateHeading))}
	}

	p := plot.New()
	p.Title.Text = "Covariance (1σ)"
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "σ"
	p.Add(plotter.NewGrid())
	if err := plotutil.AddLines(p, "x (m)", sx, "y (m)", sy, "heading (rad)", sθ); err != nil {
		return nil, err
	}
	return p, nil
}

// NEES plots the average NEES of a consistency report with its acceptance bounds.
func NEES(rep gofusion.ConsistencyReport) (*plot.Plot, error) {
	if len(rep.Times) == 0 {
		return nil, errEmpty
	}
	nees := make(plotter.XYs, len(rep.Times))
	for i, t := range rep.Times {
		nees[i] = plotter.XY{X: t, Y: rep.NEES[i]}
	}
	first, last := rep.Times[0], rep.Times[len(rep.Times)-1]
	lo := plotter.XYs{{X: first, Y: rep.NEESBounds[0]}, {X: last, Y: rep.NEESBounds[0]}}
	hi := plotter.XYs{{X: first, Y: rep.NEESBounds[1]}, {X: last, Y: rep.NEESBounds[1]}}

	p := plot.New()
	p.Title.Text = "NEES"
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "average NEES"
	p.Add(plotter.NewGrid())
	if err := plotutil.AddLines(p, "NEES", nees, "lower bound", lo, "upper bound", hi); err != nil {
		return nil, err
	}
	return p, nil
}

// Save writes the plot to a PNG file.
func Save(p *plot.Plot, path string) error {
	return errors.Wrapf(p.Save(width, height, path), "saving %s", path)
}

// All writes the trajectory, error and covariance plots of the time series to dir.
func All(ts *gofusion.TimeSeries, dir string) error {
	for _, fig := range []struct {
		file string
		draw func(*gofusion.TimeSeries) (*plot.Plot, error)
	}{
		{TrajectoryFile, Trajectory},
		{ErrorFile, Errors},
		{CovarianceFile, Covariance},
	} {
		p, err := fig.draw(ts)
		if err != nil {
			return errors.Wrapf(err, "drawing %s", fig.file)
		}
		if err := Save(p, filepath.Join(dir, fig.file)); err != nil {
			return err
		}
	}
	return nil
}
