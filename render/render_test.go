package render

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ChristopherRabotin/gofusion"
	"github.com/stretchr/testify/require"
)

func series(t *testing.T) *gofusion.TimeSeries {
	t.Helper()
	cfg := gofusion.DefaultConfig()
	cfg.Ticks = 50
	sim, err := gofusion.NewSimulation(cfg)
	require.NoError(t, err)
	ts, err := sim.Run()
	require.NoError(t, err)
	return ts
}

func requirePNG(t *testing.T, path string) {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(content, []byte("\x89PNG")), "%s is not a PNG", path)
}

func TestAll(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, All(series(t), dir))
	for _, f := range []string{TrajectoryFile, ErrorFile, CovarianceFile} {
		requirePNG(t, filepath.Join(dir, f))
	}
}

func TestEmpty(t *testing.T) {
	ts := &gofusion.TimeSeries{}
	_, err := Trajectory(ts)
	require.Error(t, err)
	_, err = Errors(ts)
	require.Error(t, err)
	_, err = Covariance(ts)
	require.Error(t, err)
	_, err = NEES(gofusion.ConsistencyReport{})
	require.Error(t, err)
	require.Error(t, All(ts, t.TempDir()))
}

func TestNEES(t *testing.T) {
	cfg := gofusion.DefaultConfig()
	cfg.Ticks = 30
	runs, err := gofusion.MonteCarlo(context.Background(), cfg, 4, 2)
	require.NoError(t, err)
	rep, err := gofusion.NewConsistencyReport(runs.Runs, 0.95)
	require.NoError(t, err)
	p, err := NEES(rep)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), NEESFile)
	require.NoError(t, Save(p, path))
	requirePNG(t, path)
}

func TestSaveFail(t *testing.T) {
	p, err := Trajectory(series(t))
	require.NoError(t, err)
	require.Error(t, Save(p, "/noNoNoNo/fusion.png"))
}
