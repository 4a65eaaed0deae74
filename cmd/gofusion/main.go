package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/ChristopherRabotin/gofusion"
	"github.com/ChristopherRabotin/gofusion/render"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func main() {
	cobra.CheckErr(NewCmd().ExecuteContext(context.Background()))
}

func NewCmd() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "gofusion [command] [flags]",
		Short:         "gofusion simulates IMU/GPS fusion with an extended Kalman filter",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "`<path>` to the YAML configuration, defaults are used if empty")
	rootCmd.PersistentFlags().StringP("out", "o", ".", "`<dir>` where the outputs are written")
	rootCmd.PersistentFlags().Uint64("seed", 0, "overrides the seed of the configuration if not zero")
	rootCmd.PersistentFlags().String("log-file", "", "`<path>` of the rotated log file, stderr if empty")
	rootCmd.PersistentFlags().String("log-level", "info", "DEBUG,INFO,WARN,ERROR")

	runCmd := &cobra.Command{
		Use:   "run [flags]",
		Short: "Run a single simulation",
		RunE:  doRun,
	}
	runCmd.Flags().Bool("plots", true, "draw the trajectory, error and covariance plots")
	runCmd.Flags().Bool("json", false, "also write the run as JSON lines, metadata first")
	runCmd.Flags().Float64("origin-lon", 0, "longitude of the local frame origin for the GeoJSON output")
	runCmd.Flags().Float64("origin-lat", 0, "latitude of the local frame origin for the GeoJSON output")

	mcCmd := &cobra.Command{
		Use:   "montecarlo [flags]",
		Short: "Run independent simulations and test the filter consistency",
		RunE:  doMonteCarlo,
	}
	mcCmd.Flags().IntP("runs", "n", 50, "number of runs")
	mcCmd.Flags().IntP("workers", "w", 0, "number of runs in parallel, unlimited if zero")
	mcCmd.Flags().Float64("confidence", 0.95, "confidence of the Chi square tests")

	sweepCmd := &cobra.Command{
		Use:   "sweep [flags] <gps-period|gps-noise|accel-noise>",
		Short: "Compare the position error over a range of parameter values",
		RunE:  doSweep,
	}
	sweepCmd.Args = cobra.ExactArgs(1)
	sweepCmd.Flags().Float64Slice("values", nil, "parameter values")
	sweepCmd.Flags().IntP("runs", "n", 20, "number of runs per value")
	sweepCmd.Flags().IntP("workers", "w", 0, "number of runs in parallel, unlimited if zero")
	sweepCmd.Flags().Int("from", 0, "first tick of the statistics")
	sweepCmd.MarkFlagRequired("values")

	rootCmd.AddCommand(
		runCmd,
		mcCmd,
		sweepCmd,
	)
	return rootCmd
}

func loadConfig(cmd *cobra.Command) (gofusion.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return gofusion.Config{}, err
	}
	cfg := gofusion.DefaultConfig()
	if path != "" {
		if cfg, err = gofusion.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	seed, err := cmd.Flags().GetUint64("seed")
	if err != nil {
		return cfg, err
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	return cfg, nil
}

func outDir(cmd *cobra.Command) (string, error) {
	dir, err := cmd.Flags().GetString("out")
	if err != nil {
		return "", err
	}
	return dir, os.MkdirAll(dir, 0o755)
}

func doRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir, err := outDir(cmd)
	if err != nil {
		return err
	}
	plots, err := cmd.Flags().GetBool("plots")
	if err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	lon, err := cmd.Flags().GetFloat64("origin-lon")
	if err != nil {
		return err
	}
	lat, err := cmd.Flags().GetFloat64("origin-lat")
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	sim, err := gofusion.NewSimulation(cfg, gofusion.WithLogger(logger))
	if err != nil {
		return err
	}
	ts, err := sim.Run()
	if err != nil {
		return err
	}

	ce, err := gofusion.NewCSVExporter(dir, "run.csv")
	if err != nil {
		return err
	}
	if err := gofusion.Export(ce, ts); err != nil {
		return err
	}
	ge, err := gofusion.NewGeoJSONExporter(filepath.Join(dir, "run.geojson"), orb.Point{lon, lat})
	if err != nil {
		return err
	}
	if err := gofusion.Export(ge, ts); err != nil {
		return err
	}
	if asJSON {
		je, err := gofusion.NewJSONExporter(filepath.Join(dir, "run.json"), ts.Meta)
		if err != nil {
			return err
		}
		if err := gofusion.Export(je, ts); err != nil {
			return err
		}
	}
	if plots {
		if err := render.All(ts, dir); err != nil {
			return err
		}
	}
	logger.Info("outputs written", "dir", dir)
	cmd.Println(ts.ErrorStats(0))
	cmd.Println("steady state:", ts.SteadyState(0.5))
	return nil
}

func doMonteCarlo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir, err := outDir(cmd)
	if err != nil {
		return err
	}
	runs, err := cmd.Flags().GetInt("runs")
	if err != nil {
		return err
	}
	workers, err := cmd.Flags().GetInt("workers")
	if err != nil {
		return err
	}
	confidence, err := cmd.Flags().GetFloat64("confidence")
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	mc, err := gofusion.MonteCarlo(cmd.Context(), cfg, runs, workers, gofusion.WithLogger(logger))
	if err != nil {
		return err
	}
	for i, content := range mc.AsCSV(gofusion.StateHeaders) {
		path := filepath.Join(dir, fmt.Sprintf("mc-%s.csv", gofusion.StateHeaders[i]))
		if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
			return err
		}
	}
	rep, err := gofusion.NewConsistencyReport(mc.Runs, confidence)
	if err != nil {
		return err
	}
	p, err := render.NEES(rep)
	if err != nil {
		return err
	}
	if err := render.Save(p, filepath.Join(dir, render.NEESFile)); err != nil {
		return err
	}
	cmd.Println(rep)
	cmd.Printf("position MSE: %.5f m²\n", mc.PositionMSE(0))
	return nil
}

func doSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	values, err := cmd.Flags().GetFloat64Slice("values")
	if err != nil {
		return err
	}
	runs, err := cmd.Flags().GetInt("runs")
	if err != nil {
		return err
	}
	workers, err := cmd.Flags().GetInt("workers")
	if err != nil {
		return err
	}
	from, err := cmd.Flags().GetInt("from")
	if err != nil {
		return err
	}
	var variants []gofusion.Variant
	switch args[0] {
	case "gps-period":
		periods := make([]int, len(values))
		for i, v := range values {
			if v < 1 || v != math.Trunc(v) {
				return errors.Errorf("GPS periods must be whole numbers of ticks of at least 1, got %g", v)
			}
			periods[i] = int(v)
		}
		variants = gofusion.GPSPeriodVariants(periods...)
	case "gps-noise":
		variants = gofusion.GPSNoiseVariants(values...)
	case "accel-noise":
		variants = gofusion.AccelNoiseVariants(values...)
	default:
		return errors.Errorf("unknown sweep parameter %q", args[0])
	}
	logger, closer, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	results, err := gofusion.Sweep(cmd.Context(), cfg, variants, runs, workers, from, gofusion.WithLogger(logger))
	if err != nil {
		return err
	}
	for _, res := range results {
		cmd.Println(res)
	}
	return nil
}
