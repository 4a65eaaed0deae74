package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger returns a text logger writing to stderr, or to a rotated file when --log-file is set.
func newLogger(cmd *cobra.Command) (*slog.Logger, io.Closer, error) {
	filename, err := cmd.Flags().GetString("log-file")
	if err != nil {
		return nil, nil, err
	}
	levelName, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, nil, errors.Wrapf(err, "log level %q", levelName)
	}
	opts := &slog.HandlerOptions{Level: level}
	if filename == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nopCloser{}, nil
	}
	lj := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	return slog.New(slog.NewTextHandler(lj, opts)), lj, nil
}
