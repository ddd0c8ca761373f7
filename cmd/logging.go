package cmd

import "log/slog"

// setupLogging raises the default slog level to debug when verbose is set.
func setupLogging(verbose bool) {
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}
