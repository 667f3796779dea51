package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"fleetalert/internal/app"
	"fleetalert/internal/clock"
	"fleetalert/internal/config"
)

// main starts the fleet alert service from one TOML config file.
// Params: CLI flag (--config-file).
// Returns: process exit code by startup/run result.
func main() {
	configFile := flag.String("config-file", "fleetalert.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	service, err := app.NewService(cfg, clock.RealClock{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}
