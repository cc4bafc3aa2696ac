// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Cputel reads AMD Zen processor telemetry: temperatures, voltages,
// power, and clocks. It decodes model-specific registers, the SMN
// thermal and voltage registers, and the SMU's power-management table,
// and prints readings every interval.
//
// Live operation needs the msr and cpuid kernel modules and root. The
// ryzen_smu driver is optional; without it the register sources are
// used. A run can be recorded to a trace file and replayed later on any
// machine with --backend replay.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/cputel/lib/config"
	"github.com/bureau-foundation/cputel/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// flags holds command-line values. Flags the user did not set leave the
// configuration file's values alone.
type flags struct {
	configPath  string
	interval    time.Duration
	cycles      int
	backend     string
	record      string
	replay      string
	compression string
	listen      string
	logLevel    string
	format      string
	showVersion bool
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	var f flags
	flagSet := pflag.NewFlagSet("cputel", pflag.ContinueOnError)
	flagSet.StringVar(&f.configPath, "config", "", "YAML configuration file (default: $"+config.EnvVar+")")
	flagSet.DurationVarP(&f.interval, "interval", "i", time.Second, "time between update cycles")
	flagSet.IntVarP(&f.cycles, "cycles", "n", 0, "stop after this many cycles (0 runs until interrupted)")
	flagSet.StringVar(&f.backend, "backend", string(config.Devfs), "register backend: devfs or replay")
	flagSet.StringVar(&f.record, "record", "", "record every register access to this trace file")
	flagSet.StringVar(&f.replay, "replay", "", "replay this trace file (implies --backend replay)")
	flagSet.StringVar(&f.compression, "compression", "zstd", "trace compression: none, lz4, or zstd")
	flagSet.StringVar(&f.listen, "listen", "", "serve Prometheus metrics on this address")
	flagSet.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	flagSet.StringVarP(&f.format, "format", "o", "auto", "output format: auto, text, json, or none")
	flagSet.BoolVar(&f.showVersion, "version", false, "print version information and exit")
	flagSet.SetOutput(io.Discard)
	if err := flagSet.Parse(args); err != nil {
		return nil, flagSet, err
	}
	if flagSet.NArg() > 0 {
		return nil, flagSet, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	return &f, flagSet, nil
}

// loadConfig loads the configuration file and applies flag overrides.
func loadConfig(f *flags, flagSet *pflag.FlagSet) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if flagSet.Changed("interval") {
		cfg.Interval = f.interval
	}
	if flagSet.Changed("cycles") {
		cfg.Cycles = f.cycles
	}
	if flagSet.Changed("backend") {
		cfg.Backend = config.Backend(f.backend)
	}
	if flagSet.Changed("record") {
		cfg.Trace.Record = f.record
	}
	if flagSet.Changed("replay") {
		cfg.Trace.Replay = f.replay
		if !flagSet.Changed("backend") {
			cfg.Backend = config.Replay
		}
	}
	if flagSet.Changed("compression") {
		cfg.Trace.Compression = f.compression
	}
	if flagSet.Changed("listen") {
		cfg.Metrics.Listen = f.listen
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger writes human-readable logs to a terminal and JSON
// otherwise.
func newLogger(output *os.File, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(output.Fd())) {
		return slog.New(slog.NewTextHandler(output, options))
	}
	return slog.New(slog.NewJSONHandler(output, options))
}

func run(args []string) error {
	f, flagSet, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		printHelp(flagSet)
		return nil
	}
	if err != nil {
		return err
	}
	if f.showVersion {
		fmt.Println(version.Read())
		return nil
	}

	cfg, err := loadConfig(f, flagSet)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, level)
	slog.SetDefault(logger)

	outputFormat, err := resolveFormat(f.format, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return monitor(ctx, cfg, &printer{format: outputFormat, writer: os.Stdout}, logger)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `cputel reads AMD Zen processor telemetry.

Usage:
  cputel [flags]

Examples:
  # Print readings every second until interrupted (needs root)
  sudo cputel

  # Ten cycles, recorded for later analysis
  sudo cputel -n 10 --record /tmp/zen.trace

  # Replay a recording as JSON lines
  cputel --replay /tmp/zen.trace -o json

Flags:
%s`, flagSet.FlagUsages())
}
