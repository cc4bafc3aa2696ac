// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cputel/lib/config"
)

func load(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	t.Setenv(config.EnvVar, "")
	f, flagSet, err := parseFlags(args)
	if err != nil {
		t.Fatalf("parseFlags(%v): %v", args, err)
	}
	return loadConfig(f, flagSet)
}

func TestFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cputel.yaml")
	content := "interval: 5s\ncycles: 7\nmetrics:\n  listen: 127.0.0.1:9100\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := load(t, "--config", path, "-n", "2")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Cycles != 2 {
		t.Errorf("Cycles = %d, want the flag's 2", cfg.Cycles)
	}
	// Unset flags leave file values alone.
	if cfg.Interval != 5*time.Second {
		t.Errorf("Interval = %v, want the file's 5s", cfg.Interval)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9100" {
		t.Errorf("Metrics.Listen = %q, want the file's address", cfg.Metrics.Listen)
	}
}

func TestReplayFlagSelectsBackend(t *testing.T) {
	cfg, err := load(t, "--replay", "/tmp/zen.trace", "--log-level", "debug")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Backend != config.Replay || cfg.Trace.Replay != "/tmp/zen.trace" {
		t.Errorf("Backend = %q, Trace.Replay = %q, want replay of /tmp/zen.trace", cfg.Backend, cfg.Trace.Replay)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestInvalidFlagCombination(t *testing.T) {
	if _, err := load(t, "--backend", "replay"); err == nil {
		t.Error("replay backend without a trace was accepted")
	}
	if _, err := load(t, "--compression", "gzip"); err == nil {
		t.Error("unknown compression was accepted")
	}
}

func TestParseFlagsErrors(t *testing.T) {
	if _, _, err := parseFlags([]string{"--help"}); !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("--help error = %v, want pflag.ErrHelp", err)
	}
	if _, _, err := parseFlags([]string{"--no-such-flag"}); err == nil {
		t.Error("unknown flag accepted")
	}
	if _, _, err := parseFlags([]string{"stray"}); err == nil {
		t.Error("positional argument accepted")
	}
}
