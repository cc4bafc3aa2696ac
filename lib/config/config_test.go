// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/cputel/lib/pmtable"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cputel.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Interval != time.Second {
		t.Errorf("Interval = %v, want 1s", cfg.Interval)
	}
	if cfg.Bus.Timeout != 10*time.Millisecond {
		t.Errorf("Bus.Timeout = %v, want 10ms", cfg.Bus.Timeout)
	}
	if cfg.Bus.LockPath != DefaultBusLockPath {
		t.Errorf("Bus.LockPath = %q, want %q", cfg.Bus.LockPath, DefaultBusLockPath)
	}
	if cfg.Cache.TableCapacity != 0x800 {
		t.Errorf("Cache.TableCapacity = 0x%x, want 0x800", cfg.Cache.TableCapacity)
	}
	if cfg.Decode.EnergyUnitJoules != 1e-6 {
		t.Errorf("Decode.EnergyUnitJoules = %v, want 1e-6", cfg.Decode.EnergyUnitJoules)
	}
	if cfg.Table.Weights != pmtable.DefaultWeights() {
		t.Errorf("Table.Weights = %+v, want defaults", cfg.Table.Weights)
	}
}

func TestLoadFileDisablesBusLock(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "bus:\n  lock_path: \"\"\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Bus.LockPath != "" {
		t.Errorf("Bus.LockPath = %q, want empty", cfg.Bus.LockPath)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
interval: 250ms
cycles: 10
log_level: debug
bus:
  lock_path: /run/lock/smn.lock
decode:
  tsc_mhz: 3400
table:
  weights:
    die: 5
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Interval != 250*time.Millisecond {
		t.Errorf("Interval = %v, want 250ms", cfg.Interval)
	}
	if cfg.Cycles != 10 {
		t.Errorf("Cycles = %d, want 10", cfg.Cycles)
	}
	if cfg.Bus.LockPath != "/run/lock/smn.lock" {
		t.Errorf("Bus.LockPath = %q", cfg.Bus.LockPath)
	}
	if cfg.Decode.TSCMHz != 3400 {
		t.Errorf("Decode.TSCMHz = %v, want 3400", cfg.Decode.TSCMHz)
	}
	// Omitted keys keep their defaults.
	if cfg.Bus.Timeout != 10*time.Millisecond {
		t.Errorf("Bus.Timeout = %v, want default 10ms", cfg.Bus.Timeout)
	}
	if cfg.Table.Weights.Die != 5 || cfg.Table.Weights.Exact != pmtable.DefaultWeights().Exact {
		t.Errorf("Table.Weights = %+v, want die 5 and default exact", cfg.Table.Weights)
	}
	level, err := cfg.Level()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("Level() = %v, %v, want debug", level, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFile(absent) succeeded")
	}
	if _, err := LoadFile(writeConfig(t, "interval: [not a duration\n")); err == nil {
		t.Error("LoadFile(malformed) succeeded")
	}
}

func TestLoadUsesEnvironment(t *testing.T) {
	path := writeConfig(t, "cycles: 3\n")
	t.Setenv(EnvVar, path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cycles != 3 {
		t.Errorf("Cycles = %d, want 3", cfg.Cycles)
	}
}

func TestLoadWithoutEnvironmentReturnsDefaults(t *testing.T) {
	t.Setenv(EnvVar, "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interval != Default().Interval {
		t.Errorf("Interval = %v, want default", cfg.Interval)
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("CPUTEL_TRACE_DIR", "/var/tmp/traces")
	path := writeConfig(t, `
trace:
  record: ${CPUTEL_TRACE_DIR}/run.cbor
table:
  layouts: ${HOME}/.config/cputel/layouts.jsonc
bus:
  lock_path: ${CPUTEL_UNSET_FOR_TEST:-/run/lock/cputel-smn.lock}
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	tests := []struct {
		name, got, want string
	}{
		{"trace.record", cfg.Trace.Record, "/var/tmp/traces/run.cbor"},
		{"table.layouts", cfg.Table.Layouts, "/home/tester/.config/cputel/layouts.jsonc"},
		{"bus.lock_path", cfg.Bus.LockPath, "/run/lock/cputel-smn.lock"},
	}
	for _, test := range tests {
		if test.got != test.want {
			t.Errorf("%s = %q, want %q", test.name, test.got, test.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero interval", func(c *Config) { c.Interval = 0 }, "interval"},
		{"negative cycles", func(c *Config) { c.Cycles = -1 }, "cycles"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"unknown backend", func(c *Config) { c.Backend = "pawnio" }, "backend"},
		{"replay without trace", func(c *Config) { c.Backend = Replay }, "trace.replay"},
		{"replay and record", func(c *Config) {
			c.Backend = Replay
			c.Trace.Replay = "in.cbor"
			c.Trace.Record = "out.cbor"
		}, "trace.record"},
		{"compression", func(c *Config) { c.Trace.Compression = "gzip" }, "trace.compression"},
		{"bus timeout", func(c *Config) { c.Bus.Timeout = 0 }, "bus.timeout"},
		{"table capacity", func(c *Config) { c.Cache.TableCapacity = 0 }, "table_capacity"},
		{"energy unit", func(c *Config) { c.Decode.EnergyUnitJoules = 0 }, "energy_unit_joules"},
		{"counter ceiling", func(c *Config) { c.Decode.MaxCounterRateHz = -1 }, "max_counter_rate_hz"},
		{"negative weight", func(c *Config) { c.Table.Weights.Socket = -1 }, "table.weights"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %q", test.wantErr)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, test.wantErr)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Interval = 0
	cfg.Cache.TableCapacity = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, want := range []string{"interval", "table_capacity"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() = %v, missing %q", err, want)
		}
	}
}
