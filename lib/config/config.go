// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/cputel/lib/pmtable"
)

// Backend selects where register values come from.
type Backend string

const (
	// Devfs reads live hardware through the kernel's device files.
	Devfs Backend = "devfs"
	// Replay serves a recorded trace.
	Replay Backend = "replay"
)

// EnvVar names the environment variable [Load] reads.
const EnvVar = "CPUTEL_CONFIG"

// Config is the complete cputel configuration.
type Config struct {
	// Interval is the time between update cycles.
	Interval time.Duration `yaml:"interval"`

	// Cycles bounds the number of update cycles. Zero runs until
	// interrupted.
	Cycles int `yaml:"cycles"`

	// LogLevel is a slog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	Backend Backend `yaml:"backend"`

	Devfs   DevfsConfig   `yaml:"devfs"`
	Trace   TraceConfig   `yaml:"trace"`
	Bus     BusConfig     `yaml:"bus"`
	Cache   CacheConfig   `yaml:"cache"`
	Decode  DecodeConfig  `yaml:"decode"`
	Table   TableConfig   `yaml:"table"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DevfsConfig configures the device-file backend.
type DevfsConfig struct {
	// Root is prepended to every device path. Useful against a copy of
	// a device tree.
	Root string `yaml:"root"`

	// SMUDir is the ryzen_smu driver directory, relative to Root.
	SMUDir string `yaml:"smu_dir"`
}

// TraceConfig configures trace recording and replay.
type TraceConfig struct {
	// Record, when set, writes a trace of every register access to
	// this path on exit.
	Record string `yaml:"record"`

	// Replay is the trace the replay backend serves.
	Replay string `yaml:"replay"`

	// Compression is none, lz4, or zstd.
	Compression string `yaml:"compression"`
}

// BusConfig configures the cross-process configuration bus lock.
type BusConfig struct {
	// LockPath is the lock file shared with other tools that drive the
	// SMN index/data pair. It defaults to [DefaultBusLockPath]; an
	// explicit empty value disables cross-process locking.
	LockPath string `yaml:"lock_path"`

	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig configures register caching.
type CacheConfig struct {
	ConfigTTL     time.Duration `yaml:"config_ttl"`
	TableTTL      time.Duration `yaml:"table_ttl"`
	TableCapacity int           `yaml:"table_capacity"`
}

// DecodeConfig carries decoder constants that vary by platform or
// firmware.
type DecodeConfig struct {
	// TSCMHz fixes the time-stamp counter frequency. Zero estimates it
	// from successive counter readings.
	TSCMHz float64 `yaml:"tsc_mhz"`

	EnergyUnitJoules float64 `yaml:"energy_unit_joules"`
	MaxCounterRateHz float64 `yaml:"max_counter_rate_hz"`
	MaxCCDCelsius    float64 `yaml:"max_ccd_celsius"`
	MaxCCDs          int     `yaml:"max_ccds"`
}

// TableConfig configures telemetry table interpretation.
type TableConfig struct {
	// Layouts is a JSONC file merged over the built-in layouts.
	Layouts string `yaml:"layouts"`

	Weights pmtable.Weights `yaml:"weights"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address /metrics is served on. Empty disables it.
	Listen string `yaml:"listen"`
}

// DefaultBusLockPath is the bus lock every cputel process takes unless
// configured otherwise.
const DefaultBusLockPath = "/run/lock/cputel-pci.lock"

// Default returns the configuration used for keys a file omits.
func Default() *Config {
	return &Config{
		Interval: time.Second,
		LogLevel: "info",
		Backend:  Devfs,
		Devfs: DevfsConfig{
			Root:   "/",
			SMUDir: "sys/kernel/ryzen_smu_drv",
		},
		Trace: TraceConfig{
			Compression: "zstd",
		},
		Bus: BusConfig{
			LockPath: DefaultBusLockPath,
			Timeout:  10 * time.Millisecond,
		},
		Cache: CacheConfig{
			ConfigTTL:     5 * time.Second,
			TableTTL:      250 * time.Millisecond,
			TableCapacity: 0x800,
		},
		Decode: DecodeConfig{
			EnergyUnitJoules: 1e-6,
			MaxCounterRateHz: 20e9,
			MaxCCDCelsius:    125,
			MaxCCDs:          8,
		},
		Table: TableConfig{
			Weights: pmtable.DefaultWeights(),
		},
	}
}

// Load loads the file named by CPUTEL_CONFIG. When the variable is
// unset it returns [Default].
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, overlaying [Default].
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Devfs.Root = expandVars(c.Devfs.Root, vars)
	c.Trace.Record = expandVars(c.Trace.Record, vars)
	c.Trace.Replay = expandVars(c.Trace.Replay, vars)
	c.Bus.LockPath = expandVars(c.Bus.LockPath, vars)
	c.Table.Layouts = expandVars(c.Table.Layouts, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

var compressions = []string{"none", "lz4", "zstd"}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.Cycles < 0 {
		errs = append(errs, fmt.Errorf("cycles must not be negative, got %d", c.Cycles))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	switch c.Backend {
	case Devfs:
		if c.Devfs.Root == "" {
			errs = append(errs, errors.New("devfs.root is required"))
		}
	case Replay:
		if c.Trace.Replay == "" {
			errs = append(errs, errors.New("trace.replay is required by the replay backend"))
		}
		if c.Trace.Record != "" {
			errs = append(errs, errors.New("trace.record cannot be combined with the replay backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend must be one of [devfs replay], got %q", c.Backend))
	}
	if !slices.Contains(compressions, c.Trace.Compression) {
		errs = append(errs, fmt.Errorf("trace.compression must be one of %v, got %q", compressions, c.Trace.Compression))
	}

	if c.Bus.Timeout <= 0 {
		errs = append(errs, errors.New("bus.timeout must be positive"))
	}
	if c.Cache.ConfigTTL < 0 || c.Cache.TableTTL < 0 {
		errs = append(errs, errors.New("cache TTLs must not be negative"))
	}
	if c.Cache.TableCapacity <= 0 {
		errs = append(errs, errors.New("cache.table_capacity must be positive"))
	}

	if c.Decode.TSCMHz < 0 {
		errs = append(errs, errors.New("decode.tsc_mhz must not be negative"))
	}
	if c.Decode.EnergyUnitJoules <= 0 {
		errs = append(errs, errors.New("decode.energy_unit_joules must be positive"))
	}
	if c.Decode.MaxCounterRateHz <= 0 {
		errs = append(errs, errors.New("decode.max_counter_rate_hz must be positive"))
	}
	if c.Decode.MaxCCDCelsius <= 0 {
		errs = append(errs, errors.New("decode.max_ccd_celsius must be positive"))
	}
	if c.Decode.MaxCCDs < 0 {
		errs = append(errs, errors.New("decode.max_ccds must not be negative"))
	}

	weights := c.Table.Weights
	for _, weight := range []float64{weights.Die, weights.Control, weights.Package, weights.Socket, weights.CPU, weights.Exact} {
		if weight < 0 {
			errs = append(errs, errors.New("table.weights must not be negative"))
			break
		}
	}

	return errors.Join(errs...)
}
