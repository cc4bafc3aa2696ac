// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/cputel/lib/affinity"
	"github.com/bureau-foundation/cputel/lib/clock"
	"github.com/bureau-foundation/cputel/lib/hwaccess"
	"github.com/bureau-foundation/cputel/lib/regcache"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("session closed")

// Host bridge SMN index/data pair.
const (
	smnAddress       = 0x00
	smnIndexRegister = 0x60
	smnDataRegister  = 0x64
)

// Config describes the resources a Session takes ownership of.
type Config struct {
	// Port is required.
	Port hwaccess.Port

	// Mailbox is optional. Without it the telemetry table is never
	// consulted and register decoding is the only source.
	Mailbox hwaccess.Mailbox

	// Pinner defaults to affinity.Nop.
	Pinner affinity.Pinner

	// Bus defaults to affinity.Nop.
	Bus affinity.BusLock

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// ConfigTTL, TableTTL, TableCapacity, and BusTimeout fall back to
	// the regcache and affinity defaults when zero.
	ConfigTTL     time.Duration
	TableTTL      time.Duration
	TableCapacity int
	BusTimeout    time.Duration
}

// Session is an open handle on the hardware.
type Session struct {
	port       hwaccess.Port
	mailbox    hwaccess.Mailbox
	pinner     affinity.Pinner
	bus        affinity.BusLock
	clock      clock.Clock
	logger     *slog.Logger
	busTimeout time.Duration

	config *regcache.ConfigCache
	table  *regcache.TableCache

	// deniedWrites remembers writes the backend refused for privilege;
	// they are not attempted again.
	deniedWrites map[writeKey]struct{}

	closeOnce sync.Once
	closed    bool
}

type writeKey struct {
	kind    string
	address uint64
	index   uint32
}

// Open validates cfg and returns a Session owning its resources.
func Open(cfg Config) (*Session, error) {
	if cfg.Port == nil {
		return nil, fmt.Errorf("opening session: no register port: %w", hwaccess.ErrUnavailable)
	}
	if cfg.Pinner == nil {
		cfg.Pinner = affinity.Nop{}
	}
	if cfg.Bus == nil {
		cfg.Bus = affinity.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BusTimeout <= 0 {
		cfg.BusTimeout = affinity.DefaultBusTimeout
	}

	logger := cfg.Logger.With("component", "session")
	s := &Session{
		port:         cfg.Port,
		mailbox:      cfg.Mailbox,
		pinner:       cfg.Pinner,
		bus:          cfg.Bus,
		clock:        cfg.Clock,
		logger:       logger,
		busTimeout:   cfg.BusTimeout,
		config:       regcache.NewConfigCache(cfg.Port, cfg.Clock, cfg.ConfigTTL, logger),
		deniedWrites: make(map[writeKey]struct{}),
	}
	if cfg.Mailbox != nil {
		s.table = regcache.NewTableCache(cfg.Mailbox, cfg.Clock, cfg.TableTTL, cfg.TableCapacity)
	}
	return s, nil
}

// Close releases the port, mailbox, and bus lock when they implement
// io.Closer. Close is idempotent.
func (s *Session) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.closed = true
		seen := make(map[any]bool)
		for _, resource := range []any{s.port, s.mailbox, s.bus} {
			closer, ok := resource.(io.Closer)
			if !ok || seen[resource] {
				continue
			}
			seen[resource] = true
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Clock returns the session clock.
func (s *Session) Clock() clock.Clock { return s.clock }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// HasMailbox reports whether a telemetry mailbox is attached.
func (s *Session) HasMailbox() bool { return s.mailbox != nil }

// Pin binds the caller to cpu. The release function restores the
// previous binding and must run on every path, typically via defer.
func (s *Session) Pin(cpu int) (func(), error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.pinner.Pin(cpu)
}

// ReadMSR reads a model-specific register on the pinned processor.
func (s *Session) ReadMSR(index uint32) (uint64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	value, err := s.port.ReadMSR(index)
	if err != nil {
		return 0, fmt.Errorf("msr 0x%08x: %w", index, err)
	}
	return value, nil
}

// WriteMSR writes a model-specific register on the pinned processor.
// A write refused for privilege is remembered and not attempted again.
func (s *Session) WriteMSR(index uint32, value uint64) error {
	if s.closed {
		return ErrClosed
	}
	key := writeKey{kind: "msr", index: index}
	if _, denied := s.deniedWrites[key]; denied {
		return fmt.Errorf("msr 0x%08x write previously denied: %w", index, hwaccess.ErrAccessDenied)
	}
	if err := s.port.WriteMSR(index, value); err != nil {
		if errors.Is(err, hwaccess.ErrAccessDenied) {
			s.deniedWrites[key] = struct{}{}
		}
		return fmt.Errorf("msr 0x%08x write: %w", index, err)
	}
	return nil
}

// ReadConfig reads a configuration-space dword through the cache.
func (s *Session) ReadConfig(address, register uint32) (uint32, error) {
	if s.closed {
		return 0, ErrClosed
	}
	return s.config.Read(address, register)
}

// WriteConfig writes a configuration-space dword through the cache.
func (s *Session) WriteConfig(address, register, value uint32) error {
	if s.closed {
		return ErrClosed
	}
	key := writeKey{kind: "config", address: uint64(address), index: register}
	if _, denied := s.deniedWrites[key]; denied {
		return fmt.Errorf("config 0x%x/0x%x write previously denied: %w", address, register, hwaccess.ErrAccessDenied)
	}
	if err := s.config.Write(address, register, value); err != nil {
		if errors.Is(err, hwaccess.ErrAccessDenied) {
			s.deniedWrites[key] = struct{}{}
		}
		return err
	}
	return nil
}

// LockBus acquires the configuration-bus mutex with the session's
// bounded wait. A timeout returns an error wrapping
// hwaccess.ErrBusContention.
func (s *Session) LockBus() (func(), error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.bus.Acquire(s.busTimeout)
}

// ReadSMN reads a System Management Network register through the host
// bridge index/data pair. The caller must hold the bus lock.
func (s *Session) ReadSMN(address uint32) (uint32, error) {
	if err := s.WriteConfig(smnAddress, smnIndexRegister, address); err != nil {
		return 0, fmt.Errorf("smn 0x%08x index: %w", address, err)
	}
	value, err := s.ReadConfig(smnAddress, smnDataRegister)
	if err != nil {
		return 0, fmt.Errorf("smn 0x%08x data: %w", address, err)
	}
	return value, nil
}

// TableVersion resolves the telemetry table layout version.
func (s *Session) TableVersion() (uint32, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if s.mailbox == nil {
		return 0, fmt.Errorf("telemetry table: no mailbox: %w", hwaccess.ErrUnavailable)
	}
	version, _, err := s.mailbox.ResolveTable()
	if err != nil {
		return 0, fmt.Errorf("resolving telemetry table: %w", err)
	}
	return version, nil
}

// TableHead returns the first words entries of the telemetry table,
// served from the table cache when fresh.
func (s *Session) TableHead(words int) ([]uint32, time.Time, error) {
	if s.closed {
		return nil, time.Time{}, ErrClosed
	}
	if s.table == nil {
		return nil, time.Time{}, fmt.Errorf("telemetry table: no mailbox: %w", hwaccess.ErrUnavailable)
	}
	return s.table.Head(words)
}
