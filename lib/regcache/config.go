// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package regcache

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/cputel/lib/clock"
	"github.com/bureau-foundation/cputel/lib/hwaccess"
)

// DefaultConfigTTL is how long a configuration-space read stays cached.
const DefaultConfigTTL = 5 * time.Second

// identificationRegister is probed once per function to detect presence.
const identificationRegister = 0x00

// absentVendor is what a read of the vendor ID returns when no function
// decodes the address.
const absentVendor = 0xFFFF

// Function identifies one PCI function.
type Function struct {
	Bus      uint8
	Device   uint8
	Function uint8
}

// FunctionOf unpacks a packed configuration address.
func FunctionOf(address uint32) Function {
	bus, device, function := hwaccess.SplitPCIAddress(address)
	return Function{Bus: bus, Device: device, Function: function}
}

type configKey struct {
	address  uint32
	register uint32
}

type configEntry struct {
	value   uint32
	fetched time.Time
}

// ConfigCache wraps a Port's configuration-space accessors with
// presence memoization and a TTL value cache.
type ConfigCache struct {
	port   hwaccess.Port
	clock  clock.Clock
	ttl    time.Duration
	logger *slog.Logger

	absent  map[Function]struct{}
	present map[Function]struct{}
	values  map[configKey]configEntry
}

// NewConfigCache creates a cache in front of port. A ttl of zero uses
// [DefaultConfigTTL].
func NewConfigCache(port hwaccess.Port, c clock.Clock, ttl time.Duration, logger *slog.Logger) *ConfigCache {
	if ttl <= 0 {
		ttl = DefaultConfigTTL
	}
	return &ConfigCache{
		port:    port,
		clock:   c,
		ttl:     ttl,
		logger:  logger,
		absent:  make(map[Function]struct{}),
		present: make(map[Function]struct{}),
		values:  make(map[configKey]configEntry),
	}
}

// Present reports whether the function at address responds. The first
// call probes the identification register; the answer for an absent
// function is permanent.
func (c *ConfigCache) Present(address uint32) bool {
	function := FunctionOf(address)
	if _, ok := c.absent[function]; ok {
		return false
	}
	if _, ok := c.present[function]; ok {
		return true
	}

	value, err := c.port.ReadConfig(address, identificationRegister)
	switch {
	case err == nil && value&0xFFFF != absentVendor:
		c.present[function] = struct{}{}
		return true
	case err == nil, errors.Is(err, hwaccess.ErrUnavailable):
		c.absent[function] = struct{}{}
		c.logger.Debug("configuration function absent",
			"bus", function.Bus,
			"device", function.Device,
			"function", function.Function,
			"error", err)
		return false
	default:
		// Denied or transient: not present now, probe again next time.
		c.logger.Debug("configuration presence probe failed",
			"bus", function.Bus,
			"device", function.Device,
			"function", function.Function,
			"error", err)
		return false
	}
}

// Read returns the dword at (address, register), from cache when the
// cached value is younger than the TTL.
func (c *ConfigCache) Read(address, register uint32) (uint32, error) {
	if err := hwaccess.CheckAligned(register); err != nil {
		return 0, err
	}
	if !c.Present(address) {
		return 0, c.absentError(address)
	}

	key := configKey{address: address, register: register}
	now := c.clock.Now()
	if entry, ok := c.values[key]; ok && now.Sub(entry.fetched) < c.ttl {
		return entry.value, nil
	}

	value, err := c.port.ReadConfig(address, register)
	if err != nil {
		return 0, err
	}
	c.values[key] = configEntry{value: value, fetched: now}
	return value, nil
}

// Write stores a dword and invalidates every cached register of the
// same function.
func (c *ConfigCache) Write(address, register, value uint32) error {
	if err := hwaccess.CheckAligned(register); err != nil {
		return err
	}
	if !c.Present(address) {
		return c.absentError(address)
	}
	for key := range c.values {
		if key.address == address {
			delete(c.values, key)
		}
	}
	return c.port.WriteConfig(address, register, value)
}

// Flush drops cached values. Presence knowledge is kept.
func (c *ConfigCache) Flush() {
	clear(c.values)
}

func (c *ConfigCache) absentError(address uint32) error {
	function := FunctionOf(address)
	return fmt.Errorf("pci %02x:%02x.%d absent: %w",
		function.Bus, function.Device, function.Function, hwaccess.ErrUnavailable)
}
