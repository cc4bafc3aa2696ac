// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwaccess

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable reports that the backend could not service the
	// operation: unsupported on this silicon, device absent, or the
	// backend itself is not present on this host.
	ErrUnavailable = errors.New("register access unavailable")

	// ErrAccessDenied reports insufficient privilege for the operation.
	ErrAccessDenied = errors.New("register access denied")

	// ErrImplausible reports a decoded or derived value outside a
	// physically sane range (negative elapsed time, counter rate above
	// the ceiling, non-finite result).
	ErrImplausible = errors.New("implausible reading")

	// ErrBusContention reports that the shared configuration-space bus
	// mutex could not be acquired within its bounded wait.
	ErrBusContention = errors.New("configuration bus contention")

	// ErrMisaligned reports a configuration-space register offset that
	// is not a multiple of four.
	ErrMisaligned = errors.New("configuration register not dword aligned")
)

// Port is the single-operation register access contract. All methods
// are synchronous and may block inside the backend.
type Port interface {
	// ReadMSR reads a model-specific register on the logical processor
	// the calling thread is pinned to.
	ReadMSR(index uint32) (uint64, error)

	// WriteMSR writes a model-specific register on the pinned logical
	// processor.
	WriteMSR(index uint32, value uint64) error

	// ReadPort8 reads one byte from an I/O port.
	ReadPort8(port uint16) (uint8, error)

	// WritePort8 writes one byte to an I/O port.
	WritePort8(port uint16, value uint8) error

	// ReadConfig reads a configuration-space dword. The address is a
	// packed bus/device/function (see [PCIAddress]); register must be
	// 4-byte aligned.
	ReadConfig(address, register uint32) (uint32, error)

	// WriteConfig writes a configuration-space dword.
	WriteConfig(address, register, value uint32) error

	// ReadPhysical reads count bytes of physical memory.
	ReadPhysical(address uint64, count int) ([]byte, error)
}

// Mailbox is the SMU telemetry-table protocol.
type Mailbox interface {
	// TableVersion returns the PM table layout version.
	TableVersion() (uint32, error)

	// CodeName returns the SMU's numeric silicon code name.
	CodeName() (uint32, error)

	// ResolveTable returns the table version and the physical base
	// address the SMU publishes the table at. Backends that expose
	// the table without a physical address return base 0.
	ResolveTable() (version uint32, base uint64, err error)

	// RequestTableRefresh asks the SMU to transfer a fresh snapshot.
	RequestTableRefresh() error

	// ReadTableHead returns the first words entries of the table as
	// raw 32-bit words.
	ReadTableHead(words int) ([]uint32, error)
}

// PCIAddress packs a bus/device/function triple into the address form
// used by [Port.ReadConfig]: bus in bits 15:8, device in 7:3, function
// in 2:0.
func PCIAddress(bus, device, function uint8) uint32 {
	return uint32(bus)<<8 | uint32(device&0x1F)<<3 | uint32(function&0x7)
}

// SplitPCIAddress is the inverse of [PCIAddress].
func SplitPCIAddress(address uint32) (bus, device, function uint8) {
	return uint8(address >> 8), uint8((address >> 3) & 0x1F), uint8(address & 0x7)
}

// CheckAligned returns an error wrapping [ErrMisaligned] if register
// is not a dword offset.
func CheckAligned(register uint32) error {
	if register&3 != 0 {
		return fmt.Errorf("register 0x%x: %w", register, ErrMisaligned)
	}
	return nil
}

// Skippable reports whether err is one of the per-cycle conditions the
// decoder absorbs (skip and keep the last value) rather than a fault
// in the caller.
func Skippable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrImplausible) ||
		errors.Is(err, ErrBusContention)
}
