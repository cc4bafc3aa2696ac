// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwaccess defines the register access boundary between the
// telemetry decoder and whatever privileged transport actually touches
// the hardware.
//
// A [Port] performs single operations: model-specific register reads
// and writes, 8-bit I/O port access, PCI configuration-space dword
// access, and physical memory reads. A [Mailbox] exposes the SMU
// telemetry table. Implementations live in subpackages (devfs for a
// live Linux host, replay for recorded traces) or in tests.
//
// Failures are classified with the sentinel errors declared here so
// callers can react with errors.Is regardless of the backend:
//
//   - [ErrUnavailable]: the operation is not supported or the device
//     is absent. Skip the metric for this cycle.
//   - [ErrAccessDenied]: insufficient privilege.
//   - [ErrImplausible]: a decoded value is outside the physically sane
//     range.
//   - [ErrBusContention]: the shared configuration-space bus could not
//     be acquired within its bounded wait.
//
// MSR reads are processor-local: a Port answers for whichever logical
// processor the calling OS thread is pinned to. Callers pin first (see
// lib/affinity) and then read.
package hwaccess
