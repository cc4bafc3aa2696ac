// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package devfs is the Linux register backend. It reaches hardware
// through the kernel's device files:
//
//   - /dev/cpu/N/msr and /dev/cpu/N/cpuid (msr and cpuid modules)
//   - /sys/bus/pci/devices/0000:BB:DD.F/config
//   - /dev/port and /dev/mem
//   - the ryzen_smu driver's sysfs directory for the telemetry table
//
// MSR operations address the processor the calling thread is pinned
// to, so callers pin through affinity.OS before reading.
//
// All paths resolve under a configurable root so tests can point the
// backend at a synthetic tree. Permission failures wrap
// hwaccess.ErrAccessDenied; every other failure wraps
// hwaccess.ErrUnavailable. On non-Linux platforms [Open] returns
// hwaccess.ErrUnavailable.
package devfs
