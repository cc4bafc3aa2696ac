// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides in-memory hardware fakes shared by cputel
// package tests.
//
// [Port] implements [hwaccess.Port] and [affinity.Pinner] over maps:
// per-CPU MSR values, configuration-space dwords, an emulated SMN
// index/data pair on the host bridge, I/O ports, and physical memory.
// Pin switches the CPU that MSR reads answer for, so tests observe the
// same processor-local semantics as real hardware. Every operation is
// counted so tests can assert that a cache hit never reached the port.
//
// [Mailbox] implements [hwaccess.Mailbox] over a word slice.
//
// Missing entries fail with [hwaccess.ErrUnavailable], matching a
// backend asked for a register the silicon does not implement.
//
// This package is only imported from _test.go files.
package testutil
