// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package affinity coordinates access to processor-local and shared
// hardware resources.
//
// Two scoped guards are provided, both returning a release function
// that callers defer:
//
//   - [Pinner.Pin] binds the calling goroutine's OS thread to one
//     logical processor so that model-specific register reads return
//     that processor's values. Release restores the previous affinity
//     mask and unlocks the OS thread.
//   - [BusLock.Acquire] takes the machine-wide mutex guarding the PCI
//     configuration index/data register pair. The wait is bounded;
//     a timeout returns [hwaccess.ErrBusContention] and the caller skips
//     its bus reads for the cycle instead of retrying.
//
// [OS] is the Linux sched_setaffinity implementation. [FileMutex] is a
// flock(2)-based named mutex shared by every process that opens the
// same lock path.
package affinity
