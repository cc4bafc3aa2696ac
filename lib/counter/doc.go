// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package counter turns successive raw hardware counter readings into
// rates.
//
// Two samplers cover the counters the metric engine reads:
//
//   - [Energy] follows a 32-bit energy accumulator (package or core
//     RAPL-style status register) and reports the wrapped delta and the
//     elapsed time between samples. [EnergySample.Power] converts that
//     into watts once the caller supplies the joules-per-count unit.
//
//   - [Thread] follows the 64-bit MPERF/APERF pair of one logical
//     processor and derives its effective clock.
//
// Both samplers take the sample time from the caller so that replayed
// traces produce identical results. The first sample after construction
// (or after a reset) only seeds the baseline and returns [ErrBaseline].
package counter
