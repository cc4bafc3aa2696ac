// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package zen derives temperature, voltage, power, and clock readings
// for AMD family 17h, 19h, and 1Ah processors from raw register and
// telemetry-table samples.
//
// The model-specific parts are data: [Lookup] maps a (family, model)
// pair to a [Revision] holding the SMN addresses and feature flags for
// that silicon, and the decode helpers ([Vid], [ThermalTemperature],
// [CCDTemperature], [CoreClock], [TSCMultiplier]) are pure functions of
// their register inputs.
//
// [Engine] runs one update cycle per [Engine.Update] call:
//
//  1. Package stage, pinned to the first logical processor: power unit,
//     package energy, time-stamp counter, P-state 0; then the telemetry
//     table; then the SMN bus stage under the bus lock (thermal, SVI
//     telemetry, per-CCD temperatures).
//  2. Core stage, per node and core: core registers pinned to the
//     core's first thread, then MPERF/APERF pinned to each thread.
//  3. Processor aggregates.
//
// Failures inside a cycle never propagate. A metric whose inputs could
// not be read keeps its last published value; one that was never
// computed stays inactive.
package zen
