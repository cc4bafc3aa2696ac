// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package promexport exposes published sensor readings as Prometheus
// gauges.
//
// [Collector] reads its [sensor.Source] on every scrape rather than
// mirroring values into registered gauges, so a scrape always sees the
// readings of the latest completed update cycle. Each category maps to
// one metric family with a "sensor" label carrying the reading name:
//
//	cputel_temperature_celsius{sensor="Core (Tctl/Tdie)"} 48.25
//	cputel_power_watts{sensor="Package"} 31.7
//
// Inactive readings are not exported.
package promexport
