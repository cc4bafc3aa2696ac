// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sensor is the publication boundary between metric derivation
// and whatever displays or exports the results.
//
// A [Set] holds named readings keyed by (name, [Category]). A reading
// is registered inactive and becomes active the first time a value is
// published for it; later cycles that cannot compute the metric leave
// the last published value in place. Readings are returned in
// registration order so output is stable across cycles.
package sensor
