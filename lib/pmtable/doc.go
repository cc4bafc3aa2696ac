// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pmtable describes the telemetry table published by the SMU
// (the management microcontroller on Zen packages) and chooses which
// of its fields stand in for the register-decoded metrics.
//
// The table is an array of little-endian IEEE-754 float32 words whose
// meaning depends on the table version the mailbox reports. A [Layout]
// maps word indices to named sensors for one version. Layouts are
// authored as JSONC (JSON with comments and trailing commas): a set is
// embedded in the binary ([Builtin]) and an operator-supplied file can
// add or replace versions ([ReadFile], [Layouts.Merge]).
//
// Field selection is a weighted name match. [SelectTemperature] and
// [SelectPackagePower] score every candidate field by substrings of its
// name; the weights are configurable through [Weights].
package pmtable
