// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration used for cputel's on-disk
// formats, chiefly hardware traces.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same trace always produces the same bytes, so a digest over the
// encoded body identifies the recording. Timestamps are written as
// RFC 3339 strings with nanosecond precision; the default Unix-seconds
// form would drop the sub-second part that power and clock derivation
// depend on.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Types serialized only as CBOR use `cbor` struct tags. Types that also
// appear in JSON output use `json` tags, which fxamacker/cbor reads as
// a fallback. A field never carries both.
package codec
