// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package replay records hardware access to a trace file and plays it
// back as a register port.
//
// A [Recorder] sits between a session and a real backend. It forwards
// every port, mailbox, and pinning operation, and appends an [Event]
// with the arguments, result, pinned CPU, and time. It also wraps the
// session clock so that every timestamp the decoder observes is part of
// the trace.
//
// A [Player] implements the same interfaces from a recorded trace. It
// serves results per (operation, CPU, arguments) in recording order and
// replays recorded clock readings through a fake clock, so a decoder
// driven by a Player produces exactly the readings it produced live.
// An exhausted or never-recorded key returns hwaccess.ErrUnavailable;
// unmatched writes succeed silently.
//
// Trace files are a CBOR envelope around a compressed CBOR body (none,
// lz4, or zstd), with a keyed BLAKE3 digest of the uncompressed body
// checked on [Load]. [WriteFile] replaces the destination atomically.
package replay
