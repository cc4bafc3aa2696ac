// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package regcache sits between the decoder and a [hwaccess.Port] or
// [hwaccess.Mailbox] to suppress redundant bus transactions.
//
// [ConfigCache] memoizes configuration-space function presence (a
// function whose identification register reads back the all-ones
// sentinel is never touched again) and caches dword reads for a short
// time-to-live. Writes invalidate every cached register of the written
// function, which keeps index/data register pairs coherent: writing
// the SMN index at 0x60 drops the stale data word cached at 0x64.
//
// [TableCache] holds the most recent SMU telemetry table head and only
// asks the mailbox for a new transfer when the cached buffer is too
// short or older than its time-to-live.
//
// Neither cache locks. Both are owned by one session whose update
// cycles are serialized.
package regcache
