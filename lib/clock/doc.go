// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for the decoder.
//
// Every time-dependent decision in cputel goes through a Clock: sample
// timestamps for energy and cycle counters, cache time-to-live checks,
// the bounded bus-mutex wait, and the update-cycle ticker. Production
// code uses Real(). Tests and trace replay use Fake(), which stands
// still until Advance or Set moves it.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	cache := regcache.NewConfigCache(port, c, 5*time.Second, logger)
//	cache.Read(address, 0x64)
//	c.Advance(6 * time.Second) // the next read misses
//
// FakeClock.Sleep advances the fake time instead of blocking, so
// polling loops (the bus mutex wait) terminate deterministically on a
// single goroutine.
package clock
