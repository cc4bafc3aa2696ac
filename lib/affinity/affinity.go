// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package affinity

import "time"

// Pinner binds the caller to a logical processor for the duration of a
// scope. Pins may nest; releases must run in reverse order.
type Pinner interface {
	Pin(cpu int) (release func(), err error)
}

// BusLock guards the shared configuration-space bus.
type BusLock interface {
	Acquire(timeout time.Duration) (release func(), err error)
}

// Nop is a Pinner and BusLock that does nothing. Backends that address
// processors explicitly (trace replay, tests) use it.
type Nop struct{}

// Pin returns immediately.
func (Nop) Pin(int) (func(), error) { return func() {}, nil }

// Acquire returns immediately.
func (Nop) Acquire(time.Duration) (func(), error) { return func() {}, nil }
