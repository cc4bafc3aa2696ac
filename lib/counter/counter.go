// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package counter

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bureau-foundation/cputel/lib/hwaccess"
)

// ErrBaseline is returned by a sample that only established the
// baseline for the next one.
var ErrBaseline = errors.New("counter: baseline sample")

// DefaultMaxRateHz bounds a plausible counter rate. Deltas implying a
// faster counter come from a missed wrap or a reset and are dropped.
const DefaultMaxRateHz = 20e9

// Wrap32Delta returns the difference between two readings of a 32-bit
// accumulator that may have wrapped once between them.
//
// The difference is modular: across a wrap it is one more than
// (0xFFFFFFFF - previous) + current, because the step from 0xFFFFFFFF
// to 0 is itself a count. Wrap32Delta(0xFFFFFFF0, 5) is 0x15.
func Wrap32Delta(previous, current uint32) uint32 {
	return current - previous
}

// Energy samples a 32-bit energy accumulator. The zero value is ready
// to use.
type Energy struct {
	seeded bool
	last   uint32
	at     time.Time
}

// EnergySample is the accumulator movement between two samples.
type EnergySample struct {
	Delta   uint32
	Elapsed time.Duration
}

// Sample records raw taken at now. It returns [ErrBaseline] on the first
// call and [hwaccess.ErrImplausible] (re-seeding the baseline) when now
// does not advance past the previous sample.
func (e *Energy) Sample(raw uint32, now time.Time) (EnergySample, error) {
	if !e.seeded {
		e.reseed(raw, now)
		return EnergySample{}, ErrBaseline
	}

	elapsed := now.Sub(e.at)
	if elapsed <= 0 {
		e.reseed(raw, now)
		return EnergySample{}, fmt.Errorf("%w: energy sample elapsed %v", hwaccess.ErrImplausible, elapsed)
	}

	sample := EnergySample{Delta: Wrap32Delta(e.last, raw), Elapsed: elapsed}
	e.last = raw
	e.at = now
	return sample, nil
}

// Reset forgets the baseline.
func (e *Energy) Reset() { e.seeded = false }

func (e *Energy) reseed(raw uint32, now time.Time) {
	e.seeded = true
	e.last = raw
	e.at = now
}

// Power converts the sample to watts given the joules represented by
// one accumulator count.
func (s EnergySample) Power(unitJoules float64) (float64, error) {
	seconds := s.Elapsed.Seconds()
	if seconds <= 0 {
		return 0, fmt.Errorf("%w: energy sample elapsed %v", hwaccess.ErrImplausible, s.Elapsed)
	}
	watts := float64(s.Delta) * unitJoules / seconds
	if math.IsNaN(watts) || math.IsInf(watts, 0) {
		return 0, fmt.Errorf("%w: power %v", hwaccess.ErrImplausible, watts)
	}
	return watts, nil
}

// Thread samples the MPERF (reference) and APERF (actual) counters of
// one logical processor. The zero value is ready to use.
type Thread struct {
	seeded    bool
	reference uint64
	actual    uint64
	at        time.Time

	referenceDelta uint64
	actualDelta    uint64
	duration       time.Duration
	rateHz         float64
}

// Sample records a reading taken at now and returns the effective
// clock rate in Hz, round(actualDelta / seconds).
//
// A counter going backwards resets the baseline. A delta implying a
// rate above ceilingHz (when positive) is zeroed, and any zero delta
// invalidates the baseline; both cases return [hwaccess.ErrImplausible].
func (t *Thread) Sample(reference, actual uint64, now time.Time, ceilingHz float64) (float64, error) {
	if t.seeded && (reference < t.reference || actual < t.actual) {
		t.seeded = false
	}
	if !t.seeded {
		t.seed(reference, actual, now)
		return 0, ErrBaseline
	}

	t.duration = now.Sub(t.at)
	t.referenceDelta = reference - t.reference
	t.actualDelta = actual - t.actual
	t.reference = reference
	t.actual = actual
	t.at = now

	if t.duration <= 0 {
		t.referenceDelta = 0
		t.actualDelta = 0
		return 0, fmt.Errorf("%w: counter sample duration %v", hwaccess.ErrImplausible, t.duration)
	}

	seconds := t.duration.Seconds()
	if ceilingHz > 0 {
		if float64(t.referenceDelta)/seconds > ceilingHz {
			t.referenceDelta = 0
		}
		if float64(t.actualDelta)/seconds > ceilingHz {
			t.actualDelta = 0
		}
	}

	if t.referenceDelta == 0 || t.actualDelta == 0 {
		t.seeded = false
		return 0, fmt.Errorf("%w: zero counter delta (reference %d, actual %d)",
			hwaccess.ErrImplausible, t.referenceDelta, t.actualDelta)
	}

	t.rateHz = math.Round(float64(t.actualDelta) / seconds)
	return t.rateHz, nil
}

func (t *Thread) seed(reference, actual uint64, now time.Time) {
	t.seeded = true
	t.reference = reference
	t.actual = actual
	t.at = now
	t.referenceDelta = 0
	t.actualDelta = 0
	t.duration = 0
}

// Valid reports whether the last sample produced both deltas over a
// positive duration.
func (t *Thread) Valid() bool {
	return t.referenceDelta > 0 && t.actualDelta > 0 && t.duration > 0
}

// ReferenceDelta returns the MPERF movement of the last sample.
func (t *Thread) ReferenceDelta() uint64 { return t.referenceDelta }

// ActualDelta returns the APERF movement of the last sample.
func (t *Thread) ActualDelta() uint64 { return t.actualDelta }

// Duration returns the time covered by the last sample.
func (t *Thread) Duration() time.Duration { return t.duration }

// RateHz returns the last emitted effective rate. It is only meaningful
// when [Thread.Valid] has been true at least once.
func (t *Thread) RateHz() float64 { return t.rateHz }
