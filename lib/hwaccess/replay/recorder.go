// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/cputel/lib/affinity"
	"github.com/bureau-foundation/cputel/lib/clock"
	"github.com/bureau-foundation/cputel/lib/hwaccess"
	"github.com/bureau-foundation/cputel/lib/topology"
)

// Recorder forwards to a live backend and records every operation.
// It implements hwaccess.Port, hwaccess.Mailbox, and affinity.Pinner.
// A Recorder is safe for concurrent use, but a trace only replays
// deterministically when operations were issued from one goroutine.
type Recorder struct {
	port    hwaccess.Port
	mailbox hwaccess.Mailbox
	pinner  affinity.Pinner
	clock   clock.Clock

	mu      sync.Mutex
	trace   Trace
	current int
}

// NewRecorder wraps a backend. mailbox may be nil when the platform
// has no telemetry table; the Recorder's mailbox methods then report
// hwaccess.ErrUnavailable.
func NewRecorder(port hwaccess.Port, mailbox hwaccess.Mailbox, pinner affinity.Pinner, base clock.Clock) *Recorder {
	return &Recorder{
		port:    port,
		mailbox: mailbox,
		pinner:  pinner,
		clock:   base,
		current: -1,
		trace: Trace{
			Mailbox: mailbox != nil,
			Started: base.Now(),
		},
	}
}

// SetTopology stores the identity and topology records the trace was
// taken on.
func (r *Recorder) SetTopology(identity topology.Identity, records []topology.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace.Identity = identity
	r.trace.Records = slices.Clone(records)
}

// Trace returns a snapshot of the recording so far.
func (r *Recorder) Trace() *Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.trace
	snapshot.Records = slices.Clone(r.trace.Records)
	snapshot.Events = slices.Clone(r.trace.Events)
	return &snapshot
}

// Clock returns a clock whose Now readings are recorded. Pass it as the
// session clock so that replay reproduces every timestamp.
func (r *Recorder) Clock() clock.Clock { return recordingClock{r} }

func (r *Recorder) record(event Event, err error) {
	event.Err, event.Message = classify(err)
	r.mu.Lock()
	defer r.mu.Unlock()
	event.CPU = r.current
	if event.At.IsZero() {
		event.At = r.clock.Now()
	}
	r.trace.Events = append(r.trace.Events, event)
}

// Pin pins through the wrapped Pinner and attributes subsequent
// operations to cpu until release.
func (r *Recorder) Pin(cpu int) (func(), error) {
	release, err := r.pinner.Pin(cpu)
	r.record(Event{Op: OpPin, A: uint64(cpu)}, err)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	previous := r.current
	r.current = cpu
	r.mu.Unlock()

	return func() {
		release()
		r.mu.Lock()
		r.current = previous
		r.mu.Unlock()
	}, nil
}

func (r *Recorder) ReadMSR(index uint32) (uint64, error) {
	value, err := r.port.ReadMSR(index)
	r.record(Event{Op: OpReadMSR, A: uint64(index), Value: value}, err)
	return value, err
}

func (r *Recorder) WriteMSR(index uint32, value uint64) error {
	err := r.port.WriteMSR(index, value)
	r.record(Event{Op: OpWriteMSR, A: uint64(index), Value: value}, err)
	return err
}

func (r *Recorder) ReadPort8(port uint16) (uint8, error) {
	value, err := r.port.ReadPort8(port)
	r.record(Event{Op: OpReadPort8, A: uint64(port), Value: uint64(value)}, err)
	return value, err
}

func (r *Recorder) WritePort8(port uint16, value uint8) error {
	err := r.port.WritePort8(port, value)
	r.record(Event{Op: OpWritePort8, A: uint64(port), Value: uint64(value)}, err)
	return err
}

func (r *Recorder) ReadConfig(address, register uint32) (uint32, error) {
	value, err := r.port.ReadConfig(address, register)
	r.record(Event{Op: OpReadConfig, A: uint64(address), B: uint64(register), Value: uint64(value)}, err)
	return value, err
}

func (r *Recorder) WriteConfig(address, register, value uint32) error {
	err := r.port.WriteConfig(address, register, value)
	r.record(Event{Op: OpWriteConfig, A: uint64(address), B: uint64(register), Value: uint64(value)}, err)
	return err
}

func (r *Recorder) ReadPhysical(address uint64, count int) ([]byte, error) {
	data, err := r.port.ReadPhysical(address, count)
	r.record(Event{Op: OpReadPhysical, A: address, B: uint64(count), Data: slices.Clone(data)}, err)
	return data, err
}

func (r *Recorder) TableVersion() (uint32, error) {
	if r.mailbox == nil {
		return 0, fmt.Errorf("no telemetry mailbox: %w", hwaccess.ErrUnavailable)
	}
	version, err := r.mailbox.TableVersion()
	r.record(Event{Op: OpTableVersion, Value: uint64(version)}, err)
	return version, err
}

func (r *Recorder) CodeName() (uint32, error) {
	if r.mailbox == nil {
		return 0, fmt.Errorf("no telemetry mailbox: %w", hwaccess.ErrUnavailable)
	}
	code, err := r.mailbox.CodeName()
	r.record(Event{Op: OpCodeName, Value: uint64(code)}, err)
	return code, err
}

func (r *Recorder) ResolveTable() (uint32, uint64, error) {
	if r.mailbox == nil {
		return 0, 0, fmt.Errorf("no telemetry mailbox: %w", hwaccess.ErrUnavailable)
	}
	version, base, err := r.mailbox.ResolveTable()
	r.record(Event{Op: OpResolveTable, B: base, Value: uint64(version)}, err)
	return version, base, err
}

func (r *Recorder) RequestTableRefresh() error {
	if r.mailbox == nil {
		return fmt.Errorf("no telemetry mailbox: %w", hwaccess.ErrUnavailable)
	}
	err := r.mailbox.RequestTableRefresh()
	r.record(Event{Op: OpRequestTableRefresh}, err)
	return err
}

func (r *Recorder) ReadTableHead(words int) ([]uint32, error) {
	if r.mailbox == nil {
		return nil, fmt.Errorf("no telemetry mailbox: %w", hwaccess.ErrUnavailable)
	}
	head, err := r.mailbox.ReadTableHead(words)
	r.record(Event{Op: OpReadTableHead, A: uint64(words), Words: slices.Clone(head)}, err)
	return head, err
}

type recordingClock struct{ recorder *Recorder }

func (c recordingClock) Now() time.Time {
	now := c.recorder.clock.Now()
	c.recorder.record(Event{Op: OpNow, At: now}, nil)
	return now
}

func (c recordingClock) NewTicker(d time.Duration) *clock.Ticker {
	return c.recorder.clock.NewTicker(d)
}

func (c recordingClock) Sleep(d time.Duration) { c.recorder.clock.Sleep(d) }
