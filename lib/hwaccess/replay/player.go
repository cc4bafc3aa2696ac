// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/cputel/lib/clock"
	"github.com/bureau-foundation/cputel/lib/hwaccess"
	"github.com/bureau-foundation/cputel/lib/topology"
)

type eventKey struct {
	op   Op
	cpu  int
	a, b uint64
}

// Player serves a recorded trace. It implements hwaccess.Port,
// hwaccess.Mailbox, and affinity.Pinner.
type Player struct {
	trace *Trace
	fake  *clock.FakeClock

	mu      sync.Mutex
	queues  map[eventKey][]Event
	now     []time.Time
	current int
	served  int
}

// NewPlayer indexes trace for playback. The player's clock starts at
// the trace's start time.
func NewPlayer(trace *Trace) *Player {
	p := &Player{
		trace:   trace,
		fake:    clock.Fake(trace.Started),
		queues:  make(map[eventKey][]Event),
		current: -1,
	}
	for _, event := range trace.Events {
		if event.Op == OpNow {
			p.now = append(p.now, event.At)
			continue
		}
		key := eventKey{op: event.Op, cpu: event.CPU, a: event.A, b: event.B}
		if event.Op == OpResolveTable {
			// B carries the resolved base, not an argument.
			key.b = 0
		}
		p.queues[key] = append(p.queues[key], event)
	}
	return p
}

// Identity returns the recorded processor identity.
func (p *Player) Identity() topology.Identity { return p.trace.Identity }

// Records returns the recorded topology records.
func (p *Player) Records() []topology.Record { return slices.Clone(p.trace.Records) }

// HasMailbox reports whether the recorded backend had a telemetry
// mailbox.
func (p *Player) HasMailbox() bool { return p.trace.Mailbox }

// Clock returns the playback clock. Now serves recorded readings in
// order, then holds at the last one.
func (p *Player) Clock() clock.Clock { return playerClock{p} }

// Time returns the playback position without consuming a recorded
// clock reading.
func (p *Player) Time() time.Time { return p.fake.Now() }

// Done reports whether every recorded clock reading has been served.
// A decoder that reads the clock once per cycle has then replayed its
// final cycle.
func (p *Player) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.now) == 0
}

// Served returns the number of events served so far.
func (p *Player) Served() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.served
}

func (p *Player) next(op Op, a, b uint64) (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := eventKey{op: op, cpu: p.current, a: a, b: b}
	queue := p.queues[key]
	if len(queue) == 0 {
		return Event{}, false
	}
	event := queue[0]
	p.queues[key] = queue[1:]
	p.served++
	p.fake.Set(event.At)
	return event, true
}

func (p *Player) read(op Op, a, b uint64) (Event, error) {
	event, ok := p.next(op, a, b)
	if !ok {
		return Event{}, fmt.Errorf("no recorded %s (cpu %d, 0x%x, 0x%x): %w",
			op, p.pinned(), a, b, hwaccess.ErrUnavailable)
	}
	return event, event.replayError()
}

func (p *Player) write(op Op, a, b uint64) error {
	event, ok := p.next(op, a, b)
	if !ok {
		return nil
	}
	return event.replayError()
}

func (p *Player) pinned() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Pin attributes subsequent operations to cpu until release.
func (p *Player) Pin(cpu int) (func(), error) {
	if event, ok := p.next(OpPin, uint64(cpu), 0); ok {
		if err := event.replayError(); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	previous := p.current
	p.current = cpu
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.current = previous
		p.mu.Unlock()
	}, nil
}

func (p *Player) ReadMSR(index uint32) (uint64, error) {
	event, err := p.read(OpReadMSR, uint64(index), 0)
	return event.Value, err
}

func (p *Player) WriteMSR(index uint32, value uint64) error {
	return p.write(OpWriteMSR, uint64(index), 0)
}

func (p *Player) ReadPort8(port uint16) (uint8, error) {
	event, err := p.read(OpReadPort8, uint64(port), 0)
	return uint8(event.Value), err
}

func (p *Player) WritePort8(port uint16, value uint8) error {
	return p.write(OpWritePort8, uint64(port), 0)
}

func (p *Player) ReadConfig(address, register uint32) (uint32, error) {
	event, err := p.read(OpReadConfig, uint64(address), uint64(register))
	return uint32(event.Value), err
}

func (p *Player) WriteConfig(address, register, value uint32) error {
	return p.write(OpWriteConfig, uint64(address), uint64(register))
}

func (p *Player) ReadPhysical(address uint64, count int) ([]byte, error) {
	event, err := p.read(OpReadPhysical, address, uint64(count))
	return slices.Clone(event.Data), err
}

func (p *Player) TableVersion() (uint32, error) {
	event, err := p.read(OpTableVersion, 0, 0)
	return uint32(event.Value), err
}

func (p *Player) CodeName() (uint32, error) {
	event, err := p.read(OpCodeName, 0, 0)
	return uint32(event.Value), err
}

func (p *Player) ResolveTable() (uint32, uint64, error) {
	event, err := p.read(OpResolveTable, 0, 0)
	return uint32(event.Value), event.B, err
}

func (p *Player) RequestTableRefresh() error {
	return p.write(OpRequestTableRefresh, 0, 0)
}

func (p *Player) ReadTableHead(words int) ([]uint32, error) {
	event, err := p.read(OpReadTableHead, uint64(words), 0)
	return slices.Clone(event.Words), err
}

type playerClock struct{ player *Player }

func (c playerClock) Now() time.Time {
	p := c.player
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.now) == 0 {
		return p.fake.Now()
	}
	now := p.now[0]
	p.now = p.now[1:]
	p.fake.Set(now)
	return now
}

func (c playerClock) NewTicker(d time.Duration) *clock.Ticker { return c.player.fake.NewTicker(d) }

func (c playerClock) Sleep(d time.Duration) { c.player.fake.Sleep(d) }
