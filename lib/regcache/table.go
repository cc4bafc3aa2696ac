// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package regcache

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/cputel/lib/clock"
	"github.com/bureau-foundation/cputel/lib/hwaccess"
)

const (
	// DefaultTableTTL bounds how often the SMU is asked for a new
	// table transfer.
	DefaultTableTTL = 250 * time.Millisecond

	// DefaultTableCapacity is the largest table head, in 32-bit words,
	// the cache will hold.
	DefaultTableCapacity = 0x800
)

// TableCache caches the leading words of the SMU telemetry table.
type TableCache struct {
	mailbox  hwaccess.Mailbox
	clock    clock.Clock
	ttl      time.Duration
	capacity int

	words   []uint32
	fetched time.Time
	// requested is the count of the last fetch. The driver may return
	// fewer words; that shorter head still satisfies requests up to it.
	requested int
}

// NewTableCache creates a table cache. Zero ttl or capacity select the
// defaults.
func NewTableCache(mailbox hwaccess.Mailbox, c clock.Clock, ttl time.Duration, capacity int) *TableCache {
	if ttl <= 0 {
		ttl = DefaultTableTTL
	}
	if capacity <= 0 {
		capacity = DefaultTableCapacity
	}
	return &TableCache{
		mailbox:  mailbox,
		clock:    c,
		ttl:      ttl,
		capacity: capacity,
		words:    make([]uint32, 0, capacity),
	}
}

// Head returns the first count words of the table and the time they
// were fetched. count is capped at the cache capacity. The returned
// slice aliases the cache buffer and is valid until the next Head.
func (c *TableCache) Head(count int) ([]uint32, time.Time, error) {
	if count <= 0 {
		return nil, time.Time{}, fmt.Errorf("table head of %d words: %w", count, hwaccess.ErrImplausible)
	}
	if count > c.capacity {
		count = c.capacity
	}

	now := c.clock.Now()
	if c.requested >= count && !c.fetched.IsZero() && now.Sub(c.fetched) < c.ttl {
		return c.words[:min(count, len(c.words))], c.fetched, nil
	}

	if err := c.mailbox.RequestTableRefresh(); err != nil {
		c.Invalidate()
		return nil, time.Time{}, fmt.Errorf("requesting table refresh: %w", err)
	}
	words, err := c.mailbox.ReadTableHead(count)
	if err != nil {
		c.Invalidate()
		return nil, time.Time{}, fmt.Errorf("reading table head: %w", err)
	}
	if len(words) > count {
		words = words[:count]
	}

	c.words = append(c.words[:0], words...)
	c.fetched = now
	c.requested = count
	return c.words, c.fetched, nil
}

// Invalidate forces the next Head to fetch. Head calls it when a fetch
// fails.
func (c *TableCache) Invalidate() {
	c.words = c.words[:0]
	c.fetched = time.Time{}
	c.requested = 0
}
