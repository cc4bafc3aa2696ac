// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync"

	"github.com/bureau-foundation/cputel/lib/hwaccess"
)

// Mailbox is an in-memory SMU telemetry mailbox.
type Mailbox struct {
	mu sync.Mutex

	Version uint32
	Code    uint32
	Base    uint64
	Words   []uint32

	// Err, when set, fails every operation.
	Err error

	refreshes int
	reads     int
}

func (m *Mailbox) TableVersion() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Version, m.Err
}

func (m *Mailbox) CodeName() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Code, m.Err
}

func (m *Mailbox) ResolveTable() (uint32, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Version, m.Base, m.Err
}

func (m *Mailbox) RequestTableRefresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return m.Err
}

func (m *Mailbox) ReadTableHead(words int) ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Words) == 0 {
		return nil, fmt.Errorf("empty table: %w", hwaccess.ErrUnavailable)
	}
	if words > len(m.Words) {
		words = len(m.Words)
	}
	head := make([]uint32, words)
	copy(head, m.Words)
	return head, nil
}

// SetWords replaces the table contents.
func (m *Mailbox) SetWords(words []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Words = words
}

// Refreshes returns how many refreshes were requested.
func (m *Mailbox) Refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

// Reads returns how many table reads reached the mailbox.
func (m *Mailbox) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
