// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package affinity

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/cputel/lib/clock"
	"github.com/bureau-foundation/cputel/lib/hwaccess"
)

// DefaultBusTimeout is the bounded wait for the configuration bus.
const DefaultBusTimeout = 10 * time.Millisecond

// pollInterval is how often Acquire retries a held lock.
const pollInterval = time.Millisecond

// FileMutex is a named mutex shared across processes through an
// advisory lock on a file. Every process that opens the same path
// contends for the same lock. Goroutines within one process contend on
// an in-process mutex first, since the file lock is per open file.
type FileMutex struct {
	path  string
	file  *os.File
	clock clock.Clock
	local sync.Mutex
}

// NewFileMutex opens (creating if needed) the lock file at path.
func NewFileMutex(path string, c clock.Clock) (*FileMutex, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening bus lock %s: %w", path, err)
	}
	return &FileMutex{path: path, file: file, clock: c}, nil
}

// Acquire takes the lock, polling until timeout elapses. On timeout it
// returns an error wrapping [hwaccess.ErrBusContention].
func (m *FileMutex) Acquire(timeout time.Duration) (func(), error) {
	deadline := m.clock.Now().Add(timeout)
	for {
		if m.local.TryLock() {
			locked, err := tryLockFile(m.file)
			if err != nil {
				m.local.Unlock()
				return nil, fmt.Errorf("locking %s: %w: %w", m.path, hwaccess.ErrUnavailable, err)
			}
			if locked {
				var once sync.Once
				return func() {
					once.Do(func() {
						unlockFile(m.file)
						m.local.Unlock()
					})
				}, nil
			}
			m.local.Unlock()
		}

		if !m.clock.Now().Before(deadline) {
			return nil, fmt.Errorf("waited %v for %s: %w", timeout, m.path, hwaccess.ErrBusContention)
		}
		m.clock.Sleep(pollInterval)
	}
}

// Path returns the lock file path.
func (m *FileMutex) Path() string { return m.path }

// Close releases the lock file. Any held lock is dropped by the kernel.
func (m *FileMutex) Close() error {
	return m.file.Close()
}
