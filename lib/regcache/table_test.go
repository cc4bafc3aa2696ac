// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package regcache

import (
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/cputel/lib/clock"
	"github.com/bureau-foundation/cputel/lib/hwaccess"
	"github.com/bureau-foundation/cputel/lib/testutil"
)

func TestTableCacheReusesWithinTTL(t *testing.T) {
	mailbox := &testutil.Mailbox{Words: []uint32{1, 2, 3, 4, 5, 6, 7, 8}}
	fake := clock.Fake(epoch)
	cache := NewTableCache(mailbox, fake, 250*time.Millisecond, 0)

	head, _, err := cache.Head(8)
	if err != nil {
		t.Fatalf("Head(8): %v", err)
	}
	if len(head) != 8 || head[7] != 8 {
		t.Fatalf("Head(8) = %v", head)
	}

	fake.Advance(100 * time.Millisecond)
	head, _, err = cache.Head(4)
	if err != nil {
		t.Fatalf("Head(4): %v", err)
	}
	if len(head) != 4 || head[3] != 4 {
		t.Errorf("Head(4) = %v, want first four words", head)
	}
	if reads := mailbox.Reads(); reads != 1 {
		t.Errorf("mailbox reads = %d, want 1", reads)
	}
}

func TestTableCacheRefetchesWhenShort(t *testing.T) {
	mailbox := &testutil.Mailbox{Words: []uint32{1, 2, 3, 4, 5, 6, 7, 8}}
	cache := NewTableCache(mailbox, clock.Fake(epoch), time.Second, 0)

	cache.Head(2)
	head, _, err := cache.Head(6)
	if err != nil {
		t.Fatalf("Head(6): %v", err)
	}
	if len(head) != 6 {
		t.Errorf("len(Head(6)) = %d, want 6", len(head))
	}
	if reads := mailbox.Reads(); reads != 2 {
		t.Errorf("mailbox reads = %d, want 2", reads)
	}
	if refreshes := mailbox.Refreshes(); refreshes != 2 {
		t.Errorf("refreshes = %d, want 2", refreshes)
	}
}

func TestTableCacheKeepsShortHead(t *testing.T) {
	mailbox := &testutil.Mailbox{Words: []uint32{1, 2, 3}}
	fake := clock.Fake(epoch)
	cache := NewTableCache(mailbox, fake, 250*time.Millisecond, 0)

	head, _, err := cache.Head(8)
	if err != nil {
		t.Fatalf("Head(8): %v", err)
	}
	if len(head) != 3 {
		t.Fatalf("len(Head(8)) = %d, want 3 from a short table", len(head))
	}

	fake.Advance(100 * time.Millisecond)
	for _, count := range []int{8, 2} {
		head, _, err := cache.Head(count)
		if err != nil {
			t.Fatalf("Head(%d): %v", count, err)
		}
		if want := min(count, 3); len(head) != want {
			t.Errorf("len(Head(%d)) = %d, want %d", count, len(head), want)
		}
	}
	if reads := mailbox.Reads(); reads != 1 {
		t.Errorf("mailbox reads = %d, want 1 within the TTL", reads)
	}
}

func TestTableCacheInvalidatedByFailedFetch(t *testing.T) {
	mailbox := &testutil.Mailbox{Words: []uint32{1, 2, 3, 4}}
	cache := NewTableCache(mailbox, clock.Fake(epoch), time.Second, 0)

	if _, _, err := cache.Head(2); err != nil {
		t.Fatalf("Head(2): %v", err)
	}
	mailbox.Err = hwaccess.ErrUnavailable
	if _, _, err := cache.Head(4); !errors.Is(err, hwaccess.ErrUnavailable) {
		t.Fatalf("Head(4) error = %v, want ErrUnavailable", err)
	}
	mailbox.Err = nil

	head, _, err := cache.Head(2)
	if err != nil {
		t.Fatalf("Head(2) after failure: %v", err)
	}
	if len(head) != 2 || head[1] != 2 {
		t.Errorf("Head(2) = %v, want [1 2]", head)
	}
	// The failed fetch stops at the refresh request.
	if refreshes := mailbox.Refreshes(); refreshes != 3 {
		t.Errorf("refreshes = %d, want 3", refreshes)
	}
	if reads := mailbox.Reads(); reads != 2 {
		t.Errorf("mailbox reads = %d, want 2", reads)
	}
}

func TestTableCacheInvalidate(t *testing.T) {
	mailbox := &testutil.Mailbox{Words: []uint32{1, 2}}
	cache := NewTableCache(mailbox, clock.Fake(epoch), time.Second, 0)

	cache.Head(2)
	cache.Invalidate()
	cache.Head(2)
	if reads := mailbox.Reads(); reads != 2 {
		t.Errorf("mailbox reads = %d, want 2 after Invalidate", reads)
	}
}

func TestTableCacheRefetchesAfterTTL(t *testing.T) {
	mailbox := &testutil.Mailbox{Words: []uint32{10, 20}}
	fake := clock.Fake(epoch)
	cache := NewTableCache(mailbox, fake, 250*time.Millisecond, 0)

	cache.Head(2)
	mailbox.SetWords([]uint32{11, 21})
	fake.Advance(250 * time.Millisecond)

	head, fetched, err := cache.Head(2)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head[0] != 11 {
		t.Errorf("head[0] = %d, want 11", head[0])
	}
	if !fetched.Equal(epoch.Add(250 * time.Millisecond)) {
		t.Errorf("fetched = %v, want %v", fetched, epoch.Add(250*time.Millisecond))
	}
}

func TestTableCacheCapsAtCapacity(t *testing.T) {
	mailbox := &testutil.Mailbox{Words: make([]uint32, 64)}
	cache := NewTableCache(mailbox, clock.Fake(epoch), 0, 16)

	head, _, err := cache.Head(64)
	if err != nil {
		t.Fatalf("Head(64): %v", err)
	}
	if len(head) != 16 {
		t.Errorf("len(Head(64)) = %d, want capacity 16", len(head))
	}
}

func TestTableCacheMailboxError(t *testing.T) {
	mailbox := &testutil.Mailbox{Err: hwaccess.ErrUnavailable}
	cache := NewTableCache(mailbox, clock.Fake(epoch), 0, 0)

	if _, _, err := cache.Head(4); !errors.Is(err, hwaccess.ErrUnavailable) {
		t.Errorf("Head error = %v, want ErrUnavailable", err)
	}
	if _, _, err := cache.Head(0); !errors.Is(err, hwaccess.ErrImplausible) {
		t.Errorf("Head(0) error = %v, want ErrImplausible", err)
	}
}
