// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package arena

import (
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
)

func TestBufferArena_AcquireRelease(t *testing.T) {
	a := New(1024, 2)

	b1, err := a.Acquire(1024)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(b1) != 1024 {
		t.Fatalf("expected buffer of len 1024, got %d", len(b1))
	}
	if got := a.BuffersInUse(); got != 1 {
		t.Fatalf("expected 1 in use, got %d", got)
	}

	if err := a.Release(b1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := a.BuffersInUse(); got != 0 {
		t.Fatalf("expected 0 in use after release, got %d", got)
	}
	if got := a.AvailableCount(); got != 1 {
		t.Fatalf("expected 1 available after release, got %d", got)
	}
}

func TestBufferArena_TryAcquireExhausted(t *testing.T) {
	a := New(64, 1)

	b1, err := a.TryAcquire(64)
	if err != nil {
		t.Fatalf("first TryAcquire: %v", err)
	}

	_, err = a.TryAcquire(64)
	if !chunkcore.Is(err, chunkcore.KindPoolExhausted) {
		t.Fatalf("expected PoolExhausted, got %v", err)
	}

	if err := a.Release(b1); err != nil {
		t.Fatalf("Release: %v", err)
	}

	_, err = a.TryAcquire(64)
	if err != nil {
		t.Fatalf("expected success after release, got %v", err)
	}
}

func TestBufferArena_ReleaseNilIsInvalidArgument(t *testing.T) {
	a := New(64, 1)
	err := a.Release(nil)
	if !chunkcore.Is(err, chunkcore.KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestBufferArena_ReleaseForeignBufferIsSoftNoop(t *testing.T) {
	a := New(64, 1)
	foreign := make([]byte, 64)
	if err := a.Release(foreign); err != nil {
		t.Fatalf("expected soft no-op, got error: %v", err)
	}
	if got := a.BuffersInUse(); got != 0 {
		t.Fatalf("foreign release should not affect in-use count, got %d", got)
	}
}

func TestBufferArena_AcquireAfterClearReturnsPoolClosed(t *testing.T) {
	a := New(64, 1)
	a.Clear()
	_, err := a.Acquire(64)
	if !chunkcore.Is(err, chunkcore.KindPoolClosed) {
		t.Fatalf("expected PoolClosed, got %v", err)
	}
}

func TestBufferArena_ClearUnblocksWaiters(t *testing.T) {
	a := New(64, 1)
	b1, err := a.Acquire(64)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_ = b1

	done := make(chan error, 1)
	go func() {
		_, err := a.Acquire(64)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	a.Clear()

	select {
	case err := <-done:
		if !chunkcore.Is(err, chunkcore.KindPoolClosed) {
			t.Fatalf("expected PoolClosed for blocked acquirer, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Clear did not unblock a waiting Acquire")
	}
}

// TestBufferArena_CapacityConservedUnderConcurrency exercises S7: capacity=2
// with 10 concurrent acquire/release cycles never exceeds the capacity bound
// and returns every buffer, leaving in-use at zero.
func TestBufferArena_CapacityConservedUnderConcurrency(t *testing.T) {
	const capacity = 2
	const workers = 10
	const itersPerWorker = 50

	a := New(128, capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObservedInUse := int64(0)

	observe := func() {
		mu.Lock()
		defer mu.Unlock()
		if cur := a.BuffersInUse(); cur > maxObservedInUse {
			maxObservedInUse = cur
		}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < itersPerWorker; j++ {
				buf, err := a.Acquire(128)
				if err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				observe()
				if err := a.Release(buf); err != nil {
					t.Errorf("Release: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if maxObservedInUse > capacity {
		t.Fatalf("observed in-use count %d exceeded capacity %d", maxObservedInUse, capacity)
	}
	if got := a.BuffersInUse(); got != 0 {
		t.Fatalf("expected 0 in use after all releases, got %d", got)
	}
	stats := a.Stats()
	if stats.Acquired != workers*itersPerWorker {
		t.Fatalf("expected %d acquires, got %d", workers*itersPerWorker, stats.Acquired)
	}
	if stats.Released != workers*itersPerWorker {
		t.Fatalf("expected %d releases, got %d", workers*itersPerWorker, stats.Released)
	}
}

func TestBufferArena_AcquireGrowsBufferWhenLargerSizeRequested(t *testing.T) {
	a := New(64, 1)
	b1, err := a.Acquire(64)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := a.Release(b1); err != nil {
		t.Fatalf("Release: %v", err)
	}

	b2, err := a.Acquire(256)
	if err != nil {
		t.Fatalf("Acquire larger: %v", err)
	}
	if len(b2) != 256 {
		t.Fatalf("expected grown buffer of len 256, got %d", len(b2))
	}
}
