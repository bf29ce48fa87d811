// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package arena implements the BufferArena: a bounded pool of reusable byte
// buffers whose acquire/release pair is the backpressure mechanism for the
// chunking pipeline (spec.md §4.1). Blocking acquire reuses the
// sync.Cond-gated wait/broadcast shape of the teacher's ring buffer;
// capacity accounting is an in-use counter guarded by the same mutex as the
// available set.
package arena

import (
	"sync"
	"sync/atomic"

	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
)

// Stats is a snapshot of the arena's observational counters.
type Stats struct {
	BufferSize    int64
	Capacity      int64
	AvailableCount int64
	InUseCount    int64
	Acquired      int64
	Released      int64
}

// BufferArena hands out []byte buffers of a fixed size, bounded to at most
// capacity simultaneously in-use. acquire blocks when the pool is exhausted;
// release returns a buffer to the available set.
type BufferArena struct {
	bufferSize int64
	capacity   int64

	mu        sync.Mutex
	available [][]byte
	inUse     int64 // guarded by mu; mirrors semaphore permits taken
	closed    bool
	// notAvailable signals a release or close to a blocked acquirer.
	notAvailable sync.Cond

	acquired atomic.Int64
	released atomic.Int64

	// minted tracks buffer identities handed out by this arena, so a
	// release of a foreign buffer can be detected and soft-ignored instead
	// of corrupting the available set.
	minted map[*byte]struct{}
}

// New constructs a BufferArena with the given per-buffer size and maximum
// simultaneous buffer count.
func New(bufferSize, capacity int64) *BufferArena {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	a := &BufferArena{
		bufferSize: bufferSize,
		capacity:   capacity,
		minted:     make(map[*byte]struct{}),
	}
	a.notAvailable.L = &a.mu
	return a
}

// Acquire returns a buffer whose capacity is >= size and >= the arena's
// configured buffer size. Blocks until a buffer is available or the arena
// closes; a Clear during the wait unblocks it with PoolClosed.
func (a *BufferArena) Acquire(size int64) ([]byte, error) {
	want := a.bufferSize
	if size > want {
		want = size
	}

	a.mu.Lock()
	for a.inUse >= a.capacity && !a.closed {
		a.notAvailable.Wait()
	}
	if a.closed {
		a.mu.Unlock()
		return nil, chunkcore.New("arena.Acquire", chunkcore.KindPoolClosed)
	}

	var buf []byte
	if n := len(a.available); n > 0 {
		buf = a.available[n-1]
		a.available = a.available[:n-1]
	}
	a.inUse++
	a.mu.Unlock()

	if buf == nil || int64(cap(buf)) < want {
		buf = make([]byte, want)
	} else {
		buf = buf[:want]
	}

	a.mu.Lock()
	a.minted[&buf[:1][0]] = struct{}{}
	a.mu.Unlock()

	a.acquired.Add(1)
	return buf, nil
}

// TryAcquire is the non-blocking variant: it fails with PoolExhausted instead
// of waiting when no permits are free.
func (a *BufferArena) TryAcquire(size int64) ([]byte, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, chunkcore.New("arena.TryAcquire", chunkcore.KindPoolClosed)
	}
	if a.inUse >= a.capacity {
		a.mu.Unlock()
		return nil, chunkcore.New("arena.TryAcquire", chunkcore.KindPoolExhausted)
	}

	want := a.bufferSize
	if size > want {
		want = size
	}

	var buf []byte
	if n := len(a.available); n > 0 {
		buf = a.available[n-1]
		a.available = a.available[:n-1]
	}
	a.inUse++
	a.mu.Unlock()

	if buf == nil || int64(cap(buf)) < want {
		buf = make([]byte, want)
	} else {
		buf = buf[:want]
	}

	a.mu.Lock()
	a.minted[&buf[:1][0]] = struct{}{}
	a.mu.Unlock()

	a.acquired.Add(1)
	return buf, nil
}

// Release returns buf to the available set. Releasing a nil buffer is an
// InvalidArgument error. Releasing a buffer this arena never minted is a
// soft error: silently dropped, counted neither as in-use nor available.
func (a *BufferArena) Release(buf []byte) error {
	if buf == nil {
		return chunkcore.New("arena.Release", chunkcore.KindInvalidArgument)
	}

	a.mu.Lock()
	if _, ok := a.minted[&buf[:1][0]]; !ok {
		a.mu.Unlock()
		return nil // soft error: foreign buffer, logged by the caller if it wants to
	}
	delete(a.minted, &buf[:1][0])
	a.available = append(a.available, buf[:cap(buf)])
	if a.inUse > 0 {
		a.inUse--
	}
	a.notAvailable.Broadcast()
	a.mu.Unlock()

	a.released.Add(1)
	return nil
}

// Clear drops the available set and closes the arena. Idempotent.
func (a *BufferArena) Clear() {
	a.mu.Lock()
	a.available = nil
	a.closed = true
	a.notAvailable.Broadcast()
	a.mu.Unlock()
}

// AvailableCount returns the number of buffers currently sitting idle.
func (a *BufferArena) AvailableCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.available))
}

// TotalCount returns the configured capacity.
func (a *BufferArena) TotalCount() int64 {
	return a.capacity
}

// BuffersInUse returns the number of buffers currently on loan.
func (a *BufferArena) BuffersInUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Stats returns a snapshot of the arena's counters and gauges.
func (a *BufferArena) Stats() Stats {
	a.mu.Lock()
	avail := int64(len(a.available))
	inUse := a.inUse
	a.mu.Unlock()
	return Stats{
		BufferSize:     a.bufferSize,
		Capacity:       a.capacity,
		AvailableCount: avail,
		InUseCount:     inUse,
		Acquired:       a.acquired.Load(),
		Released:       a.released.Load(),
	}
}
