// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pipeline orchestrates one file's read → chunk → digest → sink flow,
// grounded on the teacher's producer/consumer split in agent/dispatcher.go's
// Write/emitChunk pairing: a sequential producer (here, the chunker's
// gear-hash scan) feeds a bounded number of concurrent consumers (here, sink
// dispatch), with the producer blocking once the bound is reached.
package pipeline

import (
	"context"
	"io"
	"sync"

	"github.com/nishisan-dev/chunkcore/internal/arena"
	"github.com/nishisan-dev/chunkcore/internal/chunk"
	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
	"github.com/nishisan-dev/chunkcore/internal/digest"
	"github.com/nishisan-dev/chunkcore/internal/sink"
)

const defaultMaxConcurrentChunks = 4

// Pipeline drives one file through a Chunker and into a ContentSink, capping
// how many chunk-sink dispatches may be in flight at once (spec.md §4.5).
type Pipeline struct {
	chunker             chunk.Chunker
	contentSink         sink.ContentSink
	maxConcurrentChunks int
}

// New constructs a Pipeline. maxConcurrentChunks <= 0 falls back to the
// spec default of 4.
func New(chunker chunk.Chunker, contentSink sink.ContentSink, maxConcurrentChunks int) *Pipeline {
	if maxConcurrentChunks <= 0 {
		maxConcurrentChunks = defaultMaxConcurrentChunks
	}
	return &Pipeline{chunker: chunker, contentSink: contentSink, maxConcurrentChunks: maxConcurrentChunks}
}

// FileInput describes the file a Run call processes.
type FileInput struct {
	Path               string
	Size               int64
	SparseRuns         []chunk.SparseRun
	MaxReadBytesPerSec int64
}

// Run reads filePath through a ReaderAt, chunks it, and offers each chunk's
// bytes to the ContentSink at most once, returning a chunk.Result whose
// ChunkDigests are ordered in file-byte order regardless of sink dispatch
// concurrency.
//
// Cancellation: if ctx is cancelled while chunk dispatches are in flight, no
// further chunks are sunk, the file fails with Cancelled, and Run waits for
// already-dispatched sink calls to finish releasing their slot before
// returning (buffers are owned by the chunker/arena, not by Run).
func (p *Pipeline) Run(ctx context.Context, buffers *arena.BufferArena, r io.ReaderAt, in FileInput) chunk.Result {
	throttled := NewThrottledReader(ctx, r, in.MaxReadBytesPerSec)
	src := &fileSource{r: throttled, size: in.Size, runs: in.SparseRuns}

	d := &dispatcher{
		ctx:  ctx,
		sink: p.contentSink,
		sem:  make(chan struct{}, p.maxConcurrentChunks),
	}

	res := p.chunker.Chunk(src, in.Path, d.onChunk)

	d.wg.Wait()

	if res.Err == nil {
		if err := d.firstError(); err != nil {
			res.Success = false
			res.Err = err
		}
	}
	return res
}

// dispatcher fans each chunk out to the ContentSink under a bounded
// semaphore, so Chunk's synchronous onChunk call only blocks (creating
// read-side backpressure) once maxConcurrentChunks sink calls are already
// in flight.
type dispatcher struct {
	ctx  context.Context
	sink sink.ContentSink
	sem  chan struct{}

	mu  sync.Mutex
	wg  sync.WaitGroup
	err error
}

func (d *dispatcher) onChunk(_ int, cd digest.Digest, data []byte) error {
	if err := d.firstError(); err != nil {
		return err
	}
	if err := d.ctx.Err(); err != nil {
		return chunkcore.Wrap("pipeline.Pipeline.Run", chunkcore.KindCancelled, err)
	}

	select {
	case d.sem <- struct{}{}:
	case <-d.ctx.Done():
		return chunkcore.Wrap("pipeline.Pipeline.Run", chunkcore.KindCancelled, d.ctx.Err())
	}

	// data is only valid for the duration of this call; copy before handing
	// it to a goroutine that outlives onChunk's return.
	payload := make([]byte, len(data))
	copy(payload, data)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()

		if _, err := d.sink.Put(d.ctx, cd, payload); err != nil {
			d.setFirstError(chunkcore.Wrap("pipeline.Pipeline.Run", chunkcore.KindSinkError, err))
		}
	}()

	return nil
}

func (d *dispatcher) firstError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *dispatcher) setFirstError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err == nil {
		d.err = err
	}
}
