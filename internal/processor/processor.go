// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package processor owns the end-to-end Process(root, options) call: it
// drives the Walker, submits one ChunkPipeline run per file to the
// Scheduler, aggregates a ProcessingResult, and seals a Snapshot via the
// MetadataSink. Lifecycle (created running, idempotent stop, busy-on-
// concurrent-call) is grounded on the teacher's daemon run/stop state
// machine in agent/daemon.go, simplified to a single in-process run
// without cron scheduling or config reload.
package processor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nishisan-dev/chunkcore/internal/arena"
	"github.com/nishisan-dev/chunkcore/internal/chunk"
	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
	"github.com/nishisan-dev/chunkcore/internal/digest"
	"github.com/nishisan-dev/chunkcore/internal/logging"
	"github.com/nishisan-dev/chunkcore/internal/pipeline"
	"github.com/nishisan-dev/chunkcore/internal/scheduler"
	"github.com/nishisan-dev/chunkcore/internal/sink"
	"github.com/nishisan-dev/chunkcore/internal/walker"
)

// Options configures one Process call: Walker filters plus ChunkPipeline
// behavior (spec's ScanOptions + ChunkingOptions).
type Options struct {
	Scan     walker.Options
	Chunking chunk.Options
}

// FileError records one file's terminal failure within a ProcessingResult.
type FileError struct {
	Path string
	Err  error
}

// ProcessingResult aggregates the outcome of one Process call (spec.md §3
// Snapshot plus run-level counters).
type ProcessingResult struct {
	SnapshotID       string
	Root             string
	StartedAt        time.Time
	EndedAt          time.Time
	ProcessedFiles   int
	ErrorFiles       int
	SkippedFiles     int
	TotalBytes       int64
	TotalSparseBytes int64
	Errors           []FileError
}

// Processor is the top-level orchestrator. Safe for concurrent use by
// multiple goroutines calling Process/Stop/IsRunning, but only one Process
// call may be in flight at a time (a second concurrent call fails with
// ProcessorBusy).
type Processor struct {
	buffers     *arena.BufferArena
	digestSvc   digest.Service
	sched       *scheduler.Scheduler
	contentSink sink.ContentSink
	metaSink    sink.MetadataSink
	logger      *slog.Logger

	// snapshotLogDir, when non-empty, fans each run's log records out to
	// {snapshotLogDir}/{snapshotID}.log in addition to logger.
	snapshotLogDir string

	mu      sync.Mutex
	closed  bool
	running bool
	cancel  context.CancelFunc
}

// New constructs a Processor, created in the running (accepting) state.
func New(buffers *arena.BufferArena, digestSvc digest.Service, sched *scheduler.Scheduler, contentSink sink.ContentSink, metaSink sink.MetadataSink, logger *slog.Logger, snapshotLogDir string) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		buffers:        buffers,
		digestSvc:      digestSvc,
		sched:          sched,
		contentSink:    contentSink,
		metaSink:       metaSink,
		logger:         logger,
		snapshotLogDir: snapshotLogDir,
	}
}

// IsRunning reports whether a Process call is currently in progress.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop transitions the Processor to closed: any in-flight Process call is
// cancelled, and subsequent Process calls fail with ProcessorClosed.
// Idempotent.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Process walks root, chunks and sinks every file found, and returns a
// sealed ProcessingResult. Fails immediately with ProcessorClosed after
// Stop, or ProcessorBusy if another Process call is already in flight.
func (p *Processor) Process(ctx context.Context, root string, opts Options) (ProcessingResult, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ProcessingResult{}, chunkcore.New("processor.Processor.Process", chunkcore.KindProcessorClosed)
	}
	if p.running {
		p.mu.Unlock()
		return ProcessingResult{}, chunkcore.New("processor.Processor.Process", chunkcore.KindProcessorBusy)
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.cancel = nil
		p.mu.Unlock()
		cancel()
	}()

	return p.run(runCtx, root, opts)
}

func (p *Processor) run(ctx context.Context, root string, opts Options) (ProcessingResult, error) {
	snapshotID := uuid.NewString()
	startedAt := time.Now()

	runLogger, logCloser, _, err := logging.NewSnapshotLogger(p.logger, p.snapshotLogDir, snapshotID)
	if err != nil {
		return ProcessingResult{}, chunkcore.Wrap("processor.Processor.run", chunkcore.KindIoError, err)
	}
	defer logCloser.Close()

	runLogger.Info("processing started", "snapshot", snapshotID, "root", root)

	chunker, err := buildChunker(p.digestSvc, p.buffers, opts.Chunking)
	if err != nil {
		return ProcessingResult{}, err
	}
	pl := pipeline.New(chunker, p.contentSink, opts.Chunking.MaxConcurrentChunks)

	if err := p.metaSink.BeginSnapshot(ctx, snapshotID); err != nil {
		return ProcessingResult{}, chunkcore.Wrap("processor.Processor.run", chunkcore.KindSinkError, err)
	}

	w := walker.New(opts.Scan, runLogger)
	scanResult, walkErr := w.Walk(ctx, root)

	result := ProcessingResult{
		SnapshotID: snapshotID,
		Root:       root,
		StartedAt:  startedAt,
	}
	for _, se := range scanResult.Errors {
		result.SkippedFiles++
		result.Errors = append(result.Errors, FileError{Path: se.Path, Err: se.Err})
	}

	if walkErr != nil {
		result.EndedAt = time.Now()
		runLogger.Warn("processing cancelled during walk", "snapshot", snapshotID, "error", walkErr)
		return result, chunkcore.Wrap("processor.Processor.run", chunkcore.KindCancelled, walkErr)
	}

	type fileOutcome struct {
		entry walker.WalkEntry
		res   chunk.Result
		err   error
	}

	var futures []*scheduler.Future
	var entries []walker.WalkEntry
	for _, entry := range scanResult.ScannedFiles {
		switch entry.Kind {
		case walker.KindFile:
		case walker.KindSymlink:
		default:
			continue
		}
		entry := entry
		fut, err := p.sched.Submit(ctx, scheduler.ClassIO, func(ctx context.Context) (any, error) {
			var res chunk.Result
			var err error
			if entry.Kind == walker.KindSymlink {
				err = p.recordSymlink(ctx, root, entry, snapshotID)
			} else {
				res, err = p.processFile(ctx, pl, root, entry, opts.Chunking, snapshotID)
			}
			return fileOutcome{entry: entry, res: res, err: err}, nil
		})
		if err != nil {
			result.ErrorFiles++
			result.Errors = append(result.Errors, FileError{Path: entry.Path, Err: err})
			continue
		}
		futures = append(futures, fut)
		entries = append(entries, entry)
	}

	schedResults := p.sched.AwaitAll(futures, 0)
	for i, sr := range schedResults {
		if sr.Err != nil {
			result.ErrorFiles++
			result.Errors = append(result.Errors, FileError{Path: entries[i].Path, Err: sr.Err})
			continue
		}
		fo := sr.Value.(fileOutcome)
		if fo.err != nil {
			result.ErrorFiles++
			result.Errors = append(result.Errors, FileError{Path: fo.entry.Path, Err: fo.err})
			continue
		}
		result.ProcessedFiles++
		result.TotalBytes += fo.res.TotalSize
		result.TotalSparseBytes += fo.res.SparseSize
	}

	if err := p.metaSink.Finish(ctx, snapshotID); err != nil {
		result.EndedAt = time.Now()
		return result, chunkcore.Wrap("processor.Processor.run", chunkcore.KindSinkError, err)
	}

	result.EndedAt = time.Now()
	runLogger.Info("processing finished",
		"snapshot", snapshotID,
		"processed", result.ProcessedFiles,
		"errors", result.ErrorFiles,
		"skipped", result.SkippedFiles,
		"total_bytes", result.TotalBytes,
	)
	return result, nil
}

// processFile runs one file through the ChunkPipeline and, on success,
// appends its FileMetadata to the open snapshot.
func (p *Processor) processFile(ctx context.Context, pl *pipeline.Pipeline, root string, entry walker.WalkEntry, chunkingOpts chunk.Options, snapshotID string) (chunk.Result, error) {
	relPath, err := filepath.Rel(root, entry.Path)
	if err != nil {
		relPath = entry.Path
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		return chunk.Result{}, chunkcore.Wrap("processor.Processor.processFile", chunkcore.KindIoError, err)
	}
	defer f.Close()

	var sparseRuns []chunk.SparseRun
	if entry.IsSparse && chunkingOpts.DetectSparseFiles {
		sparseRuns = pipeline.DetectSparseRuns(f, entry.Size)
	}

	res := pl.Run(ctx, nil, f, pipeline.FileInput{
		Path:               entry.Path,
		Size:               entry.Size,
		SparseRuns:         sparseRuns,
		MaxReadBytesPerSec: chunkingOpts.MaxReadBytesPerSec,
	})
	if !res.Success {
		return res, res.Err
	}

	fm := sink.FileMetadata{
		Path:         relPath,
		Size:         entry.Size,
		Mtime:        entry.Mtime,
		IsSparse:     entry.IsSparse,
		FileDigest:   res.FileDigest,
		ChunkDigests: res.ChunkDigests,
	}
	if err := p.metaSink.Append(ctx, snapshotID, fm); err != nil {
		return res, chunkcore.Wrap("processor.Processor.processFile", chunkcore.KindSinkError, err)
	}

	return res, nil
}

// recordSymlink appends a Record-policy symlink's metadata to the open
// snapshot without chunking: it has no content of its own, only a
// link target.
func (p *Processor) recordSymlink(ctx context.Context, root string, entry walker.WalkEntry, snapshotID string) error {
	relPath, err := filepath.Rel(root, entry.Path)
	if err != nil {
		relPath = entry.Path
	}

	fm := sink.FileMetadata{
		Path:          relPath,
		Size:          entry.Size,
		Mtime:         entry.Mtime,
		SymlinkTarget: entry.LinkTarget,
	}
	if err := p.metaSink.Append(ctx, snapshotID, fm); err != nil {
		return chunkcore.Wrap("processor.Processor.recordSymlink", chunkcore.KindSinkError, err)
	}
	return nil
}

func buildChunker(digestSvc digest.Service, buffers *arena.BufferArena, opts chunk.Options) (chunk.Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Algorithm == chunk.AlgorithmCDC {
		return chunk.NewFastCDChunker(digestSvc, buffers, opts.MinChunkSize, opts.ChunkSize, opts.MaxChunkSize)
	}
	return chunk.NewFixedChunker(digestSvc, buffers, opts.ChunkSize)
}
