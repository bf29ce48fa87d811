// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package chunk implements the fixed-size and content-defined (FastCDC)
// chunkers at the heart of this system, grounded on the inline
// accumulate-while-streaming shape of the teacher's tar/gzip streamer and
// the buffer/boundary-finder split of the reference FastCDC chunker found
// alongside it in the retrieval pack.
package chunk

import (
	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
	"github.com/nishisan-dev/chunkcore/internal/digest"
)

// Algorithm selects which chunker a ChunkingOptions describes.
type Algorithm int

const (
	AlgorithmFixed Algorithm = iota
	AlgorithmCDC
)

// Options is spec's ChunkingOptions.
type Options struct {
	Algorithm           Algorithm
	ChunkSize           int64
	MinChunkSize        int64 // CDC only
	MaxChunkSize        int64 // CDC only
	UseAsyncIO          bool
	DetectSparseFiles   bool
	MaxConcurrentChunks int
	MaxReadBytesPerSec  int64
}

// Result is spec's ChunkingResult.
type Result struct {
	FilePath     string
	TotalSize    int64
	SparseSize   int64
	ChunkCount   int
	FileDigest   digest.Digest
	ChunkDigests []digest.Digest
	Success      bool
	Err          error
}

// SparseRun describes one hole in the logical byte stream that the source
// does not materialize on disk: bytes [Offset, Offset+Length) are implicit
// zeros.
type SparseRun struct {
	Offset int64
	Length int64
}

// Source abstracts the byte stream a chunker consumes: a plain reader plus
// the sparse-hole map a sparse-aware walker may have already computed, so
// the chunker can fold holes as zeros without reading them from disk.
type Source interface {
	// ReadAt reads len(p) materialized bytes at the given logical offset.
	// Only called for byte ranges outside all SparseRuns.
	ReadAt(p []byte, off int64) (int, error)
	// Size is the logical size of the file, holes included.
	Size() int64
	// SparseRuns lists the holes in ascending, non-overlapping order. Nil
	// or empty when sparse detection is disabled or the file is dense.
	SparseRuns() []SparseRun
}

// OnChunk is invoked synchronously, in file-byte order, as each chunk is
// found. data is only valid for the duration of the call — callers that
// need it afterward (e.g. to hand it to a ContentSink) must copy it before
// returning. Returning an error aborts the chunking operation; the
// Chunker surfaces it as the Result's Err.
//
// Chunk blocks on OnChunk's return, so a caller that makes OnChunk block
// (e.g. behind a bounded semaphore) turns that bound into read-side
// backpressure, per spec.md §4.5's per-file concurrency cap.
type OnChunk func(index int, d digest.Digest, data []byte) error

// Chunker splits one file's logical byte stream into chunks, producing a
// Result. Implementations must be safe to reuse across files sequentially
// but are not required to be safe for concurrent use by multiple goroutines
// on the same instance. onChunk may be nil.
type Chunker interface {
	Chunk(src Source, filePath string, onChunk OnChunk) Result
}

// Validate checks ChunkingOptions invariants (spec.md §3): chunk_size >= 1;
// for CDC, 1 <= min <= chunk_size <= max. Returns InvalidArgument on
// violation.
func (o Options) Validate() error {
	if o.ChunkSize < 1 {
		return chunkcore.New("chunk.Options.Validate", chunkcore.KindInvalidArgument)
	}
	if o.Algorithm == AlgorithmCDC {
		if o.MinChunkSize < 1 || o.MinChunkSize > o.ChunkSize {
			return chunkcore.New("chunk.Options.Validate", chunkcore.KindInvalidArgument)
		}
		if o.MaxChunkSize < o.ChunkSize {
			return chunkcore.New("chunk.Options.Validate", chunkcore.KindInvalidArgument)
		}
	}
	return nil
}
