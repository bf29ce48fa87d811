// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package sink defines the ContentSink and MetadataSink contracts
// (spec.md §6, external interfaces) and the concrete implementations this
// system ships: a filesystem-backed and an S3-backed ContentSink, both
// grounded on the teacher's atomic-write and AWS upload idioms, and a
// JSONL-backed MetadataSink grounded on the teacher's append-only event
// store.
package sink

import (
	"context"
	"time"

	"github.com/nishisan-dev/chunkcore/internal/digest"
)

// ContentSink stores chunk payloads keyed by their content digest.
// Idempotent: putting the same digest twice is a no-op after the first
// successful write.
type ContentSink interface {
	// Put writes bytes under digest if not already present, reporting
	// whether this call newly stored it (true) or found it already present
	// (false — a dedup hit). Safe to call concurrently and redundantly
	// across files and snapshots.
	Put(ctx context.Context, d digest.Digest, data []byte) (bool, error)
	// Contains reports whether digest is already stored, for dedup
	// fast-pathing before reading a chunk's bytes is even necessary.
	Contains(ctx context.Context, d digest.Digest) (bool, error)
}

// FileMetadata is one file's record within a snapshot (spec.md §3).
type FileMetadata struct {
	Path          string
	Size          int64
	Mtime         time.Time
	SymlinkTarget string
	IsSparse      bool
	FileDigest    digest.Digest
	ChunkDigests  []digest.Digest
}

// MetadataSink records per-snapshot file metadata.
type MetadataSink interface {
	// BeginSnapshot opens a new snapshot under id, returning an error if
	// one is already open.
	BeginSnapshot(ctx context.Context, snapshotID string) error
	// Append adds one file's metadata to the open snapshot.
	Append(ctx context.Context, snapshotID string, fm FileMetadata) error
	// Finish seals the snapshot; no further Append calls are valid for it.
	Finish(ctx context.Context, snapshotID string) error
}
