// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"context"
	"sync"

	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
	"github.com/nishisan-dev/chunkcore/internal/digest"
)

// MemoryContentSink is an in-process map-backed ContentSink for tests and
// small runs.
type MemoryContentSink struct {
	mu   sync.Mutex
	data map[digest.Digest][]byte
}

func NewMemoryContentSink() *MemoryContentSink {
	return &MemoryContentSink{data: make(map[digest.Digest][]byte)}
}

func (s *MemoryContentSink) Contains(ctx context.Context, d digest.Digest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[d]
	return ok, nil
}

func (s *MemoryContentSink) Put(ctx context.Context, d digest.Digest, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[d]; ok {
		return false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[d] = cp
	return true, nil
}

// Get exposes stored bytes for assertions in tests.
func (s *MemoryContentSink) Get(d digest.Digest) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[d]
	return v, ok
}

// Len reports the number of distinct digests stored.
func (s *MemoryContentSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// MemorySnapshot is one sealed snapshot captured by MemoryMetadataSink.
type MemorySnapshot struct {
	Files    []FileMetadata
	Finished bool
}

// MemoryMetadataSink is an in-process slice-backed MetadataSink for tests
// and small runs.
type MemoryMetadataSink struct {
	mu        sync.Mutex
	snapshots map[string]*MemorySnapshot
}

func NewMemoryMetadataSink() *MemoryMetadataSink {
	return &MemoryMetadataSink{snapshots: make(map[string]*MemorySnapshot)}
}

func (s *MemoryMetadataSink) BeginSnapshot(ctx context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snapshots[snapshotID]; exists {
		return chunkcore.New("sink.MemoryMetadataSink.BeginSnapshot", chunkcore.KindInvalidArgument)
	}
	s.snapshots[snapshotID] = &MemorySnapshot{}
	return nil
}

func (s *MemoryMetadataSink) Append(ctx context.Context, snapshotID string, fm FileMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return chunkcore.New("sink.MemoryMetadataSink.Append", chunkcore.KindNotFound)
	}
	snap.Files = append(snap.Files, fm)
	return nil
}

func (s *MemoryMetadataSink) Finish(ctx context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return chunkcore.New("sink.MemoryMetadataSink.Finish", chunkcore.KindNotFound)
	}
	snap.Finished = true
	return nil
}

// Snapshot exposes a sealed (or in-progress) snapshot for test assertions.
func (s *MemoryMetadataSink) Snapshot(snapshotID string) (*MemorySnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[snapshotID]
	return snap, ok
}
