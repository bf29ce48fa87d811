// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
)

// jsonlRecord is the on-disk shape of one metadata line.
type jsonlRecord struct {
	Path          string   `json:"path"`
	Size          int64    `json:"size"`
	MtimeUnixNano int64    `json:"mtime_unix_nano"`
	SymlinkTarget string   `json:"symlink_target,omitempty"`
	IsSparse      bool     `json:"is_sparse"`
	FileDigest    string   `json:"file_digest"`
	ChunkDigests  []string `json:"chunk_digests"`
}

type jsonlTrailer struct {
	Finished   bool `json:"finished"`
	EntryCount int  `json:"entry_count"`
}

// JSONLMetadataSink writes one append-only `.jsonl` file per snapshot
// under snapshotDir, grounded on the teacher's append-only JSON-lines
// event store.
type JSONLMetadataSink struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
	count map[string]int
}

// NewJSONLMetadataSink creates snapshotDir if needed.
func NewJSONLMetadataSink(snapshotDir string) (*JSONLMetadataSink, error) {
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return nil, chunkcore.Wrap("sink.NewJSONLMetadataSink", chunkcore.KindSinkError, err)
	}
	return &JSONLMetadataSink{
		dir:   snapshotDir,
		files: make(map[string]*os.File),
		count: make(map[string]int),
	}, nil
}

func (s *JSONLMetadataSink) path(snapshotID string) string {
	return filepath.Join(s.dir, snapshotID+".jsonl")
}

func (s *JSONLMetadataSink) BeginSnapshot(ctx context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.files[snapshotID]; exists {
		return chunkcore.New("sink.JSONLMetadataSink.BeginSnapshot", chunkcore.KindInvalidArgument)
	}
	f, err := os.OpenFile(s.path(snapshotID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return chunkcore.Wrap("sink.JSONLMetadataSink.BeginSnapshot", chunkcore.KindSinkError, err)
	}
	s.files[snapshotID] = f
	s.count[snapshotID] = 0
	return nil
}

func (s *JSONLMetadataSink) Append(ctx context.Context, snapshotID string, fm FileMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[snapshotID]
	if !ok {
		return chunkcore.New("sink.JSONLMetadataSink.Append", chunkcore.KindNotFound)
	}

	chunkHex := make([]string, len(fm.ChunkDigests))
	for i, d := range fm.ChunkDigests {
		chunkHex[i] = d.String()
	}
	rec := jsonlRecord{
		Path:          fm.Path,
		Size:          fm.Size,
		MtimeUnixNano: fm.Mtime.UnixNano(),
		SymlinkTarget: fm.SymlinkTarget,
		IsSparse:      fm.IsSparse,
		FileDigest:    fm.FileDigest.String(),
		ChunkDigests:  chunkHex,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return chunkcore.Wrap("sink.JSONLMetadataSink.Append", chunkcore.KindSinkError, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return chunkcore.Wrap("sink.JSONLMetadataSink.Append", chunkcore.KindSinkError, err)
	}
	s.count[snapshotID]++
	return nil
}

func (s *JSONLMetadataSink) Finish(ctx context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[snapshotID]
	if !ok {
		return chunkcore.New("sink.JSONLMetadataSink.Finish", chunkcore.KindNotFound)
	}

	trailer, err := json.Marshal(jsonlTrailer{Finished: true, EntryCount: s.count[snapshotID]})
	if err != nil {
		return chunkcore.Wrap("sink.JSONLMetadataSink.Finish", chunkcore.KindSinkError, err)
	}
	if _, err := f.Write(append(trailer, '\n')); err != nil {
		return chunkcore.Wrap("sink.JSONLMetadataSink.Finish", chunkcore.KindSinkError, err)
	}
	if err := f.Sync(); err != nil {
		return chunkcore.Wrap("sink.JSONLMetadataSink.Finish", chunkcore.KindSinkError, err)
	}
	if err := f.Close(); err != nil {
		return chunkcore.Wrap("sink.JSONLMetadataSink.Finish", chunkcore.KindSinkError, err)
	}

	delete(s.files, snapshotID)
	delete(s.count, snapshotID)
	return nil
}
