// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
	"github.com/nishisan-dev/chunkcore/internal/digest"
)

// FilesystemContentSink stores chunks under
// {storeRoot}/{first-2-hex}/{digest-hex}, written atomically via a
// temp-file-then-rename sequence, grounded on the teacher's AtomicWriter.
type FilesystemContentSink struct {
	storeRoot string
	compress  bool
	cache     *lru.Cache[digest.Digest, struct{}]
}

// NewFilesystemContentSink creates storeRoot if needed. cacheSize bounds
// the in-process "recently confirmed present" cache fronting Contains.
func NewFilesystemContentSink(storeRoot string, compress bool, cacheSize int) (*FilesystemContentSink, error) {
	if err := os.MkdirAll(storeRoot, 0o755); err != nil {
		return nil, chunkcore.Wrap("sink.NewFilesystemContentSink", chunkcore.KindSinkError, err)
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[digest.Digest, struct{}](cacheSize)
	if err != nil {
		return nil, chunkcore.Wrap("sink.NewFilesystemContentSink", chunkcore.KindSinkError, err)
	}
	return &FilesystemContentSink{storeRoot: storeRoot, compress: compress, cache: cache}, nil
}

func (s *FilesystemContentSink) pathFor(d digest.Digest) string {
	hex := d.String()
	return filepath.Join(s.storeRoot, hex[:2], hex)
}

func (s *FilesystemContentSink) Contains(ctx context.Context, d digest.Digest) (bool, error) {
	if _, ok := s.cache.Get(d); ok {
		return true, nil
	}
	if _, err := os.Stat(s.pathFor(d)); err == nil {
		s.cache.Add(d, struct{}{})
		return true, nil
	} else if !os.IsNotExist(err) {
		return false, chunkcore.Wrap("sink.FilesystemContentSink.Contains", chunkcore.KindSinkError, err)
	}
	return false, nil
}

func (s *FilesystemContentSink) Put(ctx context.Context, d digest.Digest, data []byte) (bool, error) {
	if present, err := s.Contains(ctx, d); err != nil {
		return false, err
	} else if present {
		return false, nil
	}

	dir := filepath.Join(s.storeRoot, d.String()[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, chunkcore.Wrap("sink.FilesystemContentSink.Put", chunkcore.KindSinkError, err)
	}

	tmp, err := os.CreateTemp(dir, "chunk-*.tmp")
	if err != nil {
		return false, chunkcore.Wrap("sink.FilesystemContentSink.Put", chunkcore.KindSinkError, err)
	}
	tmpPath := tmp.Name()
	abort := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	var writeErr error
	if s.compress {
		enc, err := zstd.NewWriter(tmp)
		if err != nil {
			abort()
			return false, chunkcore.Wrap("sink.FilesystemContentSink.Put", chunkcore.KindSinkError, err)
		}
		if _, err := enc.Write(data); err != nil {
			writeErr = err
		}
		if cerr := enc.Close(); writeErr == nil {
			writeErr = cerr
		}
	} else {
		_, writeErr = io.Copy(tmp, bytes.NewReader(data))
	}
	if writeErr != nil {
		abort()
		return false, chunkcore.Wrap("sink.FilesystemContentSink.Put", chunkcore.KindSinkError, writeErr)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return false, chunkcore.Wrap("sink.FilesystemContentSink.Put", chunkcore.KindSinkError, err)
	}

	finalPath := s.pathFor(d)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return false, chunkcore.Wrap("sink.FilesystemContentSink.Put", chunkcore.KindSinkError, err)
	}

	s.cache.Add(d, struct{}{})
	return true, nil
}
