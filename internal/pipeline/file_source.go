// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pipeline

import (
	"io"

	"github.com/nishisan-dev/chunkcore/internal/chunk"
)

// fileSource adapts an io.ReaderAt (optionally throttled) plus a known
// logical size and sparse-hole map into chunk.Source.
type fileSource struct {
	r    io.ReaderAt
	size int64
	runs []chunk.SparseRun
}

func (f *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return f.r.ReadAt(p, off)
}

func (f *fileSource) Size() int64 { return f.size }

func (f *fileSource) SparseRuns() []chunk.SparseRun { return f.runs }
