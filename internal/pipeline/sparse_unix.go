// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build linux || darwin

package pipeline

import (
	"os"

	"github.com/nishisan-dev/chunkcore/internal/chunk"
)

const (
	seekData = 3 // SEEK_DATA
	seekHole = 4 // SEEK_HOLE
)

// DetectSparseRuns locates holes in f via SEEK_HOLE/SEEK_DATA, producing
// the sparse-run map a FileInput needs so the chunker can fold holes as
// zeros without reading them from disk. Returns nil (no known holes) if
// the filesystem does not support SEEK_HOLE.
func DetectSparseRuns(f *os.File, size int64) []chunk.SparseRun {
	var runs []chunk.SparseRun
	offset := int64(0)
	for offset < size {
		holeStart, err := f.Seek(offset, seekHole)
		if err != nil || holeStart >= size {
			break
		}
		dataStart, err := f.Seek(holeStart, seekData)
		if err != nil {
			dataStart = size
		}
		if dataStart > holeStart {
			runs = append(runs, chunk.SparseRun{Offset: holeStart, Length: dataStart - holeStart})
		}
		offset = dataStart
		if err != nil {
			break
		}
	}
	return runs
}
