// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build !linux && !darwin

package pipeline

import (
	"os"

	"github.com/nishisan-dev/chunkcore/internal/chunk"
)

// DetectSparseRuns has no portable SEEK_HOLE/SEEK_DATA equivalent on this
// platform; sparse detection degrades to "no known holes" rather than
// failing the file.
func DetectSparseRuns(f *os.File, size int64) []chunk.SparseRun {
	return nil
}
