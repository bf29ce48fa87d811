// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build !linux && !darwin

package walker

import "io/fs"

// detectSparse has no portable block-count signal outside Linux/Darwin;
// per SPEC_FULL.md's documented fallback, files are never reported sparse
// on these platforms rather than guessing.
func detectSparse(path string, info fs.FileInfo) bool {
	return false
}

// deviceInode has no portable (device, inode) identity outside
// Linux/Darwin; Follow-mode cycle detection is disabled on these
// platforms (every directory symlink is treated as non-cyclic).
func deviceInode(info fs.FileInfo) ([2]uint64, bool) {
	return [2]uint64{}, false
}
