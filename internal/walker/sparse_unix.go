// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build linux || darwin

package walker

import (
	"io/fs"
	"syscall"

	"golang.org/x/sys/unix"
)

// detectSparse reports whether the file at path has fewer allocated blocks
// than its logical size implies, the signal spec.md §4.2 step 5 calls for.
// Block size is the POSIX-standard 512 bytes used by st_blocks.
func detectSparse(path string, info fs.FileInfo) bool {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return false
	}
	allocated := int64(stat.Blocks) * 512
	return allocated < info.Size()
}

// deviceInode extracts the (device, inode) identity used for symlink
// cycle detection in Follow mode.
func deviceInode(info fs.FileInfo) ([2]uint64, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return [2]uint64{}, false
	}
	return [2]uint64{uint64(stat.Dev), uint64(stat.Ino)}, true
}
