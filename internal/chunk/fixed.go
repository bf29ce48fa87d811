// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package chunk

import (
	"github.com/nishisan-dev/chunkcore/internal/arena"
	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
	"github.com/nishisan-dev/chunkcore/internal/digest"
)

// FixedChunker splits a file into equal-sized chunks of chunkSize bytes,
// the last possibly shorter (spec.md §4.3).
type FixedChunker struct {
	digestSvc digest.Service
	arena     *arena.BufferArena
	chunkSize int64
}

// NewFixedChunker validates chunkSize and constructs a FixedChunker.
func NewFixedChunker(digestSvc digest.Service, buffers *arena.BufferArena, chunkSize int64) (*FixedChunker, error) {
	if chunkSize < 1 {
		return nil, chunkcore.New("chunk.NewFixedChunker", chunkcore.KindInvalidArgument)
	}
	return &FixedChunker{digestSvc: digestSvc, arena: buffers, chunkSize: chunkSize}, nil
}

func (c *FixedChunker) Chunk(src Source, filePath string, onChunk OnChunk) Result {
	total := src.Size()
	if total == 0 {
		return Result{
			FilePath:     filePath,
			FileDigest:   c.digestSvc.EmptyDigest(),
			ChunkDigests: []digest.Digest{},
			Success:      true,
		}
	}

	buf, err := c.arena.Acquire(c.chunkSize)
	if err != nil {
		return Result{FilePath: filePath, Err: err}
	}
	defer c.arena.Release(buf)

	fileInc := c.digestSvc.NewIncremental()
	var chunkDigests []digest.Digest
	var totalSize, sparseSize int64

	for offset := int64(0); offset < total; {
		length := c.chunkSize
		if remaining := total - offset; remaining < length {
			length = remaining
		}
		window := buf[:length]
		sparse, err := fillWindow(src, offset, length, window)
		if err != nil {
			return Result{FilePath: filePath, Err: chunkcore.Wrap("chunk.FixedChunker.Chunk", chunkcore.KindIoError, err)}
		}
		sparseSize += sparse

		cd := c.digestSvc.DigestBytes(window)
		chunkDigests = append(chunkDigests, cd)
		if _, err := fileInc.Update(window); err != nil {
			return Result{FilePath: filePath, Err: chunkcore.Wrap("chunk.FixedChunker.Chunk", chunkcore.KindDigestError, err)}
		}
		if onChunk != nil {
			if err := onChunk(len(chunkDigests)-1, cd, window); err != nil {
				return Result{FilePath: filePath, Err: err}
			}
		}

		totalSize += length
		offset += length
	}

	return Result{
		FilePath:     filePath,
		TotalSize:    totalSize,
		SparseSize:   sparseSize,
		ChunkCount:   len(chunkDigests),
		FileDigest:   fileInc.Finish(),
		ChunkDigests: chunkDigests,
		Success:      true,
	}
}
