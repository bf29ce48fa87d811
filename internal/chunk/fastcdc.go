// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package chunk

import (
	"github.com/nishisan-dev/chunkcore/internal/arena"
	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
	"github.com/nishisan-dev/chunkcore/internal/digest"
)

// FastCDChunker implements content-defined chunking via a FastCDC-style
// gear hash (spec.md §4.4), grounded on the buffer-refill/boundary-finder
// split of the reference FastCDC chunker in the retrieval pack.
type FastCDChunker struct {
	digestSvc digest.Service
	arena     *arena.BufferArena

	min, avg, max int64
	maskS, maskL  uint64
}

// NewFastCDChunker validates min <= avg <= max and derives MASK_S/MASK_L
// from avg per spec.md §6: popcount(MASK_S) = floor(log2(avg))+1,
// popcount(MASK_L) = floor(log2(avg))-1.
func NewFastCDChunker(digestSvc digest.Service, buffers *arena.BufferArena, min, avg, max int64) (*FastCDChunker, error) {
	if min < 1 || avg < min || max < avg {
		return nil, chunkcore.New("chunk.NewFastCDChunker", chunkcore.KindInvalidArgument)
	}
	popS := log2Floor(avg) + 1
	popL := log2Floor(avg) - 1
	if popL < 0 {
		return nil, chunkcore.New("chunk.NewFastCDChunker", chunkcore.KindInvalidArgument)
	}
	return &FastCDChunker{
		digestSvc: digestSvc,
		arena:     buffers,
		min:       min,
		avg:       avg,
		max:       max,
		maskS:     maskWithPopcount(popS),
		maskL:     maskWithPopcount(popL),
	}, nil
}

func (c *FastCDChunker) Chunk(src Source, filePath string, onChunk OnChunk) Result {
	total := src.Size()
	if total == 0 {
		return Result{
			FilePath:     filePath,
			FileDigest:   c.digestSvc.EmptyDigest(),
			ChunkDigests: []digest.Digest{},
			Success:      true,
		}
	}

	if total < c.min {
		return c.singleChunk(src, filePath, total, onChunk)
	}

	bufCap := c.max * 2
	buf, err := c.arena.Acquire(bufCap)
	if err != nil {
		return Result{FilePath: filePath, Err: err}
	}
	defer c.arena.Release(buf)

	var (
		cursor, validLen int
		bufStart         int64
		totalSize        int64
		sparseSize       int64
		chunkDigests     []digest.Digest
	)
	fileInc := c.digestSvc.NewIncremental()

	refill := func() error {
		unconsumed := validLen - cursor
		copy(buf[:unconsumed], buf[cursor:validLen])
		bufStart += int64(cursor)
		cursor = 0
		validLen = unconsumed

		available := bufStart + int64(validLen)
		if available >= total {
			return nil
		}
		readLen := int64(cap(buf)) - int64(validLen)
		if available+readLen > total {
			readLen = total - available
		}
		sparse, err := fillWindow(src, available, readLen, buf[validLen:validLen+int(readLen)])
		if err != nil {
			return err
		}
		sparseSize += sparse
		validLen += int(readLen)
		return nil
	}

	for {
		if int64(validLen-cursor) < c.max && bufStart+int64(validLen) < total {
			if err := refill(); err != nil {
				return Result{FilePath: filePath, Err: chunkcore.Wrap("chunk.FastCDChunker.Chunk", chunkcore.KindIoError, err)}
			}
		}

		window := buf[cursor:validLen]
		if len(window) == 0 {
			break
		}

		boundary := c.findBoundary(window)
		chunkBytes := window[:boundary]

		cd := c.digestSvc.DigestBytes(chunkBytes)
		chunkDigests = append(chunkDigests, cd)
		if _, err := fileInc.Update(chunkBytes); err != nil {
			return Result{FilePath: filePath, Err: chunkcore.Wrap("chunk.FastCDChunker.Chunk", chunkcore.KindDigestError, err)}
		}
		if onChunk != nil {
			if err := onChunk(len(chunkDigests)-1, cd, chunkBytes); err != nil {
				return Result{FilePath: filePath, Err: err}
			}
		}

		totalSize += int64(boundary)
		cursor += boundary
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

// singleChunk handles the tie-break for files smaller than min: the whole
// file becomes one chunk, no gear-hash scan performed.
func (c *FastCDChunker) singleChunk(src Source, filePath string, total int64, onChunk OnChunk) Result {
	buf, err := c.arena.Acquire(total)
	if err != nil {
		return Result{FilePath: filePath, Err: err}
	}
	defer c.arena.Release(buf)

	window := buf[:total]
	sparse, err := fillWindow(src, 0, total, window)
	if err != nil {
		return Result{FilePath: filePath, Err: chunkcore.Wrap("chunk.FastCDChunker.Chunk", chunkcore.KindIoError, err)}
	}

	cd := c.digestSvc.DigestBytes(window)
	fileInc := c.digestSvc.NewIncremental()
	if _, err := fileInc.Update(window); err != nil {
		return Result{FilePath: filePath, Err: chunkcore.Wrap("chunk.FastCDChunker.Chunk", chunkcore.KindDigestError, err)}
	}
	if onChunk != nil {
		if err := onChunk(0, cd, window); err != nil {
			return Result{FilePath: filePath, Err: err}
		}
	}

	return Result{
		FilePath:     filePath,
		TotalSize:    total,
		SparseSize:   sparse,
		ChunkCount:   1,
		FileDigest:   fileInc.Finish(),
		ChunkDigests: []digest.Digest{cd},
		Success:      true,
	}
}

// findBoundary scans window (already capped conceptually at c.max bytes of
// interest) for a gear-hash cut point, returning the chunk length. Falling
// off the end of window without a natural or forced cut just returns the
// whole window; the caller only does this when no more bytes remain to read.
func (c *FastCDChunker) findBoundary(window []byte) int {
	limit := len(window)
	if int64(limit) > c.max {
		limit = int(c.max)
	}

	var h uint64
	for i := 0; i < limit; i++ {
		h = (h << 1) + gearTable[window[i]]
		length := int64(i + 1)

		switch {
		case length < c.min:
			continue
		case length < c.avg:
			if h&c.maskS == 0 {
				return i + 1
			}
		case length < c.max:
			if h&c.maskL == 0 {
				return i + 1
			}
		default:
			return i + 1 // length == max: forced cut
		}
	}
	return len(window)
}
