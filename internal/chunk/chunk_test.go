// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package chunk

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/nishisan-dev/chunkcore/internal/arena"
	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
	"github.com/nishisan-dev/chunkcore/internal/digest"
)

// memSource is an in-memory Source for tests; sparse runs are simply not
// materialized in data (left as whatever the caller put there, treated as
// logical zeros by the chunker regardless of data's actual contents).
type memSource struct {
	data []byte
	runs []SparseRun
}

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.data[off:])
	return n, nil
}
func (m *memSource) Size() int64             { return int64(len(m.data)) }
func (m *memSource) SparseRuns() []SparseRun { return m.runs }

func newDigestSvc() digest.Service { return digest.NewSHA256Service() }

func TestFixedChunker_EmptyFile(t *testing.T) {
	svc := newDigestSvc()
	a := arena.New(4096, 2)
	c, err := NewFixedChunker(svc, a, 4096)
	if err != nil {
		t.Fatalf("NewFixedChunker: %v", err)
	}

	res := c.Chunk(&memSource{}, "empty.bin", nil)
	if !res.Success {
		t.Fatalf("expected success, got err %v", res.Err)
	}
	if res.ChunkCount != 0 || len(res.ChunkDigests) != 0 || res.TotalSize != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if res.FileDigest != svc.EmptyDigest() {
		t.Fatalf("expected empty-file digest")
	}
}

func TestFixedChunker_ExactMultiple(t *testing.T) {
	svc := newDigestSvc()
	a := arena.New(1024, 2)
	c, err := NewFixedChunker(svc, a, 1024)
	if err != nil {
		t.Fatalf("NewFixedChunker: %v", err)
	}

	data := make([]byte, 4096)
	for i := range data {
		if i%2 == 0 {
			data[i] = 0x42
		} else {
			data[i] = 0x43
		}
	}

	res := c.Chunk(&memSource{data: data}, "exact.bin", nil)
	if !res.Success {
		t.Fatalf("expected success, got err %v", res.Err)
	}
	if res.ChunkCount != 4 {
		t.Fatalf("expected 4 chunks, got %d", res.ChunkCount)
	}
	if res.TotalSize != 4096 {
		t.Fatalf("expected total size 4096, got %d", res.TotalSize)
	}
}

func TestFixedChunker_PartialLastChunk(t *testing.T) {
	svc := newDigestSvc()
	a := arena.New(2048, 2)
	c, err := NewFixedChunker(svc, a, 2048)
	if err != nil {
		t.Fatalf("NewFixedChunker: %v", err)
	}

	data := make([]byte, 5000)
	rand.New(rand.NewSource(1)).Read(data)

	res := c.Chunk(&memSource{data: data}, "partial.bin", nil)
	if !res.Success {
		t.Fatalf("expected success, got err %v", res.Err)
	}
	if res.ChunkCount != 3 {
		t.Fatalf("expected 3 chunks, got %d", res.ChunkCount)
	}
	if res.TotalSize != 5000 {
		t.Fatalf("expected total size 5000, got %d", res.TotalSize)
	}
}

func TestFixedChunker_RejectsInvalidChunkSize(t *testing.T) {
	svc := newDigestSvc()
	a := arena.New(64, 1)
	_, err := NewFixedChunker(svc, a, 0)
	if !chunkcore.Is(err, chunkcore.KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestFastCDChunker_RejectsInvertedBounds(t *testing.T) {
	svc := newDigestSvc()
	a := arena.New(4096, 2)
	_, err := NewFastCDChunker(svc, a, 2048, 1024, 4096)
	if !chunkcore.Is(err, chunkcore.KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument for min>avg, got %v", err)
	}
}

func TestFastCDChunker_SmallerThanMinIsSingleChunk(t *testing.T) {
	svc := newDigestSvc()
	a := arena.New(4096, 2)
	c, err := NewFastCDChunker(svc, a, 1024, 4096, 16384)
	if err != nil {
		t.Fatalf("NewFastCDChunker: %v", err)
	}

	data := make([]byte, 100)
	rand.New(rand.NewSource(2)).Read(data)

	res := c.Chunk(&memSource{data: data}, "tiny.bin", nil)
	if !res.Success {
		t.Fatalf("expected success, got err %v", res.Err)
	}
	if res.ChunkCount != 1 {
		t.Fatalf("expected single chunk for file smaller than min, got %d", res.ChunkCount)
	}
	if res.TotalSize != 100 {
		t.Fatalf("expected total size 100, got %d", res.TotalSize)
	}
}

func TestFastCDChunker_ProducesMultipleChunksAndRespectsMax(t *testing.T) {
	svc := newDigestSvc()
	a := arena.New(1 << 20, 2)
	c, err := NewFastCDChunker(svc, a, 1024, 4096, 16384)
	if err != nil {
		t.Fatalf("NewFastCDChunker: %v", err)
	}

	data := make([]byte, 256*1024)
	rand.New(rand.NewSource(3)).Read(data)

	res := c.Chunk(&memSource{data: data}, "big.bin", nil)
	if !res.Success {
		t.Fatalf("expected success, got err %v", res.Err)
	}
	if res.ChunkCount < 2 {
		t.Fatalf("expected multiple chunks over 256KiB of random data, got %d", res.ChunkCount)
	}
	if res.TotalSize != int64(len(data)) {
		t.Fatalf("expected total size %d, got %d", len(data), res.TotalSize)
	}
}

// TestFastCDChunker_ShiftResistance exercises S4: inserting a few bytes
// near the start of a file should leave the majority of chunk boundaries
// (and therefore digests) downstream unchanged, unlike fixed-size
// chunking which would shift every subsequent boundary.
func TestFastCDChunker_ShiftResistance(t *testing.T) {
	svc := newDigestSvc()
	a := arena.New(1<<20, 2)
	c, err := NewFastCDChunker(svc, a, 1024, 4096, 16384)
	if err != nil {
		t.Fatalf("NewFastCDChunker: %v", err)
	}

	base := make([]byte, 512*1024)
	rand.New(rand.NewSource(4)).Read(base)

	shifted := make([]byte, 0, len(base)+37)
	shifted = append(shifted, base[:1000]...)
	insertion := make([]byte, 37)
	rand.New(rand.NewSource(5)).Read(insertion)
	shifted = append(shifted, insertion...)
	shifted = append(shifted, base[1000:]...)

	resBase := c.Chunk(&memSource{data: base}, "base.bin", nil)
	resShifted := c.Chunk(&memSource{data: shifted}, "shifted.bin", nil)
	if !resBase.Success || !resShifted.Success {
		t.Fatalf("expected success, got %v / %v", resBase.Err, resShifted.Err)
	}

	baseSet := make(map[digest.Digest]struct{}, len(resBase.ChunkDigests))
	for _, d := range resBase.ChunkDigests {
		baseSet[d] = struct{}{}
	}
	overlap := 0
	for _, d := range resShifted.ChunkDigests {
		if _, ok := baseSet[d]; ok {
			overlap++
		}
	}

	ratio := float64(overlap) / float64(len(resBase.ChunkDigests))
	if ratio < 0.80 {
		t.Fatalf("expected >=0.80 chunk-digest overlap after local insertion, got %.2f (%d/%d)", ratio, overlap, len(resBase.ChunkDigests))
	}
}

func TestFastCDChunker_SparseHolesFoldAsZeros(t *testing.T) {
	svc := newDigestSvc()
	a := arena.New(1<<20, 2)
	c, err := NewFastCDChunker(svc, a, 1024, 4096, 16384)
	if err != nil {
		t.Fatalf("NewFastCDChunker: %v", err)
	}

	size := int64(64 * 1024)
	sparseData := make([]byte, size)
	// holes at [10000,20000)
	src := &memSource{data: sparseData, runs: []SparseRun{{Offset: 10000, Length: 10000}}}
	res := c.Chunk(src, "sparse.bin", nil)
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.SparseSize != 10000 {
		t.Fatalf("expected sparse_size 10000, got %d", res.SparseSize)
	}

	materialized := bytes.Repeat([]byte{0}, int(size))
	denseRes := c.Chunk(&memSource{data: materialized}, "dense.bin", nil)
	if !denseRes.Success {
		t.Fatalf("expected success, got %v", denseRes.Err)
	}
	if res.FileDigest != denseRes.FileDigest {
		t.Fatalf("sparse file digest should equal an equivalent fully-zero file's digest")
	}
}
