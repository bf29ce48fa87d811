// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/nishisan-dev/chunkcore/internal/arena"
	"github.com/nishisan-dev/chunkcore/internal/chunk"
	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
	"github.com/nishisan-dev/chunkcore/internal/digest"
	"github.com/nishisan-dev/chunkcore/internal/sink"
)

// memReaderAt is an in-memory io.ReaderAt for tests.
type memReaderAt struct{ data []byte }

func (m *memReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.data[off:])
	return n, nil
}

// failingSink errors on every Put, used to exercise SinkError propagation.
type failingSink struct{}

func (failingSink) Contains(ctx context.Context, d digest.Digest) (bool, error) { return false, nil }
func (failingSink) Put(ctx context.Context, d digest.Digest, data []byte) (bool, error) {
	return false, errors.New("simulated sink failure")
}

func TestPipeline_RunSinksEveryChunkExactlyOnce(t *testing.T) {
	svc := digest.NewSHA256Service()
	a := arena.New(1024, 4)
	fc, err := chunk.NewFixedChunker(svc, a, 1024)
	if err != nil {
		t.Fatalf("NewFixedChunker: %v", err)
	}

	data := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(data)

	contentSink := sink.NewMemoryContentSink()
	p := New(fc, contentSink, 2)

	res := p.Run(context.Background(), a, &memReaderAt{data: data}, FileInput{
		Path: "f.bin",
		Size: int64(len(data)),
	})

	if !res.Success {
		t.Fatalf("expected success, got err %v", res.Err)
	}
	if res.ChunkCount != 4 {
		t.Fatalf("expected 4 chunks, got %d", res.ChunkCount)
	}
	if contentSink.Len() != 4 {
		t.Fatalf("expected 4 distinct chunks sunk, got %d", contentSink.Len())
	}
	for _, d := range res.ChunkDigests {
		if _, ok := contentSink.Get(d); !ok {
			t.Fatalf("chunk digest %s missing from sink", d)
		}
	}
}

func TestPipeline_RunPreservesChunkOrder(t *testing.T) {
	svc := digest.NewSHA256Service()
	a := arena.New(512, 8)
	fc, err := chunk.NewFixedChunker(svc, a, 512)
	if err != nil {
		t.Fatalf("NewFixedChunker: %v", err)
	}

	data := make([]byte, 512*20)
	for i := range data {
		data[i] = byte(i / 512)
	}

	contentSink := sink.NewMemoryContentSink()
	p := New(fc, contentSink, 4)

	res := p.Run(context.Background(), a, &memReaderAt{data: data}, FileInput{
		Path: "ordered.bin",
		Size: int64(len(data)),
	})

	if !res.Success {
		t.Fatalf("expected success, got err %v", res.Err)
	}
	for i := 0; i < len(res.ChunkDigests); i++ {
		expected := svc.DigestBytes(data[i*512 : (i+1)*512])
		if res.ChunkDigests[i] != expected {
			t.Fatalf("chunk %d out of order or wrong digest", i)
		}
	}
}

func TestPipeline_SinkErrorFailsFile(t *testing.T) {
	svc := digest.NewSHA256Service()
	a := arena.New(1024, 4)
	fc, err := chunk.NewFixedChunker(svc, a, 1024)
	if err != nil {
		t.Fatalf("NewFixedChunker: %v", err)
	}

	data := make([]byte, 4096)
	rand.New(rand.NewSource(2)).Read(data)

	p := New(fc, failingSink{}, 2)
	res := p.Run(context.Background(), a, &memReaderAt{data: data}, FileInput{
		Path: "fail.bin",
		Size: int64(len(data)),
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if !chunkcore.Is(res.Err, chunkcore.KindSinkError) {
		t.Fatalf("expected SinkError, got %v", res.Err)
	}
}

func TestPipeline_RunSinksAllChunksUnderSmallConcurrencyCap(t *testing.T) {
	svc := digest.NewSHA256Service()
	a := arena.New(256, 16)
	fc, err := chunk.NewFixedChunker(svc, a, 256)
	if err != nil {
		t.Fatalf("NewFixedChunker: %v", err)
	}

	data := make([]byte, 256*30)
	rand.New(rand.NewSource(3)).Read(data)

	contentSink := sink.NewMemoryContentSink()
	p := New(fc, contentSink, 3)

	res := p.Run(context.Background(), a, &memReaderAt{data: data}, FileInput{
		Path: "many.bin",
		Size: int64(len(data)),
	})

	if !res.Success {
		t.Fatalf("expected success, got err %v", res.Err)
	}
	if res.ChunkCount != 30 {
		t.Fatalf("expected 30 chunks, got %d", res.ChunkCount)
	}
	if contentSink.Len() != 30 {
		t.Fatalf("expected 30 distinct chunks sunk, got %d", contentSink.Len())
	}
}

func TestPipeline_CancelledContextAbortsDispatch(t *testing.T) {
	svc := digest.NewSHA256Service()
	a := arena.New(256, 4)
	fc, err := chunk.NewFixedChunker(svc, a, 256)
	if err != nil {
		t.Fatalf("NewFixedChunker: %v", err)
	}

	data := make([]byte, 256*10)
	rand.New(rand.NewSource(4)).Read(data)

	contentSink := sink.NewMemoryContentSink()
	p := New(fc, contentSink, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Run(ctx, a, &memReaderAt{data: data}, FileInput{
		Path: "cancelled.bin",
		Size: int64(len(data)),
	})

	if res.Success {
		t.Fatal("expected failure on pre-cancelled context")
	}
	if !chunkcore.Is(res.Err, chunkcore.KindCancelled) {
		t.Fatalf("expected Cancelled, got %v", res.Err)
	}
}
