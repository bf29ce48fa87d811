// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize bounds a single throttled read, mirroring the teacher's
// write-side throttle's burst cap.
const maxBurstSize = 256 * 1024

// ThrottledReader is an io.ReaderAt with token-bucket rate limiting,
// inverted from the teacher's ThrottledWriter for the read-dominated
// chunking path. bytesPerSec <= 0 bypasses throttling entirely.
type ThrottledReader struct {
	r       io.ReaderAt
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledReader wraps r with a token-bucket limiter. Returns r itself
// (untouched) when bytesPerSec <= 0.
func NewThrottledReader(ctx context.Context, r io.ReaderAt, bytesPerSec int64) io.ReaderAt {
	if bytesPerSec <= 0 {
		return r
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &ThrottledReader{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

func (tr *ThrottledReader) ReadAt(p []byte, off int64) (int, error) {
	totalRead := 0
	for len(p) > 0 {
		chunk := len(p)
		if chunk > tr.limiter.Burst() {
			chunk = tr.limiter.Burst()
		}
		if err := tr.limiter.WaitN(tr.ctx, chunk); err != nil {
			return totalRead, err
		}
		n, err := tr.r.ReadAt(p[:chunk], off+int64(totalRead))
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		p = p[n:]
	}
	return totalRead, nil
}
