// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package digest

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestSHA256Service_DigestBytes(t *testing.T) {
	s := NewSHA256Service()
	want := Digest(sha256.Sum256([]byte("hello")))
	got := s.DigestBytes([]byte("hello"))
	if got != want {
		t.Errorf("DigestBytes mismatch: got %s want %s", got, want)
	}
}

func TestSHA256Service_EmptyDigest(t *testing.T) {
	s := NewSHA256Service()
	want := Digest(sha256.Sum256(nil))
	if s.EmptyDigest() != want {
		t.Errorf("EmptyDigest mismatch")
	}
	inc := s.NewIncremental()
	if inc.Finish() != want {
		t.Errorf("incremental digest of no updates should equal EmptyDigest")
	}
}

func TestSHA256Service_IncrementalAssociativity(t *testing.T) {
	s := NewSHA256Service()
	a, b := []byte("foo"), []byte("bar")

	whole := s.NewIncremental()
	whole.Update(append(append([]byte{}, a...), b...))

	split := s.NewIncremental()
	split.Update(a)
	split.Update(b)

	if whole.Finish() != split.Finish() {
		t.Errorf("incremental digest is not associative across Update boundaries")
	}
}

func TestSHA256Service_UpdateZerosMatchesRealZeros(t *testing.T) {
	s := NewSHA256Service()

	withZeros := s.NewIncremental()
	withZeros.Update([]byte("prefix"))
	if err := withZeros.UpdateZeros(200 * 1024); err != nil {
		t.Fatalf("UpdateZeros: %v", err)
	}
	withZeros.Update([]byte("suffix"))

	materialised := s.NewIncremental()
	materialised.Update([]byte("prefix"))
	materialised.Update(bytes.Repeat([]byte{0}, 200*1024))
	materialised.Update([]byte("suffix"))

	if withZeros.Finish() != materialised.Finish() {
		t.Errorf("UpdateZeros digest does not match materialised zero bytes")
	}
}

func TestSHA256Service_Reset(t *testing.T) {
	s := NewSHA256Service()
	inc := s.NewIncremental()
	inc.Update([]byte("something"))
	inc.Reset()
	if inc.Finish() != s.EmptyDigest() {
		t.Errorf("Reset did not clear accumulated state")
	}
}
