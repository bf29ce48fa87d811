// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package chunk

// gearTable is the 256-entry table of pseudo-random 64-bit constants the
// FastCDC rolling hash folds one byte at a time. It is part of the wire
// contract (spec.md §6): every FastCDChunker in this system, regardless of
// version, must fold bytes against the exact same table or chunk
// boundaries — and therefore deduplication across snapshots — will not
// agree. The table below is generated once, at package init, from a
// fixed-seed splitmix64 stream (seed 0x9E3779B97F4A7C15, the standard
// splitmix64 golden-ratio constant) rather than hand-transcribed from a
// paper table, so it is reproducible from source without risk of a
// transcription error silently breaking interoperability.
var gearTable [256]uint64

func init() {
	state := uint64(0x9E3779B97F4A7C15)
	next := func() uint64 {
		state += 0x9E3779B97F4A7C15
		z := state
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		return z ^ (z >> 31)
	}
	for i := range gearTable {
		gearTable[i] = next()
	}
}

// popcount64 counts the set bits of x.
func popcount64(x uint64) int {
	count := 0
	for x != 0 {
		x &= x - 1
		count++
	}
	return count
}

// maskWithPopcount returns a contiguous low-bit mask with exactly n bits
// set (n clamped to [0,64]), matching the "contiguous low-bit mask" wire
// requirement for MASK_S/MASK_L.
func maskWithPopcount(n int) uint64 {
	if n <= 0 {
		return 0
	}
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}

// log2Floor returns floor(log2(x)) for x > 0.
func log2Floor(x int64) int {
	n := 0
	for x > 1 {
		x >>= 1
		n++
	}
	return n
}
