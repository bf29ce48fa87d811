// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates the YAML configuration for the
// scancore driver: scan options, chunking options and sink wiring.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProcessorConfig is the root configuration document for cmd/scancore.
type ProcessorConfig struct {
	Root      string          `yaml:"root"`
	Scan      ScanOptions     `yaml:"scan"`
	Chunking  ChunkingOptions `yaml:"chunking"`
	Arena     ArenaConfig     `yaml:"arena"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sink      SinkConfig      `yaml:"sink"`
	Logging   LoggingInfo     `yaml:"logging"`
	Schedule  string          `yaml:"schedule"` // optional cron expression for repeat mode
}

// ArenaConfig sizes the BufferArena: the bounded-memory/backpressure knob
// (spec.md §4.1, peak memory O(buffer_size * capacity)). Distinct from any
// sink's dedup cache size, which bounds a lookup cache, not live buffers.
type ArenaConfig struct {
	BufferSize    string `yaml:"buffer_size"` // human-readable, e.g. "4mb"; "" = derive from chunking.max_chunk_size/chunk_size
	BufferSizeRaw int64  `yaml:"-"`
	Capacity      int64  `yaml:"capacity"` // 0 = default 64
}

// ScanOptions configures the Walker. Mirrors spec.md §4.2.
type ScanOptions struct {
	IncludePattern    string `yaml:"include_pattern"`
	ExcludePattern    string `yaml:"exclude_pattern"`
	IncludeHidden     bool   `yaml:"include_hidden"`
	MaxDepth          int    `yaml:"max_depth"` // 0 = unlimited
	MinFileSize       int64  `yaml:"min_file_size"`
	MaxFileSize       int64  `yaml:"max_file_size"` // 0 = unlimited
	SymlinkStrategy   string `yaml:"symlink_strategy" default:"skip"`
	DetectSparseFiles bool   `yaml:"detect_sparse_files"`
}

// ChunkingOptions configures the Chunker and ChunkPipeline. Mirrors spec.md §3.
// Size fields accept human-readable strings ("1mb", "256kb") the way the
// teacher's agent/server configs do, parsed through ParseByteSize into the
// matching *Raw field during validate().
type ChunkingOptions struct {
	Algorithm             string `yaml:"algorithm"` // "fixed" | "cdc"
	ChunkSize             string `yaml:"chunk_size"`
	ChunkSizeRaw          int64  `yaml:"-"`
	MinChunkSize          string `yaml:"min_chunk_size"` // CDC only; "" = derive from ChunkSize
	MinChunkSizeRaw       int64  `yaml:"-"`
	MaxChunkSize          string `yaml:"max_chunk_size"` // CDC only; "" = derive from ChunkSize
	MaxChunkSizeRaw       int64  `yaml:"-"`
	UseAsyncIO            bool   `yaml:"use_async_io"`
	DetectSparseFiles     bool   `yaml:"detect_sparse_files"`
	MaxConcurrentChunk    int    `yaml:"max_concurrent_chunks"`     // default 4
	MaxReadBytesPerSec    string `yaml:"max_read_bytes_per_sec"`    // "" = unlimited; ambient throttling, not a spec field
	MaxReadBytesPerSecRaw int64  `yaml:"-"`
}

// SchedulerConfig configures the Scheduler's two worker pools.
type SchedulerConfig struct {
	IOCap        int  `yaml:"io_cap"`  // 0 = derive: min(32, 2*cores)
	CPUCap       int  `yaml:"cpu_cap"` // 0 = derive: cores
	HostAware    bool `yaml:"host_aware"` // size using gopsutil instead of runtime.NumCPU
}

// SinkConfig selects and configures the ContentSink/MetadataSink pair.
type SinkConfig struct {
	Content ContentSinkConfig `yaml:"content"`
	Meta    MetaSinkConfig    `yaml:"metadata"`
}

// ContentSinkConfig configures the content-addressed chunk store.
type ContentSinkConfig struct {
	Kind            string `yaml:"kind"` // "filesystem" | "s3" | "memory"
	Path            string `yaml:"path"` // filesystem store root
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`     // s3 only; empty uses the default AWS credential chain
	SecretAccessKey string `yaml:"secret_access_key"` // s3 only
	Compress        bool   `yaml:"compress"`
	CacheSize       int    `yaml:"cache_size"`
}

// MetaSinkConfig configures the snapshot metadata sink.
type MetaSinkConfig struct {
	Kind string `yaml:"kind"` // "jsonl" | "memory"
	Path string `yaml:"path"` // directory for .jsonl snapshot files
}

// LoggingInfo contains logging configuration. Same shape as the agent's.
type LoggingInfo struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
}

// DefaultChunkSize matches the teacher's default streaming chunk size (1MB).
const DefaultChunkSize = 1 * 1024 * 1024

// LoadProcessorConfig reads and validates the YAML configuration file.
func LoadProcessorConfig(path string) (*ProcessorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading processor config: %w", err)
	}

	var cfg ProcessorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing processor config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating processor config: %w", err)
	}

	return &cfg, nil
}

func (c *ProcessorConfig) validate() error {
	if c.Root == "" {
		return fmt.Errorf("root is required")
	}

	switch strings.ToLower(c.Scan.SymlinkStrategy) {
	case "":
		c.Scan.SymlinkStrategy = "skip"
	case "skip", "record", "follow":
	default:
		return fmt.Errorf("scan.symlink_strategy must be one of skip|record|follow, got %q", c.Scan.SymlinkStrategy)
	}

	switch strings.ToLower(c.Chunking.Algorithm) {
	case "", "fixed":
		c.Chunking.Algorithm = "fixed"
	case "cdc":
		c.Chunking.Algorithm = "cdc"
	default:
		return fmt.Errorf("chunking.algorithm must be fixed|cdc, got %q", c.Chunking.Algorithm)
	}

	if c.Chunking.ChunkSize == "" {
		c.Chunking.ChunkSizeRaw = DefaultChunkSize
	} else {
		parsed, err := ParseByteSize(c.Chunking.ChunkSize)
		if err != nil {
			return fmt.Errorf("chunking.chunk_size: %w", err)
		}
		c.Chunking.ChunkSizeRaw = parsed
	}
	if c.Chunking.Algorithm == "cdc" {
		if c.Chunking.MinChunkSize == "" {
			c.Chunking.MinChunkSizeRaw = c.Chunking.ChunkSizeRaw / 4
			if c.Chunking.MinChunkSizeRaw < 512 {
				c.Chunking.MinChunkSizeRaw = 512
			}
		} else {
			parsed, err := ParseByteSize(c.Chunking.MinChunkSize)
			if err != nil {
				return fmt.Errorf("chunking.min_chunk_size: %w", err)
			}
			c.Chunking.MinChunkSizeRaw = parsed
		}
		if c.Chunking.MaxChunkSize == "" {
			c.Chunking.MaxChunkSizeRaw = c.Chunking.ChunkSizeRaw * 4
		} else {
			parsed, err := ParseByteSize(c.Chunking.MaxChunkSize)
			if err != nil {
				return fmt.Errorf("chunking.max_chunk_size: %w", err)
			}
			c.Chunking.MaxChunkSizeRaw = parsed
		}
		if c.Chunking.MinChunkSizeRaw > c.Chunking.ChunkSizeRaw {
			return fmt.Errorf("chunking.min_chunk_size (%d) must be <= chunk_size (%d)", c.Chunking.MinChunkSizeRaw, c.Chunking.ChunkSizeRaw)
		}
		if c.Chunking.MaxChunkSizeRaw < c.Chunking.ChunkSizeRaw {
			return fmt.Errorf("chunking.max_chunk_size (%d) must be >= chunk_size (%d)", c.Chunking.MaxChunkSizeRaw, c.Chunking.ChunkSizeRaw)
		}
	}
	if c.Chunking.MaxConcurrentChunk <= 0 {
		c.Chunking.MaxConcurrentChunk = 4
	}
	if c.Chunking.MaxReadBytesPerSec != "" {
		parsed, err := ParseByteSize(c.Chunking.MaxReadBytesPerSec)
		if err != nil {
			return fmt.Errorf("chunking.max_read_bytes_per_sec: %w", err)
		}
		c.Chunking.MaxReadBytesPerSecRaw = parsed
	}

	if c.Arena.BufferSize == "" {
		c.Arena.BufferSizeRaw = c.Chunking.MaxChunkSizeRaw
		if c.Arena.BufferSizeRaw <= 0 {
			c.Arena.BufferSizeRaw = c.Chunking.ChunkSizeRaw
		}
	} else {
		parsed, err := ParseByteSize(c.Arena.BufferSize)
		if err != nil {
			return fmt.Errorf("arena.buffer_size: %w", err)
		}
		c.Arena.BufferSizeRaw = parsed
	}
	if c.Arena.Capacity <= 0 {
		c.Arena.Capacity = 64
	}

	if c.Scheduler.CPUCap < 0 || c.Scheduler.IOCap < 0 {
		return fmt.Errorf("scheduler caps must be >= 0")
	}

	if c.Sink.Content.Kind == "" {
		c.Sink.Content.Kind = "memory"
	}
	if c.Sink.Meta.Kind == "" {
		c.Sink.Meta.Kind = "memory"
	}
	if c.Sink.Content.CacheSize <= 0 {
		c.Sink.Content.CacheSize = 4096
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// ParseByteSize converts human-readable strings like "256mb", "1gb" to bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Longest suffix first so "mb" never matches as "b".
	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
