// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/chunkcore/internal/arena"
	"github.com/nishisan-dev/chunkcore/internal/chunk"
	"github.com/nishisan-dev/chunkcore/internal/config"
	"github.com/nishisan-dev/chunkcore/internal/digest"
	"github.com/nishisan-dev/chunkcore/internal/logging"
	"github.com/nishisan-dev/chunkcore/internal/processor"
	"github.com/nishisan-dev/chunkcore/internal/scheduler"
	"github.com/nishisan-dev/chunkcore/internal/sink"
	"github.com/nishisan-dev/chunkcore/internal/walker"
)

func main() {
	configPath := flag.String("config", "/etc/scancore/processor.yaml", "path to processor config file")
	once := flag.Bool("once", false, "run one scan and exit, ignoring any configured schedule")
	flag.Parse()

	cfg, err := config.LoadProcessorConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.FilePath)
	defer logCloser.Close()

	proc, err := buildProcessor(cfg, logger)
	if err != nil {
		logger.Error("failed to build processor", "error", err)
		os.Exit(1)
	}

	if *once || cfg.Schedule == "" {
		if err := runOnce(context.Background(), proc, cfg, logger); err != nil {
			logger.Error("scan failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runScheduled(cfg, proc, logger); err != nil {
		logger.Error("scheduled run error", "error", err)
		os.Exit(1)
	}
}

// buildProcessor wires the arena, digest service, scheduler, and sinks
// named in cfg into a ready-to-use processor.Processor.
func buildProcessor(cfg *config.ProcessorConfig, logger *slog.Logger) (*processor.Processor, error) {
	buffers := arena.New(cfg.Arena.BufferSizeRaw, cfg.Arena.Capacity)

	digestSvc := digest.NewSHA256Service()

	sched := scheduler.New(scheduler.Options{
		CPUCap:    cfg.Scheduler.CPUCap,
		IOCap:     cfg.Scheduler.IOCap,
		HostAware: cfg.Scheduler.HostAware,
	})

	contentSink, err := buildContentSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("building content sink: %w", err)
	}
	metaSink, err := buildMetaSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("building metadata sink: %w", err)
	}

	snapshotLogDir := ""
	if cfg.Logging.FilePath != "" {
		snapshotLogDir = cfg.Logging.FilePath + ".snapshots"
	}

	return processor.New(buffers, digestSvc, sched, contentSink, metaSink, logger, snapshotLogDir), nil
}

func buildContentSink(cfg *config.ProcessorConfig) (sink.ContentSink, error) {
	switch cfg.Sink.Content.Kind {
	case "filesystem":
		return sink.NewFilesystemContentSink(cfg.Sink.Content.Path, cfg.Sink.Content.Compress, cfg.Sink.Content.CacheSize)
	case "s3":
		return sink.NewS3ContentSink(context.Background(), cfg.Sink.Content.Bucket, cfg.Sink.Content.Prefix, cfg.Sink.Content.Region, cfg.Sink.Content.AccessKeyID, cfg.Sink.Content.SecretAccessKey, cfg.Sink.Content.CacheSize)
	case "memory", "":
		return sink.NewMemoryContentSink(), nil
	default:
		return nil, fmt.Errorf("unknown content sink kind %q", cfg.Sink.Content.Kind)
	}
}

func buildMetaSink(cfg *config.ProcessorConfig) (sink.MetadataSink, error) {
	switch cfg.Sink.Meta.Kind {
	case "jsonl":
		return sink.NewJSONLMetadataSink(cfg.Sink.Meta.Path)
	case "memory", "":
		return sink.NewMemoryMetadataSink(), nil
	default:
		return nil, fmt.Errorf("unknown metadata sink kind %q", cfg.Sink.Meta.Kind)
	}
}

func processorOptions(cfg *config.ProcessorConfig) processor.Options {
	algo := chunk.AlgorithmFixed
	if cfg.Chunking.Algorithm == "cdc" {
		algo = chunk.AlgorithmCDC
	}

	var symlinkStrategy walker.SymlinkStrategy
	switch cfg.Scan.SymlinkStrategy {
	case "record":
		symlinkStrategy = walker.SymlinkRecord
	case "follow":
		symlinkStrategy = walker.SymlinkFollow
	default:
		symlinkStrategy = walker.SymlinkSkip
	}

	maxDepth := cfg.Scan.MaxDepth
	if maxDepth == 0 {
		maxDepth = -1
	}

	return processor.Options{
		Scan: walker.Options{
			IncludePattern:    cfg.Scan.IncludePattern,
			ExcludePattern:    cfg.Scan.ExcludePattern,
			IncludeHidden:     cfg.Scan.IncludeHidden,
			MaxDepth:          maxDepth,
			MinFileSize:       cfg.Scan.MinFileSize,
			MaxFileSize:       cfg.Scan.MaxFileSize,
			SymlinkStrategy:   symlinkStrategy,
			DetectSparseFiles: cfg.Scan.DetectSparseFiles,
		},
		Chunking: chunk.Options{
			Algorithm:           algo,
			ChunkSize:           cfg.Chunking.ChunkSizeRaw,
			MinChunkSize:        cfg.Chunking.MinChunkSizeRaw,
			MaxChunkSize:        cfg.Chunking.MaxChunkSizeRaw,
			UseAsyncIO:          cfg.Chunking.UseAsyncIO,
			DetectSparseFiles:   cfg.Chunking.DetectSparseFiles,
			MaxConcurrentChunks: cfg.Chunking.MaxConcurrentChunk,
			MaxReadBytesPerSec:  cfg.Chunking.MaxReadBytesPerSecRaw,
		},
	}
}

func runOnce(ctx context.Context, proc *processor.Processor, cfg *config.ProcessorConfig, logger *slog.Logger) error {
	res, err := proc.Process(ctx, cfg.Root, processorOptions(cfg))
	if err != nil {
		return err
	}
	logger.Info("scan complete",
		"snapshot", res.SnapshotID,
		"processed_files", res.ProcessedFiles,
		"error_files", res.ErrorFiles,
		"skipped_files", res.SkippedFiles,
		"total_bytes", res.TotalBytes,
		"total_sparse_bytes", res.TotalSparseBytes,
	)
	for _, fe := range res.Errors {
		logger.Warn("file error", "path", fe.Path, "error", fe.Err)
	}
	return nil
}

// runScheduled registers cfg.Schedule as a single cron job that triggers a
// scan; a scan still in flight when the next tick fires is skipped rather
// than overlapped, same guard the teacher's backup scheduler uses.
func runScheduled(cfg *config.ProcessorConfig, proc *processor.Processor, logger *slog.Logger) error {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	_, err := c.AddFunc(cfg.Schedule, func() {
		if proc.IsRunning() {
			logger.Warn("scan already running, skipping scheduled tick")
			return
		}
		if err := runOnce(context.Background(), proc, cfg, logger); err != nil {
			logger.Error("scheduled scan failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("registering schedule %q: %w", cfg.Schedule, err)
	}

	c.Start()
	logger.Info("scancore scheduler started", "schedule", cfg.Schedule)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("scancore stopping")
	proc.Stop()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}
