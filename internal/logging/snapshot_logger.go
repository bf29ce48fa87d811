// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler dispatches every record to two handlers. Used by
// NewSnapshotLogger to write simultaneously to the global handler and a
// dedicated per-snapshot log file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// Errors writing the snapshot file must never block the global log.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewSnapshotLogger creates a logger that writes both to baseLogger (global)
// and to a dedicated file for one Processor.Process run, at:
//
//	{snapshotLogDir}/{snapshotID}.log
//
// Returns the enriched logger, an io.Closer to close the snapshot file, and
// the path of the created file (joined onto snapshotLogDir as given). The Closer MUST be called (defer)
// when the run finishes.
//
// If snapshotLogDir is empty, returns the base logger unmodified (no-op).
func NewSnapshotLogger(baseLogger *slog.Logger, snapshotLogDir, snapshotID string) (*slog.Logger, io.Closer, string, error) {
	if snapshotLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	if err := os.MkdirAll(snapshotLogDir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating snapshot log directory %s: %w", snapshotLogDir, err)
	}

	logPath := filepath.Join(snapshotLogDir, snapshotID+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening snapshot log file %s: %w", logPath, err)
	}

	// The snapshot file always captures DEBUG regardless of the global level.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

// RemoveSnapshotLog removes the log file of a successfully finished snapshot.
// No-op if snapshotLogDir is empty or the file does not exist.
func RemoveSnapshotLog(snapshotLogDir, snapshotID string) {
	if snapshotLogDir == "" {
		return
	}
	os.Remove(filepath.Join(snapshotLogDir, snapshotID+".log"))
}
