// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package walker enumerates filesystem entries under a root, applying
// depth, hidden-file, glob, size, and symlink-policy filters. It
// generalizes the teacher's include/exclude scanner into the broader
// WalkEntry model this domain requires (kind, sparse detection, symlink
// policy, cycle detection).
package walker

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind classifies a WalkEntry.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// SymlinkStrategy controls how the walker treats symbolic links.
type SymlinkStrategy int

const (
	// SymlinkSkip drops symlink entries entirely; never recurses.
	SymlinkSkip SymlinkStrategy = iota
	// SymlinkRecord emits the symlink as a Symlink-kind entry carrying its
	// target path; never recurses through it.
	SymlinkRecord
	// SymlinkFollow resolves the symlink and emits it as its target's
	// kind, recursing into directory targets when the cycle detector
	// allows it.
	SymlinkFollow
)

// Options configures a walk. Mirrors spec's ScanOptions.
type Options struct {
	IncludePattern    string
	ExcludePattern    string
	IncludeHidden     bool
	MaxDepth          int // <0 means unlimited
	MinFileSize       int64
	MaxFileSize       int64 // <=0 means unlimited
	SymlinkStrategy   SymlinkStrategy
	DetectSparseFiles bool
}

// WalkEntry is one filesystem node surfaced by the walk.
type WalkEntry struct {
	Path       string
	Kind       Kind
	Size       int64
	Mtime      time.Time
	IsSparse   bool
	LinkTarget string
}

// ScanError records one entry's failure without aborting the walk.
type ScanError struct {
	Path string
	Err  error
}

// ScanResult is the outcome of a complete walk.
type ScanResult struct {
	ScannedFiles []WalkEntry
	Errors       []ScanError
}

// Walker enumerates a filesystem tree per Options.
type Walker struct {
	opts   Options
	logger *slog.Logger
}

// New constructs a Walker. A nil logger falls back to slog.Default().
func New(opts Options, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{opts: opts, logger: logger}
}

// ancestorKey identifies a directory by (device, inode) for Follow-mode
// cycle detection.
type ancestorKey [2]uint64

// Walk drives the traversal from root, collecting every entry that survives
// filtering into the returned ScanResult. Per-entry failures are appended to the returned
// ScanResult's Errors and do not abort the walk. ctx cancellation stops
// the walk promptly and returns ctx.Err().
func (w *Walker) Walk(ctx context.Context, root string) (ScanResult, error) {
	var result ScanResult
	ancestors := map[ancestorKey]struct{}{}

	root = filepath.Clean(root)
	err := w.walkDir(ctx, root, root, 0, ancestors, &result)
	return result, err
}

func (w *Walker) walkDir(ctx context.Context, root, dir string, depth int, ancestors map[ancestorKey]struct{}, result *ScanResult) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// In Follow mode every directory on the current path is an ancestor for
	// cycle detection, not only those entered through a symlink.
	if w.opts.SymlinkStrategy == SymlinkFollow {
		if info, err := os.Stat(dir); err == nil {
			if key, ok := deviceInode(info); ok {
				if _, seen := ancestors[key]; !seen {
					ancestors[key] = struct{}{}
					defer delete(ancestors, key)
				}
			}
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		result.Errors = append(result.Errors, ScanError{Path: dir, Err: err})
		return nil
	}

	for _, de := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		path := filepath.Join(dir, de.Name())
		lstat, err := os.Lstat(path)
		if err != nil {
			result.Errors = append(result.Errors, ScanError{Path: path, Err: err})
			continue
		}

		if !w.passesHiddenRule(de.Name()) {
			continue
		}
		if w.opts.MaxDepth >= 0 && depth+1 > w.opts.MaxDepth {
			continue
		}

		if lstat.Mode()&os.ModeSymlink != 0 {
			if err := w.handleSymlink(ctx, root, path, depth, lstat, ancestors, result); err != nil {
				return err
			}
			continue
		}

		if lstat.IsDir() {
			if !w.passesExclude(root, path, true) {
				continue
			}
			if err := w.walkDir(ctx, root, path, depth+1, ancestors, result); err != nil {
				return err
			}
			continue
		}

		entry, ok, err := w.buildFileEntry(path, lstat)
		if err != nil {
			result.Errors = append(result.Errors, ScanError{Path: path, Err: err})
			continue
		}
		if !ok {
			continue
		}
		if !w.passesFileFilters(root, path, entry.Size) {
			continue
		}
		result.ScannedFiles = append(result.ScannedFiles, entry)
	}
	return nil
}

func (w *Walker) handleSymlink(ctx context.Context, root, path string, depth int, lstat os.FileInfo, ancestors map[ancestorKey]struct{}, result *ScanResult) error {
	switch w.opts.SymlinkStrategy {
	case SymlinkSkip:
		return nil

	case SymlinkRecord:
		target, err := os.Readlink(path)
		if err != nil {
			result.Errors = append(result.Errors, ScanError{Path: path, Err: err})
			return nil
		}
		if !w.passesExclude(root, path, false) {
			return nil
		}
		result.ScannedFiles = append(result.ScannedFiles, WalkEntry{
			Path:       path,
			Kind:       KindSymlink,
			Size:       lstat.Size(),
			Mtime:      lstat.ModTime(),
			LinkTarget: target,
		})
		return nil

	case SymlinkFollow:
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			result.Errors = append(result.Errors, ScanError{Path: path, Err: err})
			return nil
		}
		stat, err := os.Stat(target)
		if err != nil {
			result.Errors = append(result.Errors, ScanError{Path: path, Err: err})
			return nil
		}
		if stat.IsDir() {
			key, ok := deviceInode(stat)
			if ok {
				if _, cyclic := ancestors[key]; cyclic {
					w.logger.Warn("symlink cycle detected, skipping", "path", path, "target", target)
					return nil
				}
				ancestors[key] = struct{}{}
				defer delete(ancestors, key)
			}
			if !w.passesExclude(root, path, true) {
				return nil
			}
			return w.walkDir(ctx, root, target, depth+1, ancestors, result)
		}

		entry, ok, err := w.buildFileEntry(path, stat)
		if err != nil {
			result.Errors = append(result.Errors, ScanError{Path: path, Err: err})
			return nil
		}
		if !ok {
			return nil
		}
		if !w.passesFileFilters(root, path, entry.Size) {
			return nil
		}
		result.ScannedFiles = append(result.ScannedFiles, entry)
		return nil

	default:
		return nil
	}
}

func (w *Walker) buildFileEntry(path string, info fs.FileInfo) (WalkEntry, bool, error) {
	if !info.Mode().IsRegular() {
		return WalkEntry{}, false, nil
	}
	entry := WalkEntry{
		Path:  path,
		Kind:  KindFile,
		Size:  info.Size(),
		Mtime: info.ModTime(),
	}
	if w.opts.DetectSparseFiles {
		entry.IsSparse = detectSparse(path, info)
	}
	return entry, true, nil
}

func (w *Walker) passesHiddenRule(name string) bool {
	if w.opts.IncludeHidden {
		return true
	}
	return !strings.HasPrefix(name, ".")
}

func (w *Walker) passesExclude(root, path string, isDir bool) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	if w.opts.ExcludePattern != "" {
		if matched, _ := doublestar.Match(w.opts.ExcludePattern, rel); matched {
			return false
		}
		if matched, _ := doublestar.Match(w.opts.ExcludePattern, filepath.Base(path)); matched {
			return false
		}
	}
	return true
}

// passesFileFilters applies exclude/include glob, then size bounds; include
// wins over exclude when both match, per spec.
func (w *Walker) passesFileFilters(root, path string, size int64) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(path)

	excluded := false
	if w.opts.ExcludePattern != "" {
		if matched, _ := doublestar.Match(w.opts.ExcludePattern, rel); matched {
			excluded = true
		}
		if matched, _ := doublestar.Match(w.opts.ExcludePattern, base); matched {
			excluded = true
		}
	}

	included := w.opts.IncludePattern == ""
	if w.opts.IncludePattern != "" {
		if matched, _ := doublestar.Match(w.opts.IncludePattern, rel); matched {
			included = true
		}
		if matched, _ := doublestar.Match(w.opts.IncludePattern, base); matched {
			included = true
		}
	}

	if excluded && !included {
		return false
	}
	if w.opts.IncludePattern != "" && !included {
		return false
	}

	if w.opts.MinFileSize > 0 && size < w.opts.MinFileSize {
		return false
	}
	if w.opts.MaxFileSize > 0 && size > w.opts.MaxFileSize {
		return false
	}
	return true
}
