// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package chunkcore holds the error taxonomy shared by every package in the
// scanning-and-chunking core. Components never return bare fmt.Errorf values
// on the failure paths a caller is expected to branch on; they wrap a Kind so
// callers can use Is/KindOf (or errors.As) instead of string matching.
package chunkcore

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way callers are expected to handle it, not
// the way it happened to occur.
type Kind int

const (
	// KindUnknown is the zero value; never constructed deliberately.
	KindUnknown Kind = iota
	// KindInvalidArgument is a caller-side contract violation.
	KindInvalidArgument
	// KindNotFound means the target file or directory does not exist.
	KindNotFound
	// KindPermissionDenied means the filesystem refused access.
	KindPermissionDenied
	// KindIoError is a read/open/stat failure mid-processing.
	KindIoError
	// KindPoolExhausted means a non-blocking arena acquire found no buffers.
	KindPoolExhausted
	// KindPoolClosed means a component was used after close.
	KindPoolClosed
	// KindDigestError means the digest primitive failed.
	KindDigestError
	// KindSinkError means a content or metadata sink rejected a call.
	KindSinkError
	// KindCancelled means cooperative cancellation was observed.
	KindCancelled
	// KindTimeout means an operation exceeded its deadline.
	KindTimeout
	// KindProcessorClosed is a lifecycle error: the processor was stopped.
	KindProcessorClosed
	// KindProcessorBusy is a lifecycle error: a process call is already running.
	KindProcessorBusy
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindIoError:
		return "IoError"
	case KindPoolExhausted:
		return "PoolExhausted"
	case KindPoolClosed:
		return "PoolClosed"
	case KindDigestError:
		return "DigestError"
	case KindSinkError:
		return "SinkError"
	case KindCancelled:
		return "Cancelled"
	case KindTimeout:
		return "Timeout"
	case KindProcessorClosed:
		return "ProcessorClosed"
	case KindProcessorBusy:
		return "ProcessorBusy"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every package in the core returns on
// branch-worthy failures. op names the operation that failed (e.g.
// "arena.Acquire"), kind classifies it, and cause is the wrapped error, if any.
type Error struct {
	Op    string
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an *Error with no wrapped cause.
func New(op string, kind Kind) *Error {
	return &Error{Op: op, Kind: kind}
}

// Wrap constructs an *Error wrapping cause. If cause is already a *Error and
// carries the same kind, it is returned unchanged to avoid onion-layering
// identical classifications across a single call chain.
func Wrap(op string, kind Kind, cause error) *Error {
	if ce, ok := cause.(*Error); ok && ce.Kind == kind {
		return ce
	}
	return &Error{Op: op, Kind: kind, Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok && ce.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// KindOf extracts the Kind carried by err, or KindUnknown if err is nil or
// does not wrap a *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}
