// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracer walks the calling goroutine's stack and classifies each
// frame.
//
// A Trace is a snapshot: program counters are captured when Trace is called
// and frames are classified lazily while the sequence is consumed. It can be
// iterated once.
package tracer

import (
	"iter"
	"runtime"
	"sync/atomic"

	"github.com/AleutianAI/frozen/pkg/callframe"
	"github.com/AleutianAI/frozen/pkg/registry"
)

const (
	initialDepth = 64
	maxDepth     = 1 << 14
)

// Trace yields one entry per logical frame, innermost first. Entries are nil
// for frames that could not be classified.
type Trace = iter.Seq[*callframe.MethodLocation]

// Tracer produces traces classified by one Classifier.
type Tracer struct {
	classifier *callframe.Classifier
}

// New creates a Tracer.
func New(c *callframe.Classifier) *Tracer {
	return &Tracer{classifier: c}
}

// Classifier returns the classifier used for frames.
func (t *Tracer) Classifier() *callframe.Classifier { return t.classifier }

// Trace captures the current stack. skip is the number of frames to omit
// above the caller of Trace: with skip 0 the first entry is the caller.
// hints are forwarded to the classifier for receiverless frames.
func (t *Tracer) Trace(hints []*registry.Class, skip int) Trace {
	pcs := capture(skip + 3)
	var used atomic.Bool

	return func(yield func(*callframe.MethodLocation) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		frames := runtime.CallersFrames(pcs)
		for {
			f, more := frames.Next()
			if f.Function != "" {
				if !yield(t.classifier.Classify(callframe.FromRuntime(f), hints)) {
					return
				}
			}
			if !more {
				return
			}
		}
	}
}

// Frames returns the raw frames above the caller of Frames, skipping skip of
// them. Intended for diagnostics.
func (t *Tracer) Frames(skip int) []callframe.Frame {
	pcs := capture(skip + 3)
	out := make([]callframe.Frame, 0, len(pcs))
	frames := runtime.CallersFrames(pcs)
	for {
		f, more := frames.Next()
		if f.Function != "" {
			out = append(out, callframe.FromRuntime(f))
		}
		if !more {
			return out
		}
	}
}

// capture records program counters, skipping skip frames where 0 is
// runtime.Callers itself. The buffer grows until the whole stack fits.
func capture(skip int) []uintptr {
	for size := initialDepth; ; size *= 2 {
		pcs := make([]uintptr, size)
		n := runtime.Callers(skip, pcs)
		if n < size || size >= maxDepth {
			return pcs[:n]
		}
	}
}
