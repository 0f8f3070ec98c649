// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package worklist implements a segmented work bag for handing
// marking work between threads.
//
// Items live in fixed-capacity Segments. Each participating goroutine
// uses a Local, which owns at most one segment it pushes into and one
// it pops from, and only touches the shared Worklist when a segment
// fills up, runs dry, or must be stolen. Moving a segment between a
// Local and the Worklist transfers ownership of every item in it
// without copying.
//
// A Worklist is a bag, not a queue: items come back LIFO within a
// segment, and in no particular order across segments or goroutines.
//
// A Local is used as follows:
//
//	l := worklist.NewLocal(w)
//	.. call l.Push() to produce and l.Pop() to consume ..
//	l.Publish()
//	l.Release()
//
// Release must only be called once the Local is empty; any work that
// should survive must be published first.
package worklist

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Config describes how a Worklist allocates segments.
type Config struct {
	// MinSegmentSize is the minimum number of items per segment.
	// If 0, DefaultMinSegmentSize is used.
	MinSegmentSize int

	// MaxSegments bounds the number of live segments. If 0, there
	// is no bound.
	MaxSegments int
}

// A Worklist is the shared pool of segments. Segments on the list
// are owned by the list until popped.
type Worklist[T any] struct {
	lock sync.Mutex
	top  *Segment[T]

	_ cpu.CacheLinePad

	// size is the number of segments on the list. It is only
	// written under lock, but read without it by emptiness checks
	// that poll from every worker.
	size atomic.Int64

	alloc *Allocator[T]
}

// New returns an empty Worklist configured by cfg.
func New[T any](cfg Config) *Worklist[T] {
	return NewWithAllocator(NewAllocator[T](cfg.MinSegmentSize, cfg.MaxSegments))
}

// NewWithAllocator returns an empty Worklist drawing segments from a.
func NewWithAllocator[T any](a *Allocator[T]) *Worklist[T] {
	return &Worklist[T]{alloc: a}
}

// Allocator returns the allocator backing w.
func (w *Worklist[T]) Allocator() *Allocator[T] { return w.alloc }

// Push adds seg to w. The caller gives up ownership of seg.
func (w *Worklist[T]) Push(seg *Segment[T]) {
	if debugWorklist && seg.IsEmpty() {
		throw("push of empty segment")
	}
	w.lock.Lock()
	seg.next = w.top
	w.top = seg
	w.size.Add(1)
	w.lock.Unlock()
}

// Pop removes the most recently pushed segment from w and returns it,
// or returns nil, false if w has no segments. The caller owns the
// returned segment.
func (w *Worklist[T]) Pop() (*Segment[T], bool) {
	w.lock.Lock()
	seg := w.top
	if seg == nil {
		w.lock.Unlock()
		return nil, false
	}
	w.top = seg.next
	w.size.Add(-1)
	w.lock.Unlock()
	seg.next = nil
	return seg, true
}

// IsEmpty reports whether w has no segments. The result is advisory:
// another goroutine may push or pop concurrently. Use
// Local.IsLocalAndGlobalEmpty from every participant to decide
// termination.
func (w *Worklist[T]) IsEmpty() bool {
	return w.size.Load() == 0
}

// Size returns the approximate number of segments in w.
func (w *Worklist[T]) Size() int {
	return int(w.size.Load())
}

// Merge moves every segment of other onto w, leaving other empty.
//
// other's lock is released before w's lock is taken, so concurrent
// merges in opposite directions cannot deadlock. A segment is never
// visible on both lists.
func (w *Worklist[T]) Merge(other *Worklist[T]) {
	if other == w {
		return
	}

	other.lock.Lock()
	top := other.top
	n := other.size.Load()
	other.top = nil
	other.size.Store(0)
	other.lock.Unlock()

	if top == nil {
		return
	}

	// The detached chain is owned by this goroutine now.
	end := top
	for end.next != nil {
		end = end.next
	}

	w.lock.Lock()
	end.next = w.top
	w.top = top
	w.size.Add(n)
	w.lock.Unlock()
}

// Clear frees every segment on w and the items in them.
func (w *Worklist[T]) Clear() {
	w.lock.Lock()
	top := w.top
	w.top = nil
	w.size.Store(0)
	w.lock.Unlock()

	for seg := top; seg != nil; {
		next := seg.next
		w.alloc.Free(seg)
		seg = next
	}
}

// Update applies keep to every item on w, dropping items for which it
// returns false. Segments left empty are unlinked and freed.
func (w *Worklist[T]) Update(keep func(*T) bool) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var prev *Segment[T]
	for seg := w.top; seg != nil; {
		next := seg.next
		seg.Update(keep)
		if seg.IsEmpty() {
			if prev == nil {
				w.top = next
			} else {
				prev.next = next
			}
			w.size.Add(-1)
			w.alloc.Free(seg)
		} else {
			prev = seg
		}
		seg = next
	}
}

// Iterate calls f for every item on w. f must not call back into w.
func (w *Worklist[T]) Iterate(f func(T)) {
	w.lock.Lock()
	defer w.lock.Unlock()
	for seg := w.top; seg != nil; seg = seg.next {
		seg.Iterate(f)
	}
}

// Release checks that w is empty. w must not be used afterwards.
// Releasing a non-empty Worklist loses work and is a programming
// error.
func (w *Worklist[T]) Release() {
	if !w.IsEmpty() {
		throw("release of non-empty worklist")
	}
}
