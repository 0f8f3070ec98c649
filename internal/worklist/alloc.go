// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package worklist

import (
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultMinSegmentSize is the minimum segment capacity used when a
// Config does not specify one.
const DefaultMinSegmentSize = 64

// ErrSegmentLimit is returned when a segment is needed but the
// allocator's segment budget is exhausted.
var ErrSegmentLimit = errors.New("worklist: segment limit exceeded")

// An Allocator hands out segments of a fixed capacity and recycles
// freed ones. All segments from one Allocator have the same capacity.
//
// An Allocator may be shared by several Worklists of the same item
// type so that they draw from one budget.
type Allocator[T any] struct {
	minCapacity int
	limit       int64 // 0 means unlimited

	live atomic.Int64
	free sync.Pool // of *Segment[T], all empty
}

// NewAllocator returns an allocator for segments holding at least
// minCapacity items. If maxSegments > 0, at most that many segments
// may be live at once.
func NewAllocator[T any](minCapacity, maxSegments int) *Allocator[T] {
	if minCapacity <= 0 {
		minCapacity = DefaultMinSegmentSize
	}
	a := &Allocator[T]{
		minCapacity: minCapacity,
		limit:       int64(max(0, maxSegments)),
	}
	a.free.New = func() any {
		return NewSegment[T](a.minCapacity)
	}
	return a
}

// New returns an empty segment owned by the caller.
func (a *Allocator[T]) New() (*Segment[T], error) {
	if n := a.live.Add(1); a.limit > 0 && n > a.limit {
		a.live.Add(-1)
		return nil, ErrSegmentLimit
	}
	return a.free.Get().(*Segment[T]), nil
}

// Free returns s to the allocator. s may still hold items; they are
// dropped.
func (a *Allocator[T]) Free(s *Segment[T]) {
	if s == nil {
		return
	}
	s.reset()
	if a.live.Add(-1) < 0 {
		throw("more segments freed than allocated")
	}
	a.free.Put(s)
}

// Live returns the number of segments handed out and not yet freed.
func (a *Allocator[T]) Live() int { return int(a.live.Load()) }

// MinCapacity returns the minimum capacity requested for segments.
func (a *Allocator[T]) MinCapacity() int { return a.minCapacity }

func throw(s string) {
	panic("worklist: " + s)
}
