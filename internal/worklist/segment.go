// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package worklist

import (
	"math"
	"slices"
	"sync/atomic"
)

// maxSegmentCapacity bounds a segment's capacity.
const maxSegmentCapacity = math.MaxUint16

// A Segment is a fixed-capacity LIFO buffer of work items. It is the
// unit of ownership transfer between a Local and its Worklist.
//
// A Segment is owned by exactly one of a Local or a Worklist at any
// time. Only the owner may push or pop.
type Segment[T any] struct {
	// next links the segment into its Worklist. Guarded by the
	// Worklist's lock while the segment is on the list.
	next *Segment[T]

	count atomic.Uint32

	// items has len == capacity. Slots at or above count are zero.
	items []T
}

// NewSegment returns an empty segment that can hold at least
// minCapacity items. The backing array is sized by the allocator's
// size classes, so the actual capacity may be larger.
func NewSegment[T any](minCapacity int) *Segment[T] {
	minCapacity = max(1, min(minCapacity, maxSegmentCapacity))
	items := slices.Grow([]T(nil), minCapacity)
	items = items[:min(cap(items), maxSegmentCapacity)]
	return &Segment[T]{items: items}
}

// Push appends item. s must not be full.
func (s *Segment[T]) Push(item T) {
	n := s.count.Load()
	if debugWorklist && int(n) == len(s.items) {
		throw("push to full segment")
	}
	s.items[n] = item
	s.count.Store(n + 1)
}

// Pop removes and returns the most recently pushed item. s must not
// be empty.
func (s *Segment[T]) Pop() T {
	n := s.count.Load()
	if debugWorklist && n == 0 {
		throw("pop from empty segment")
	}
	n--
	item := s.items[n]
	var zero T
	s.items[n] = zero
	s.count.Store(n)
	return item
}

func (s *Segment[T]) IsEmpty() bool { return s.count.Load() == 0 }

func (s *Segment[T]) IsFull() bool { return int(s.count.Load()) == len(s.items) }

func (s *Segment[T]) Size() int { return int(s.count.Load()) }

func (s *Segment[T]) Capacity() int { return len(s.items) }

// Update keeps the items for which keep returns true and drops the
// rest. Survivors are compacted to the front of the segment in their
// original order. keep may modify the item in place.
func (s *Segment[T]) Update(keep func(*T) bool) {
	n := int(s.count.Load())
	o := 0
	for i := 0; i < n; i++ {
		if keep(&s.items[i]) {
			s.items[o] = s.items[i]
			o++
		}
	}
	clear(s.items[o:n])
	s.count.Store(uint32(o))
}

// Iterate calls f for each item in s, oldest first.
func (s *Segment[T]) Iterate(f func(T)) {
	n := int(s.count.Load())
	for _, item := range s.items[:n] {
		f(item)
	}
}

// reset drops all items. Used before a segment is recycled.
func (s *Segment[T]) reset() {
	clear(s.items[:s.count.Load()])
	s.count.Store(0)
	s.next = nil
}
