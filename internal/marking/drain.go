// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package marking

import (
	"github.com/kathir-ks/rusty-v8-sub045/internal/heap"
	"github.com/kathir-ks/rusty-v8-sub045/internal/worklist"
)

// drainWithPredicate pops items from l and passes each to process,
// checking shouldStop once up front and then after every interval
// items. It returns true if l ran dry and false if it stopped early.
//
// An item is always processed before the check that follows it, so
// stopping never loses a popped item.
func drainWithPredicate[T any](l *worklist.Local[T], interval int, shouldStop func() bool, process func(T)) bool {
	if l.IsLocalAndGlobalEmpty() {
		return true
	}
	if shouldStop() {
		return false
	}
	n := interval
	for {
		item, ok := l.Pop()
		if !ok {
			return true
		}
		process(item)
		n--
		if n == 0 {
			if shouldStop() {
				return false
			}
			n = interval
		}
	}
}

// processNotFullyConstructed traces o if its construction has
// finished, and otherwise defers it to the atomic pause.
func (s *MarkingState) processNotFullyConstructed(o *heap.Object) {
	if o.IsInConstruction() {
		s.DeferNotFullyConstructed(o)
		return
	}
	s.trace(o, o.TraceCallback())
}

func (s *MarkingState) processMarking(d TraceDescriptor) {
	s.trace(d.Object, d.Trace)
}

func (s *MarkingState) processWriteBarrier(o *heap.Object) {
	s.trace(o, o.TraceCallback())
}

func (s *MarkingState) processEphemeronPair(p EphemeronPair) {
	s.ProcessEphemeron(p.Key, p.Value)
}

// processInPause traces o unconditionally. The mutator is stopped, so
// an object in construction cannot change under the tracer.
func (s *MarkingState) processInPause(o *heap.Object) {
	s.trace(o, o.TraceCallback())
}
