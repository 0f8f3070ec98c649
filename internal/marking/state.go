// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package marking

import (
	"github.com/kathir-ks/rusty-v8-sub045/internal/heap"
	"github.com/kathir-ks/rusty-v8-sub045/internal/worklist"
)

// A MarkingState is one goroutine's view of the marking worklists. It
// is also the heap.Visitor that traced objects report their
// references to.
//
// A MarkingState must not be used by more than one goroutine at a
// time.
type MarkingState struct {
	worklists *Worklists

	notFullyConstructed           *worklist.Local[*heap.Object]
	previouslyNotFullyConstructed *worklist.Local[*heap.Object]
	marking                       *worklist.Local[TraceDescriptor]
	writeBarrier                  *worklist.Local[*heap.Object]
	ephemeronPairsForProcessing   *worklist.Local[EphemeronPair]
	discoveredEphemeronPairs      *worklist.Local[EphemeronPair]

	// recentlyMarked is the size of objects traced since the last
	// call to RecentlyMarkedBytes.
	recentlyMarked heap.Bytes
	// traced counts objects traced by this state.
	traced int

	// err is the first push failure. Once set, the pushed item is
	// lost and the marking phase cannot complete.
	err error
}

// NewMarkingState returns a MarkingState with empty local views of w.
func NewMarkingState(w *Worklists) *MarkingState {
	return &MarkingState{
		worklists:                     w,
		notFullyConstructed:           worklist.NewLocal(w.NotFullyConstructed),
		previouslyNotFullyConstructed: worklist.NewLocal(w.PreviouslyNotFullyConstructed),
		marking:                       worklist.NewLocal(w.Marking),
		writeBarrier:                  worklist.NewLocal(w.WriteBarrier),
		ephemeronPairsForProcessing:   worklist.NewLocal(w.EphemeronPairsForProcessing),
		discoveredEphemeronPairs:      worklist.NewLocal(w.DiscoveredEphemeronPairs),
	}
}

func push[T any](s *MarkingState, l *worklist.Local[T], item T) {
	if err := l.Push(item); err != nil && s.err == nil {
		s.err = err
	}
}

// Err returns the error that made s lose work, if any.
func (s *MarkingState) Err() error { return s.err }

// Visit marks o and queues it for tracing.
func (s *MarkingState) Visit(o *heap.Object) { s.MarkAndPush(o) }

// VisitEphemeron processes a weak-key entry of a traced object.
func (s *MarkingState) VisitEphemeron(key, value *heap.Object) { s.ProcessEphemeron(key, value) }

// MarkAndPush marks o and, if this call marked it, queues it for
// tracing. Objects still in construction go to the not-fully-
// constructed list.
func (s *MarkingState) MarkAndPush(o *heap.Object) {
	if o == nil || !o.TryMark() {
		return
	}
	if o.IsInConstruction() {
		push(s, s.notFullyConstructed, o)
		return
	}
	push(s, s.marking, TraceDescriptor{o, o.TraceCallback()})
}

// PushWriteBarrier queues o, which the caller has just marked, for
// tracing on behalf of the write barrier.
func (s *MarkingState) PushWriteBarrier(o *heap.Object) {
	if o.IsInConstruction() {
		push(s, s.notFullyConstructed, o)
		return
	}
	push(s, s.writeBarrier, o)
}

// ProcessEphemeron marks value if key is marked. Otherwise the pair is
// kept in the discovered list until key's fate is known.
func (s *MarkingState) ProcessEphemeron(key, value *heap.Object) {
	if key.IsMarked() {
		s.MarkAndPush(value)
		return
	}
	push(s, s.discoveredEphemeronPairs, EphemeronPair{key, value})
}

// DeferNotFullyConstructed keeps o, found while still in construction,
// for the final atomic pause.
func (s *MarkingState) DeferNotFullyConstructed(o *heap.Object) {
	push(s, s.previouslyNotFullyConstructed, o)
}

// trace accounts o as marked and reports its references.
func (s *MarkingState) trace(o *heap.Object, trace heap.TraceCallback) {
	s.recentlyMarked += o.Size()
	s.traced++
	trace(s, o)
}

// RecentlyMarkedBytes returns the size of the objects traced since the
// previous call.
func (s *MarkingState) RecentlyMarkedBytes() heap.Bytes {
	n := s.recentlyMarked
	s.recentlyMarked = 0
	return n
}

// FlushDiscoveredEphemeronPairs moves every discovered ephemeron pair,
// including those published by other goroutines, to the processing
// list.
func (s *MarkingState) FlushDiscoveredEphemeronPairs() {
	s.discoveredEphemeronPairs.Publish()
	s.worklists.EphemeronPairsForProcessing.Merge(s.worklists.DiscoveredEphemeronPairs)
}

// IsEmpty reports whether s and the shared lists hold no work that a
// drain pass would process.
func (s *MarkingState) IsEmpty() bool {
	return s.notFullyConstructed.IsLocalAndGlobalEmpty() &&
		s.marking.IsLocalAndGlobalEmpty() &&
		s.writeBarrier.IsLocalAndGlobalEmpty() &&
		s.ephemeronPairsForProcessing.IsLocalAndGlobalEmpty()
}

// Publish hands all local work to the shared lists.
func (s *MarkingState) Publish() {
	s.notFullyConstructed.Publish()
	s.previouslyNotFullyConstructed.Publish()
	s.marking.Publish()
	s.writeBarrier.Publish()
	s.ephemeronPairsForProcessing.Publish()
	s.discoveredEphemeronPairs.Publish()
}

// Clear drops all local work. It is used when marking is abandoned.
func (s *MarkingState) Clear() {
	s.notFullyConstructed.Clear()
	s.previouslyNotFullyConstructed.Clear()
	s.marking.Clear()
	s.writeBarrier.Clear()
	s.ephemeronPairsForProcessing.Clear()
	s.discoveredEphemeronPairs.Clear()
}

// Release frees s's segments. s must not hold work.
func (s *MarkingState) Release() {
	s.notFullyConstructed.Release()
	s.previouslyNotFullyConstructed.Release()
	s.marking.Release()
	s.writeBarrier.Release()
	s.ephemeronPairsForProcessing.Release()
	s.discoveredEphemeronPairs.Release()
}
