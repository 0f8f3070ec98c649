// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package marking

import (
	"github.com/kathir-ks/rusty-v8-sub045/internal/heap"
	"github.com/kathir-ks/rusty-v8-sub045/internal/worklist"
)

// A TraceDescriptor is an item of the marking worklist: a marked
// object together with the callback that traces it.
type TraceDescriptor struct {
	Object *heap.Object
	Trace  heap.TraceCallback
}

// An EphemeronPair is a weak-key entry whose value has not been
// marked yet.
type EphemeronPair struct {
	Key, Value *heap.Object
}

// Worklists holds the shared worklists of one marker.
//
// Background workers drain NotFullyConstructed, Marking, WriteBarrier
// and EphemeronPairsForProcessing. PreviouslyNotFullyConstructed and
// DiscoveredEphemeronPairs collect work that only the mutator can
// finish: objects that were still in construction when found, and
// ephemeron pairs whose key was not marked yet.
type Worklists struct {
	NotFullyConstructed           *worklist.Worklist[*heap.Object]
	PreviouslyNotFullyConstructed *worklist.Worklist[*heap.Object]
	Marking                       *worklist.Worklist[TraceDescriptor]
	WriteBarrier                  *worklist.Worklist[*heap.Object]
	EphemeronPairsForProcessing   *worklist.Worklist[EphemeronPair]
	DiscoveredEphemeronPairs      *worklist.Worklist[EphemeronPair]
}

// NewWorklists returns empty worklists configured by cfg. Lists of the
// same item type share an allocator, so segments can move between them
// by Merge and MaxSegments bounds them together.
func NewWorklists(cfg Config) *Worklists {
	cfg = cfg.withDefaults()
	objects := worklist.NewAllocator[*heap.Object](cfg.MinSegmentSize, cfg.MaxSegments)
	pairs := worklist.NewAllocator[EphemeronPair](cfg.MinSegmentSize, cfg.MaxSegments)
	return &Worklists{
		NotFullyConstructed:           worklist.NewWithAllocator(objects),
		PreviouslyNotFullyConstructed: worklist.NewWithAllocator(objects),
		Marking:                       worklist.New[TraceDescriptor](worklist.Config{MinSegmentSize: cfg.MinSegmentSize, MaxSegments: cfg.MaxSegments}),
		WriteBarrier:                  worklist.NewWithAllocator(objects),
		EphemeronPairsForProcessing:   worklist.NewWithAllocator(pairs),
		DiscoveredEphemeronPairs:      worklist.NewWithAllocator(pairs),
	}
}

// HasWorkForConcurrentMarking reports whether any list drained by
// background workers has published segments.
func (w *Worklists) HasWorkForConcurrentMarking() bool {
	return !w.NotFullyConstructed.IsEmpty() ||
		!w.Marking.IsEmpty() ||
		!w.WriteBarrier.IsEmpty() ||
		!w.EphemeronPairsForProcessing.IsEmpty()
}

// PendingSegments returns the number of published segments on the
// lists drained by background workers.
func (w *Worklists) PendingSegments() int {
	return w.NotFullyConstructed.Size() +
		w.Marking.Size() +
		w.WriteBarrier.Size() +
		w.EphemeronPairsForProcessing.Size()
}

// Clear drops the contents of every list.
func (w *Worklists) Clear() {
	w.NotFullyConstructed.Clear()
	w.PreviouslyNotFullyConstructed.Clear()
	w.Marking.Clear()
	w.WriteBarrier.Clear()
	w.EphemeronPairsForProcessing.Clear()
	w.DiscoveredEphemeronPairs.Clear()
}

// Release checks that every list is empty.
func (w *Worklists) Release() {
	w.NotFullyConstructed.Release()
	w.PreviouslyNotFullyConstructed.Release()
	w.Marking.Release()
	w.WriteBarrier.Release()
	w.EphemeronPairsForProcessing.Release()
	w.DiscoveredEphemeronPairs.Release()
}
