// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package schedule paces a marking phase.
//
// A Schedule assumes that marking should take EstimatedMarkingTime.
// It compares how many bytes the mutator and the background workers
// have marked so far with how many a linear schedule would have marked
// by now, and sizes the mutator's next incremental step to catch up.
package schedule

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/kathir-ks/rusty-v8-sub045/internal/heap"
)

const (
	// EstimatedMarkingTime is the target duration of a marking
	// phase.
	EstimatedMarkingTime = 500 * time.Millisecond

	// MinimumStepBytes is the smallest incremental step.
	MinimumStepBytes = 64 * heap.KiB

	// ephemeronFlushRatioStep is the fraction of the estimated live
	// heap that must be marked between two ephemeron flushes.
	ephemeronFlushRatioStep = 0.25
)

// A Schedule tracks progress of one marking phase. The mutator-side
// methods must be called from a single goroutine; the concurrent ones
// may be called from any.
type Schedule struct {
	now func() time.Time

	start                time.Time
	mutatorMarkedBytes   heap.Bytes
	lastEstimatedLive    heap.Bytes
	ephemeronFlushTarget float64

	concurrentMarkedBytes atomic.Uint64
	lastConcurrentUpdate  atomic.Int64 // UnixNano
}

// New returns a Schedule reading time from now. If now is nil,
// time.Now is used.
func New(now func() time.Time) *Schedule {
	if now == nil {
		now = time.Now
	}
	s := &Schedule{now: now}
	s.Reset()
	return s
}

// Reset forgets all progress.
func (s *Schedule) Reset() {
	s.start = time.Time{}
	s.mutatorMarkedBytes = 0
	s.lastEstimatedLive = 0
	s.ephemeronFlushTarget = ephemeronFlushRatioStep
	s.concurrentMarkedBytes.Store(0)
	s.lastConcurrentUpdate.Store(s.now().UnixNano())
}

// Now returns the schedule's current time.
func (s *Schedule) Now() time.Time { return s.now() }

// NotifyIncrementalMarkingStart starts the phase clock.
func (s *Schedule) NotifyIncrementalMarkingStart() {
	s.start = s.now()
}

// NotifyConcurrentMarkingStart resets the concurrent progress clock.
func (s *Schedule) NotifyConcurrentMarkingStart() {
	s.lastConcurrentUpdate.Store(s.now().UnixNano())
}

// AddMutatorMarkedBytes records bytes marked by the mutator.
func (s *Schedule) AddMutatorMarkedBytes(n heap.Bytes) {
	s.mutatorMarkedBytes += n
}

// AddConcurrentlyMarkedBytes records bytes marked by background
// workers. It is safe for concurrent use.
func (s *Schedule) AddConcurrentlyMarkedBytes(n heap.Bytes) {
	s.concurrentMarkedBytes.Add(uint64(n))
	s.lastConcurrentUpdate.Store(s.now().UnixNano())
}

// ConcurrentlyMarkedBytes returns the bytes marked by background
// workers.
func (s *Schedule) ConcurrentlyMarkedBytes() heap.Bytes {
	return heap.Bytes(s.concurrentMarkedBytes.Load())
}

// OverallMarkedBytes returns the bytes marked so far by anyone.
func (s *Schedule) OverallMarkedBytes() heap.Bytes {
	return s.mutatorMarkedBytes + s.ConcurrentlyMarkedBytes()
}

// TimeSinceLastConcurrentMarkingUpdate returns the time since
// background workers last reported progress.
func (s *Schedule) TimeSinceLastConcurrentMarkingUpdate() time.Duration {
	return s.now().Sub(time.Unix(0, s.lastConcurrentUpdate.Load()))
}

// Elapsed returns the time since NotifyIncrementalMarkingStart.
func (s *Schedule) Elapsed() time.Duration {
	if s.start.IsZero() {
		return 0
	}
	return s.now().Sub(s.start)
}

// NextIncrementalStepBytes returns how many bytes the mutator should
// mark in its next step to keep up with a linear schedule over
// estimatedLive bytes.
func (s *Schedule) NextIncrementalStepBytes(estimatedLive heap.Bytes) heap.Bytes {
	s.lastEstimatedLive = estimatedLive
	actual := s.OverallMarkedBytes()
	expected := heap.Bytes(math.Ceil(float64(estimatedLive) * float64(s.Elapsed()) / float64(EstimatedMarkingTime)))
	if expected <= actual {
		return MinimumStepBytes
	}
	return max(MinimumStepBytes, expected-actual)
}

// ShouldFlushEphemeronPairs reports whether enough of the heap has
// been marked since the last flush to make resolving discovered
// ephemeron pairs worthwhile.
func (s *Schedule) ShouldFlushEphemeronPairs() bool {
	if s.lastEstimatedLive == 0 {
		return false
	}
	if float64(s.OverallMarkedBytes()) < s.ephemeronFlushTarget*float64(s.lastEstimatedLive) {
		return false
	}
	s.ephemeronFlushTarget += ephemeronFlushRatioStep
	return true
}
