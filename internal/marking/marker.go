// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package marking implements concurrent marking of a heap.Heap.
//
// A Marker drives one marking cycle at a time from the mutator:
//
//	m.StartMarking()
//	for !done { done, err = m.AdvanceMarking(step, 0) }  // optional
//	err = m.FinishMarking()  // with all mutators stopped
//
// Between StartMarking and FinishMarking, background workers drain the
// shared worklists through a ConcurrentMarker, and every pointer store
// must go through a write barrier (Marker.WriteBarrier or a Mutator).
// FinishMarking runs the final atomic pause and leaves every object
// reachable from the roots marked.
package marking

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kathir-ks/rusty-v8-sub045/internal/heap"
	"github.com/kathir-ks/rusty-v8-sub045/internal/platform"
	"github.com/kathir-ks/rusty-v8-sub045/internal/schedule"
	"github.com/kathir-ks/rusty-v8-sub045/internal/stats"
)

// ErrMarkingAborted is returned when a marking phase had to be
// abandoned because work could not be recorded. Marks left by an
// aborted phase are incomplete.
var ErrMarkingAborted = errors.New("marking: marking aborted")

// Options configures a Marker.
type Options struct {
	Config Config

	// Platform runs background marking. If nil, all marking happens
	// on the mutator.
	Platform platform.Platform

	// Stats, if non-nil, accumulates phase timings.
	Stats *stats.Collector

	// Logger receives lifecycle events. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	// Now is the clock. If nil, time.Now is used.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	o.Config = o.Config.withDefaults()
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func throw(s string) {
	panic("marking: " + s)
}

// A Marker marks a heap.Heap. Its methods must be called from a single
// mutator goroutine, except where noted.
type Marker struct {
	heap  *heap.Heap
	cfg   Config
	log   *slog.Logger
	stats *stats.Collector
	now   func() time.Time

	worklists  *Worklists
	schedule   *schedule.Schedule
	concurrent *ConcurrentMarker

	// state is the mutator's own marking state.
	state *MarkingState

	// marking is set between StartMarking and FinishMarking. It is
	// read by write barriers on any mutator goroutine.
	marking atomic.Bool

	mutatorsMu sync.Mutex
	mutators   map[*Mutator]struct{}
}

// NewMarker returns a Marker for h.
func NewMarker(h *heap.Heap, opts Options) *Marker {
	opts = opts.withDefaults()
	w := NewWorklists(opts.Config)
	sched := schedule.New(opts.Now)
	return &Marker{
		heap:       h,
		cfg:        opts.Config,
		log:        opts.Logger,
		stats:      opts.Stats,
		now:        opts.Now,
		worklists:  w,
		schedule:   sched,
		concurrent: NewConcurrentMarker(w, sched, opts),
		mutators:   make(map[*Mutator]struct{}),
	}
}

// Worklists returns the marker's shared worklists.
func (m *Marker) Worklists() *Worklists { return m.worklists }

// Concurrent returns the marker's background marking coordinator.
func (m *Marker) Concurrent() *ConcurrentMarker { return m.concurrent }

// Schedule returns the marker's progress schedule.
func (m *Marker) Schedule() *schedule.Schedule { return m.schedule }

// IsMarking reports whether a marking cycle is in progress. It is safe
// for concurrent use.
func (m *Marker) IsMarking() bool { return m.marking.Load() }

// StartMarking clears all marks, marks the roots and starts background
// marking. It does nothing if a cycle is already in progress.
func (m *Marker) StartMarking() {
	if m.marking.Load() {
		return
	}
	defer m.stats.Start(stats.MarkStart).End()

	m.heap.ResetMarks()
	m.schedule.Reset()
	m.schedule.NotifyIncrementalMarkingStart()
	m.state = NewMarkingState(m.worklists)
	m.marking.Store(true)

	m.visitRoots()
	m.state.Publish()
	m.concurrent.Start()
	m.log.Debug("marking: cycle started", "heap", m.heap.Allocated())
}

func (m *Marker) visitRoots() {
	for _, o := range m.heap.Roots() {
		m.state.MarkAndPush(o)
	}
}

// AdvanceMarking runs an incremental marking step on the mutator. The
// step ends after maxDuration, or once maxBytes have been traced; if
// maxBytes is 0 the schedule decides. It reports whether the mutator
// found no more work to do.
//
// Without a platform, AdvanceMarking is how marking makes progress
// before FinishMarking. After an error, the cycle can only be ended by
// FinishMarking, which abandons it.
func (m *Marker) AdvanceMarking(maxDuration time.Duration, maxBytes heap.Bytes) (bool, error) {
	if !m.marking.Load() {
		return true, nil
	}
	defer m.stats.Start(stats.MarkIncrementalStep).End()

	if err := m.err(); err != nil {
		return false, err
	}
	if maxBytes == 0 {
		maxBytes = m.schedule.NextIncrementalStepBytes(m.heap.Allocated())
	}
	done := m.processWorklistsWithDeadline(maxBytes, m.now().Add(maxDuration))
	m.state.Publish()
	if err := m.err(); err != nil {
		return false, err
	}
	m.concurrent.NotifyIncrementalMutatorStepCompleted()
	return done, nil
}

// processWorklistsWithDeadline drains the mutator's worklists until
// they are empty, maxBytes have been traced, or deadline has passed.
// It reports whether the worklists ran dry.
func (m *Marker) processWorklistsWithDeadline(maxBytes heap.Bytes, deadline time.Time) bool {
	s := m.state
	var traced heap.Bytes
	shouldStop := func() bool {
		n := s.RecentlyMarkedBytes()
		traced += n
		m.schedule.AddMutatorMarkedBytes(n)
		return s.Err() != nil || traced >= maxBytes || !m.now().Before(deadline)
	}
	interval := m.cfg.MutatorCheckInterval
	for {
		if m.schedule.ShouldFlushEphemeronPairs() {
			m.flushEphemeronPairs()
		}
		if !m.drain(stats.MarkProcessNotFullyConstructed, func() bool {
			return drainWithPredicate(s.notFullyConstructed, max(1, interval/5), shouldStop, s.processNotFullyConstructed)
		}) {
			return false
		}
		if !m.drain(stats.MarkProcessMarking, func() bool {
			return drainWithPredicate(s.marking, interval, shouldStop, s.processMarking)
		}) {
			return false
		}
		if !m.drain(stats.MarkProcessWriteBarrier, func() bool {
			return drainWithPredicate(s.writeBarrier, interval, shouldStop, s.processWriteBarrier)
		}) {
			return false
		}
		if !m.drain(stats.MarkProcessEphemerons, func() bool {
			return drainWithPredicate(s.ephemeronPairsForProcessing, interval, shouldStop, s.processEphemeronPair)
		}) {
			return false
		}
		if s.IsEmpty() {
			shouldStop()
			return true
		}
	}
}

func (m *Marker) drain(id stats.ScopeID, f func() bool) bool {
	defer m.stats.Start(id).End()
	return f()
}

func (m *Marker) flushEphemeronPairs() {
	defer m.stats.Start(stats.MarkFlushEphemerons).End()
	m.state.FlushDiscoveredEphemeronPairs()
}

// WriteBarrier stores value into slot i of dst. While marking is in
// progress, it also marks value so that the store cannot hide it from
// the marker.
//
// WriteBarrier uses the marker's own marking state, so only the
// goroutine driving the Marker may call it. Other goroutines use a
// Mutator.
func (m *Marker) WriteBarrier(dst *heap.Object, i int, value *heap.Object) {
	dst.SetSlot(i, value)
	if !m.marking.Load() || value == nil || !value.TryMark() {
		return
	}
	m.state.PushWriteBarrier(value)
	if m.state.writeBarrier.PushSegmentSize() == 1 {
		// The previous segment, if any, was just published.
		m.concurrent.NotifyOfWorkIfNeeded(platform.UserVisible)
	}
}

// FinishMarking runs the final atomic pause. Every Mutator must be
// stopped; their pending work is flushed here. FinishMarking stops
// background marking, rescans the roots and drains all remaining work,
// including ephemerons, to a fixed point. Ephemeron pairs whose keys
// stayed unmarked are dropped.
func (m *Marker) FinishMarking() error {
	if !m.marking.Load() {
		return nil
	}
	defer m.stats.Start(stats.MarkAtomic).End()

	mutatorErr := m.flushMutators()
	m.state.Publish()
	m.concurrent.Cancel()
	if err := cmp.Or(mutatorErr, m.err()); err != nil {
		m.abort()
		return err
	}

	s := m.state
	m.visitRoots()
	never := func() bool { return s.Err() != nil }
	for {
		// A pass that traces nothing new cannot resolve any
		// ephemeron, so discovered pairs are final.
		traced := s.traced
		s.FlushDiscoveredEphemeronPairs()
		drainWithPredicate(s.previouslyNotFullyConstructed, 1, never, s.processInPause)
		drainWithPredicate(s.notFullyConstructed, 1, never, s.processInPause)
		drainWithPredicate(s.marking, 1, never, s.processMarking)
		drainWithPredicate(s.writeBarrier, 1, never, s.processWriteBarrier)
		drainWithPredicate(s.ephemeronPairsForProcessing, 1, never, s.processEphemeronPair)
		if s.Err() != nil {
			break
		}
		if s.traced == traced && s.IsEmpty() && s.previouslyNotFullyConstructed.IsLocalAndGlobalEmpty() {
			break
		}
	}
	m.schedule.AddMutatorMarkedBytes(s.RecentlyMarkedBytes())
	if err := m.err(); err != nil {
		m.abort()
		return err
	}

	// Remaining pairs have keys nobody marked.
	s.discoveredEphemeronPairs.Clear()
	m.worklists.DiscoveredEphemeronPairs.Clear()
	s.Release()
	m.state = nil
	m.marking.Store(false)
	m.log.Debug("marking: cycle finished",
		"marked", m.schedule.OverallMarkedBytes(),
		"concurrent", m.concurrent.MarkedBytes(),
		"escalated", m.concurrent.Escalated())
	return nil
}

// err returns the first error of the mutator or the background
// workers.
func (m *Marker) err() error {
	if err := m.state.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrMarkingAborted, err)
	}
	return m.concurrent.Err()
}

// abort abandons the current cycle.
func (m *Marker) abort() {
	m.concurrent.Cancel()
	m.state.Clear()
	m.clearMutators()
	m.worklists.Clear()
	m.state = nil
	m.marking.Store(false)
	m.log.Warn("marking: cycle aborted")
}

// Release checks that no cycle or background job is in progress. m
// must not be used afterwards.
func (m *Marker) Release() {
	if m.marking.Load() {
		throw("release of marker during marking")
	}
	m.concurrent.Release()
	m.worklists.Release()
}
