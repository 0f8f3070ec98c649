// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package marking

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"

	"github.com/kathir-ks/rusty-v8-sub045/internal/heap"
	"github.com/kathir-ks/rusty-v8-sub045/internal/platform"
	"github.com/kathir-ks/rusty-v8-sub045/internal/schedule"
	"github.com/kathir-ks/rusty-v8-sub045/internal/stats"
)

// A ConcurrentMarker runs marking on background workers provided by a
// platform.Platform, in phases bracketed by Start and Join or Cancel.
//
// With a nil platform, Start does nothing and the mutator drains all
// work itself.
type ConcurrentMarker struct {
	worklists *Worklists
	schedule  *schedule.Schedule
	platform  platform.Platform
	stats     *stats.Collector
	log       *slog.Logger
	cfg       Config

	// mu guards the job handle and the per-phase escalation state.
	mu              sync.Mutex
	handle          platform.JobHandle
	escalated       bool
	lastMarkedBytes heap.Bytes
	lastProgress    time.Time

	errMu sync.Mutex
	err   error

	_ cpu.CacheLinePad

	// markedBytes is updated by every worker.
	markedBytes atomic.Uint64
}

// NewConcurrentMarker returns a ConcurrentMarker that drains w. p may
// be nil.
func NewConcurrentMarker(w *Worklists, sched *schedule.Schedule, opts Options) *ConcurrentMarker {
	opts = opts.withDefaults()
	return &ConcurrentMarker{
		worklists: w,
		schedule:  sched,
		platform:  opts.Platform,
		stats:     opts.Stats,
		log:       opts.Logger,
		cfg:       opts.Config,
	}
}

// Start posts the background marking job. It does nothing if a job is
// already running or if there is no platform.
func (m *ConcurrentMarker) Start() {
	if m.platform == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil && m.handle.IsValid() {
		return
	}

	m.escalated = false
	m.lastMarkedBytes = 0
	m.lastProgress = m.schedule.Now()
	m.markedBytes.Store(0)
	m.errMu.Lock()
	m.err = nil
	m.errMu.Unlock()

	m.schedule.NotifyConcurrentMarkingStart()
	m.handle = m.platform.PostJob(platform.UserVisible, &concurrentMarkingTask{m: m})
	m.log.Debug("marking: concurrent marking started")
}

// IsActive reports whether a job has been started and neither joined
// nor cancelled.
func (m *ConcurrentMarker) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil && m.handle.IsValid()
}

// NotifyOfWorkIfNeeded tells the job that new work was published, for
// example by the write barrier, and raises it to priority. A job
// escalated in this phase is never lowered.
func (m *ConcurrentMarker) NotifyOfWorkIfNeeded(priority platform.TaskPriority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil || !m.handle.IsValid() || !m.worklists.HasWorkForConcurrentMarking() {
		return
	}
	if m.escalated {
		priority = platform.UserBlocking
	}
	if m.handle.UpdatePriorityEnabled() {
		m.handle.UpdatePriority(priority)
	}
	m.handle.NotifyConcurrencyIncrease()
}

// NotifyIncrementalMutatorStepCompleted is called after each mutator
// marking step. It escalates the job if it stalled and asks for more
// workers if there is work.
func (m *ConcurrentMarker) NotifyIncrementalMutatorStepCompleted() {
	if !m.worklists.HasWorkForConcurrentMarking() {
		return
	}
	m.IncreasePriorityIfNeeded()
	m.mu.Lock()
	if m.handle != nil && m.handle.IsValid() {
		m.handle.NotifyConcurrencyIncrease()
	}
	m.mu.Unlock()
}

// IncreasePriorityIfNeeded escalates the job to UserBlocking if
// background workers have reported no progress for longer than the
// configured budget. It escalates at most once per phase.
func (m *ConcurrentMarker) IncreasePriorityIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil || !m.handle.IsValid() || !m.handle.UpdatePriorityEnabled() || m.escalated {
		return
	}
	now := m.schedule.Now()
	if current := m.schedule.ConcurrentlyMarkedBytes(); current > m.lastMarkedBytes {
		m.lastMarkedBytes = current
		m.lastProgress = now
		return
	}
	if stalled := now.Sub(m.lastProgress); stalled > m.cfg.escalationBudget() {
		m.handle.UpdatePriority(platform.UserBlocking)
		m.escalated = true
		m.log.Debug("marking: concurrent marking escalated", "stalled", stalled)
	}
}

// Escalated reports whether the current phase's job was escalated.
func (m *ConcurrentMarker) Escalated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.escalated
}

// Join waits for the job to finish, contributing the calling goroutine.
// It returns false if no job was running.
func (m *ConcurrentMarker) Join() bool {
	h := m.takeHandle()
	if h == nil {
		return false
	}
	h.Join()
	m.log.Debug("marking: concurrent marking joined", "marked", m.MarkedBytes())
	return true
}

// Cancel stops the job and waits for running workers to yield. It
// returns false if no job was running.
func (m *ConcurrentMarker) Cancel() bool {
	h := m.takeHandle()
	if h == nil {
		return false
	}
	h.Cancel()
	m.log.Debug("marking: concurrent marking cancelled", "marked", m.MarkedBytes())
	return true
}

func (m *ConcurrentMarker) takeHandle() platform.JobHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.handle
	m.handle = nil
	if h == nil || !h.IsValid() {
		return nil
	}
	return h
}

// AddMarkedBytes records progress of background workers.
func (m *ConcurrentMarker) AddMarkedBytes(n heap.Bytes) {
	if n == 0 {
		return
	}
	m.markedBytes.Add(uint64(n))
	m.schedule.AddConcurrentlyMarkedBytes(n)
}

// MarkedBytes returns the bytes marked by background workers in the
// current phase.
func (m *ConcurrentMarker) MarkedBytes() heap.Bytes {
	return heap.Bytes(m.markedBytes.Load())
}

// Err returns a non-nil error wrapping ErrMarkingAborted if a worker
// lost work in the current phase.
func (m *ConcurrentMarker) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

func (m *ConcurrentMarker) abort(err error) {
	m.errMu.Lock()
	first := m.err == nil
	if first {
		m.err = fmt.Errorf("%w: %w", ErrMarkingAborted, err)
	}
	m.errMu.Unlock()
	if first {
		m.log.Error("marking: concurrent marking aborted", "err", err)
	}
}

// Release checks that no job is running. m must not be used
// afterwards.
func (m *ConcurrentMarker) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil && m.handle.IsValid() {
		throw("release of concurrent marker with an active job")
	}
}

type concurrentMarkingTask struct {
	m *ConcurrentMarker
}

func (t *concurrentMarkingTask) Run(d platform.JobDelegate) {
	m := t.m
	defer m.stats.Start(stats.ConcurrentMark).End()
	if m.Err() != nil || !m.worklists.HasWorkForConcurrentMarking() {
		return
	}
	s := NewMarkingState(m.worklists)
	t.processWorklists(d, s)
	m.AddMarkedBytes(s.RecentlyMarkedBytes())
	s.Publish()
	if err := s.Err(); err != nil {
		m.abort(err)
	}
	s.Release()
}

// processWorklists drains every list in a fixed order until all of
// them are empty, or returns early if the worker should yield.
func (t *concurrentMarkingTask) processWorklists(d platform.JobDelegate, s *MarkingState) {
	m := t.m
	interval := m.cfg.ConcurrentCheckInterval
	shouldYield := func() bool {
		m.AddMarkedBytes(s.RecentlyMarkedBytes())
		return s.Err() != nil || d.ShouldYield()
	}
	for {
		if !t.drain(stats.ConcurrentProcessNotFullyConstructed, func() bool {
			return drainWithPredicate(s.notFullyConstructed, interval, shouldYield, s.processNotFullyConstructed)
		}) {
			return
		}
		if !t.drain(stats.ConcurrentProcessMarking, func() bool {
			return drainWithPredicate(s.marking, interval, shouldYield, s.processMarking)
		}) {
			return
		}
		if !t.drain(stats.ConcurrentProcessWriteBarrier, func() bool {
			return drainWithPredicate(s.writeBarrier, interval, shouldYield, s.processWriteBarrier)
		}) {
			return
		}
		if !t.drain(stats.ConcurrentProcessEphemerons, func() bool {
			return drainWithPredicate(s.ephemeronPairsForProcessing, interval, shouldYield, s.processEphemeronPair)
		}) {
			return
		}
		if s.IsEmpty() {
			return
		}
	}
}

func (t *concurrentMarkingTask) drain(id stats.ScopeID, f func() bool) bool {
	defer t.m.stats.Start(id).End()
	return f()
}

// MaxConcurrency asks for one worker per published segment on top of
// the workers already running.
func (t *concurrentMarkingTask) MaxConcurrency(workerCount int) int {
	if t.m.Err() != nil {
		return 0
	}
	return t.m.worklists.PendingSegments() + workerCount
}
