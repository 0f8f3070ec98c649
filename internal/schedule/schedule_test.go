// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schedule

import (
	"testing"
	"time"

	"github.com/kathir-ks/rusty-v8-sub045/internal/heap"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1000, 0)} }

func newSchedule(c *fakeClock) *Schedule { return New(c.now) }

func TestMinimumStep(t *testing.T) {
	c := newFakeClock()
	s := newSchedule(c)
	s.NotifyIncrementalMarkingStart()
	// No time has passed, so nothing is expected yet.
	if got := s.NextIncrementalStepBytes(100 * heap.MiB); got != MinimumStepBytes {
		t.Fatalf("want %v, got %v", MinimumStepBytes, got)
	}
}

func TestStepCatchesUp(t *testing.T) {
	c := newFakeClock()
	s := newSchedule(c)
	s.NotifyIncrementalMarkingStart()
	c.advance(EstimatedMarkingTime / 2)

	live := 100 * heap.MiB
	if got, want := s.NextIncrementalStepBytes(live), 50*heap.MiB; got != want {
		t.Fatalf("want %v, got %v", want, got)
	}

	s.AddMutatorMarkedBytes(20 * heap.MiB)
	s.AddConcurrentlyMarkedBytes(10 * heap.MiB)
	if got, want := s.OverallMarkedBytes(), 30*heap.MiB; got != want {
		t.Fatalf("overall: want %v, got %v", want, got)
	}
	if got, want := s.NextIncrementalStepBytes(live), 20*heap.MiB; got != want {
		t.Fatalf("want %v, got %v", want, got)
	}

	// Ahead of schedule.
	s.AddConcurrentlyMarkedBytes(40 * heap.MiB)
	if got := s.NextIncrementalStepBytes(live); got != MinimumStepBytes {
		t.Fatalf("ahead of schedule: want %v, got %v", MinimumStepBytes, got)
	}
}

func TestConcurrentUpdateClock(t *testing.T) {
	c := newFakeClock()
	s := newSchedule(c)
	s.NotifyConcurrentMarkingStart()
	c.advance(30 * time.Millisecond)
	if got := s.TimeSinceLastConcurrentMarkingUpdate(); got != 30*time.Millisecond {
		t.Fatalf("want 30ms, got %v", got)
	}
	s.AddConcurrentlyMarkedBytes(1)
	if got := s.TimeSinceLastConcurrentMarkingUpdate(); got != 0 {
		t.Fatalf("want 0 after update, got %v", got)
	}
	if s.ConcurrentlyMarkedBytes() != 1 {
		t.Fatalf("want 1 concurrently marked byte, got %v", s.ConcurrentlyMarkedBytes())
	}
}

func TestShouldFlushEphemeronPairs(t *testing.T) {
	c := newFakeClock()
	s := newSchedule(c)
	s.NotifyIncrementalMarkingStart()
	if s.ShouldFlushEphemeronPairs() {
		t.Fatalf("flush before any estimate")
	}
	s.NextIncrementalStepBytes(100 * heap.MiB)
	if s.ShouldFlushEphemeronPairs() {
		t.Fatalf("flush with nothing marked")
	}
	s.AddMutatorMarkedBytes(30 * heap.MiB)
	if !s.ShouldFlushEphemeronPairs() {
		t.Fatalf("no flush at 30%%")
	}
	// The next flush needs another quarter of the heap.
	if s.ShouldFlushEphemeronPairs() {
		t.Fatalf("second flush at 30%%")
	}
	s.AddMutatorMarkedBytes(25 * heap.MiB)
	if !s.ShouldFlushEphemeronPairs() {
		t.Fatalf("no flush at 55%%")
	}
}

func TestReset(t *testing.T) {
	c := newFakeClock()
	s := newSchedule(c)
	s.AddMutatorMarkedBytes(5)
	s.AddConcurrentlyMarkedBytes(7)
	s.Reset()
	if s.OverallMarkedBytes() != 0 || s.Elapsed() != 0 {
		t.Fatalf("progress survived Reset")
	}
}
