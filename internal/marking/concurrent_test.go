// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package marking

import (
	"slices"
	"testing"
	"time"

	"github.com/kathir-ks/rusty-v8-sub045/internal/heap"
	"github.com/kathir-ks/rusty-v8-sub045/internal/platform"
	"github.com/kathir-ks/rusty-v8-sub045/internal/platform/platformtest"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// smallHeap returns a heap with a few roots, so that a started cycle
// has published work.
func smallHeap() *heap.Heap {
	h := heap.New()
	for range 3 {
		h.AddRoot(obj(h, obj(h)))
	}
	return h
}

func TestConcurrentMarkerWithoutPlatform(t *testing.T) {
	m := NewMarker(smallHeap(), Options{})
	m.StartMarking()
	c := m.Concurrent()
	if c.IsActive() {
		t.Errorf("active without a platform")
	}
	c.NotifyOfWorkIfNeeded(platform.UserBlocking)
	c.IncreasePriorityIfNeeded()
	if c.Escalated() {
		t.Errorf("escalated without a platform")
	}
	if c.Join() || c.Cancel() {
		t.Errorf("Join or Cancel reported a job without a platform")
	}
	if err := m.FinishMarking(); err != nil {
		t.Fatal(err)
	}
	m.Release()
}

func TestConcurrentMarkerJoin(t *testing.T) {
	h := smallHeap()
	p := platformtest.New()
	m := NewMarker(h, Options{Platform: p})
	m.StartMarking()
	c := m.Concurrent()
	if !c.IsActive() {
		t.Fatalf("not active after StartMarking")
	}
	if !c.Join() {
		t.Fatalf("Join found no job")
	}
	if c.IsActive() || c.Join() || c.Cancel() {
		t.Fatalf("job still present after Join")
	}
	if m.Worklists().HasWorkForConcurrentMarking() {
		t.Errorf("Join returned with work left")
	}
	if err := m.FinishMarking(); err != nil {
		t.Fatal(err)
	}
	checkExact(t, h)
	m.Release()
}

func TestConcurrentMarkerStartIsIdempotent(t *testing.T) {
	p := platformtest.New()
	m := NewMarker(smallHeap(), Options{Platform: p})
	m.StartMarking()
	m.StartMarking()
	m.Concurrent().Start()
	if n := len(p.Jobs()); n != 1 {
		t.Fatalf("posted %d jobs, want 1", n)
	}
	if err := m.FinishMarking(); err != nil {
		t.Fatal(err)
	}
	m.Release()
}

func TestMaxConcurrency(t *testing.T) {
	p := platformtest.New()
	m := NewMarker(smallHeap(), Options{Platform: p})
	m.StartMarking()
	task := &concurrentMarkingTask{m: m.Concurrent()}
	segs := m.Worklists().PendingSegments()
	if segs == 0 {
		t.Fatalf("no published segments after StartMarking")
	}
	for _, workers := range []int{0, 1, 5} {
		if got := task.MaxConcurrency(workers); got != segs+workers {
			t.Errorf("MaxConcurrency(%d) = %d, want %d", workers, got, segs+workers)
		}
	}
	p.RunUntilIdle(100)
	if got := task.MaxConcurrency(2); got != 2 {
		t.Errorf("MaxConcurrency(2) with no work = %d, want 2", got)
	}
	if err := m.FinishMarking(); err != nil {
		t.Fatal(err)
	}
	m.Release()
}

func TestNotifyOfWork(t *testing.T) {
	p := platformtest.New()
	m := NewMarker(smallHeap(), Options{Platform: p})
	m.StartMarking()
	job := p.LastJob()
	c := m.Concurrent()

	c.NotifyOfWorkIfNeeded(platform.UserBlocking)
	if job.ConcurrencyIncreases != 1 || !slices.Equal(job.PriorityUpdates, []platform.TaskPriority{platform.UserBlocking}) {
		t.Fatalf("got %d increases and updates %v", job.ConcurrencyIncreases, job.PriorityUpdates)
	}

	// Nothing is published once the job has drained the lists.
	p.RunUntilIdle(100)
	c.NotifyOfWorkIfNeeded(platform.UserVisible)
	if job.ConcurrencyIncreases != 1 || len(job.PriorityUpdates) != 1 {
		t.Fatalf("notified without work: %d increases, updates %v", job.ConcurrencyIncreases, job.PriorityUpdates)
	}
	if err := m.FinishMarking(); err != nil {
		t.Fatal(err)
	}
	m.Release()
}

func TestEscalation(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := platformtest.New()
	m := NewMarker(smallHeap(), Options{Platform: p, Now: clock.now})
	c := m.Concurrent()
	budget := DefaultConfig().escalationBudget()

	m.StartMarking()
	job := p.LastJob()
	c.IncreasePriorityIfNeeded()
	clock.advance(budget)
	c.IncreasePriorityIfNeeded()
	if c.Escalated() || len(job.PriorityUpdates) != 0 {
		t.Fatalf("escalated within budget: %v", job.PriorityUpdates)
	}
	clock.advance(time.Millisecond)
	c.IncreasePriorityIfNeeded()
	if !c.Escalated() || job.Priority != platform.UserBlocking {
		t.Fatalf("not escalated after stalling for %v", budget+time.Millisecond)
	}

	// Escalation happens once and is not undone.
	clock.advance(10 * budget)
	c.IncreasePriorityIfNeeded()
	c.NotifyOfWorkIfNeeded(platform.UserVisible)
	if job.Priority != platform.UserBlocking {
		t.Fatalf("priority lowered to %v after escalation", job.Priority)
	}
	want := []platform.TaskPriority{platform.UserBlocking, platform.UserBlocking}
	if !slices.Equal(job.PriorityUpdates, want) {
		t.Fatalf("priority updates %v, want %v", job.PriorityUpdates, want)
	}
	if err := m.FinishMarking(); err != nil {
		t.Fatal(err)
	}

	// A new cycle starts unescalated, and progress resets the budget.
	m.StartMarking()
	job = p.LastJob()
	if c.Escalated() {
		t.Fatalf("escalation carried into the next cycle")
	}
	clock.advance(budget)
	c.AddMarkedBytes(64)
	c.IncreasePriorityIfNeeded()
	if c.Escalated() {
		t.Fatalf("escalated despite progress")
	}
	clock.advance(budget + time.Millisecond)
	c.IncreasePriorityIfNeeded()
	if !c.Escalated() || job.Priority != platform.UserBlocking {
		t.Fatalf("not escalated after stalling again")
	}
	if err := m.FinishMarking(); err != nil {
		t.Fatal(err)
	}
	m.Release()
}

func TestEscalationNeedsUpdatePriority(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := &platformtest.Platform{DisableUpdatePriority: true}
	m := NewMarker(smallHeap(), Options{Platform: p, Now: clock.now})
	m.StartMarking()
	clock.advance(time.Hour)
	m.Concurrent().IncreasePriorityIfNeeded()
	m.Concurrent().NotifyOfWorkIfNeeded(platform.UserBlocking)
	job := p.LastJob()
	if m.Concurrent().Escalated() || len(job.PriorityUpdates) != 0 {
		t.Fatalf("priority updated on a job that does not support it: %v", job.PriorityUpdates)
	}
	if job.ConcurrencyIncreases != 1 {
		t.Errorf("got %d concurrency increases, want 1", job.ConcurrencyIncreases)
	}
	if err := m.FinishMarking(); err != nil {
		t.Fatal(err)
	}
	m.Release()
}

func TestMutatorStepEscalates(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := platformtest.New()
	h := smallHeap()
	m := NewMarker(h, Options{Platform: p, Now: clock.now})
	m.StartMarking()
	clock.advance(time.Second)
	// A zero-length step traces nothing and leaves the roots for
	// the stalled job.
	if _, err := m.AdvanceMarking(0, 0); err != nil {
		t.Fatal(err)
	}
	job := p.LastJob()
	if !m.Concurrent().Escalated() || job.Priority != platform.UserBlocking {
		t.Fatalf("stalled job not escalated by the mutator step")
	}
	if job.ConcurrencyIncreases == 0 {
		t.Errorf("mutator step did not ask for workers")
	}
	if err := m.FinishMarking(); err != nil {
		t.Fatal(err)
	}
	checkExact(t, h)
	m.Release()
}
