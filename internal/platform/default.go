// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"context"
	"log/slog"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// maxWorkers bounds the number of workers of a single job, so that
// task IDs fit in a 64-bit mask with room for the joining goroutine.
const maxWorkers = 63

// DefaultTimeSlice is how long a Default worker runs a task before
// ShouldYield asks it to give its slot back.
const DefaultTimeSlice = 2 * time.Millisecond

// Options configures a Default platform.
type Options struct {
	// Workers is the number of job workers that may run at once
	// across all jobs. If 0, GOMAXPROCS-1 (at least 1) is used.
	Workers int

	// TimeSlice is how long a worker runs before it is asked to
	// yield. If 0, DefaultTimeSlice is used.
	TimeSlice time.Duration

	// Logger receives job lifecycle events at Debug level. If nil,
	// slog.Default() is used.
	Logger *slog.Logger
}

// Default is a Platform that runs job workers on goroutines. Workers
// of all jobs share a fixed number of slots.
type Default struct {
	slots     *semaphore.Weighted
	workers   int
	timeSlice time.Duration
	log       *slog.Logger

	nextJob atomic.Uint64
}

// NewDefault returns a goroutine-backed platform.
func NewDefault(opts Options) *Default {
	workers := opts.Workers
	if workers <= 0 {
		workers = max(1, runtime.GOMAXPROCS(0)-1)
	}
	workers = min(workers, maxWorkers)
	if opts.TimeSlice <= 0 {
		opts.TimeSlice = DefaultTimeSlice
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Default{
		slots:     semaphore.NewWeighted(int64(workers)),
		workers:   workers,
		timeSlice: opts.TimeSlice,
		log:       opts.Logger,
	}
}

// Workers returns the number of worker slots.
func (p *Default) Workers() int { return p.workers }

// capacity returns the number of workers a job of the given priority
// may have at once.
func (p *Default) capacity(priority TaskPriority) int {
	switch priority {
	case BestEffort:
		return 1
	case UserVisible:
		return max(1, p.workers/2)
	}
	return p.workers
}

// PostJob schedules task and returns its handle. Workers start
// immediately if MaxConcurrency asks for any.
func (p *Default) PostJob(priority TaskPriority, task JobTask) JobHandle {
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		p:        p,
		task:     task,
		id:       p.nextJob.Add(1),
		ctx:      ctx,
		stop:     cancel,
		priority: priority,
		valid:    true,
	}
	j.cond = sync.NewCond(&j.mu)
	p.log.Debug("platform: job posted", "job", j.id, "priority", priority)

	j.mu.Lock()
	j.scheduleLocked()
	j.mu.Unlock()
	return j
}

type job struct {
	p    *Default
	task JobTask
	id   uint64

	// ctx is cancelled once no new workers may start.
	ctx  context.Context
	stop context.CancelFunc

	mu   sync.Mutex
	cond *sync.Cond // signalled when active or pending drops

	priority TaskPriority
	valid    bool
	active   int    // workers inside task.Run, including a joiner
	pending  int    // worker goroutines waiting for a slot
	taskIDs  uint64 // bit i set if task ID i is in use
}

// scheduleLocked starts enough worker goroutines to satisfy the task's
// current MaxConcurrency, capped by the job's priority.
func (j *job) scheduleLocked() {
	if j.ctx.Err() != nil {
		return
	}
	want := min(j.task.MaxConcurrency(j.active), j.p.capacity(j.priority))
	for range want - j.active - j.pending {
		j.pending++
		go j.worker()
	}
}

func (j *job) worker() {
	err := j.p.slots.Acquire(j.ctx, 1)

	j.mu.Lock()
	j.pending--
	if err != nil || j.ctx.Err() != nil || j.active >= min(j.task.MaxConcurrency(j.active), j.p.capacity(j.priority)) {
		j.cond.Broadcast()
		j.mu.Unlock()
		if err == nil {
			j.p.slots.Release(1)
		}
		return
	}
	id := j.acquireTaskIDLocked()
	j.active++
	j.mu.Unlock()

	j.task.Run(&delegate{
		job:      j,
		id:       id,
		deadline: time.Now().Add(j.p.timeSlice),
	})
	j.p.slots.Release(1)

	j.mu.Lock()
	j.active--
	j.releaseTaskIDLocked(id)
	// The worker gave up its slot. Other jobs waiting on the
	// semaphore go first; this job queues up behind them.
	j.scheduleLocked()
	j.cond.Broadcast()
	j.mu.Unlock()
}

func (j *job) acquireTaskIDLocked() uint8 {
	id := bits.TrailingZeros64(^j.taskIDs)
	j.taskIDs |= 1 << id
	return uint8(id)
}

func (j *job) releaseTaskIDLocked(id uint8) {
	j.taskIDs &^= 1 << id
}

func (j *job) NotifyConcurrencyIncrease() {
	j.mu.Lock()
	j.scheduleLocked()
	j.mu.Unlock()
}

func (j *job) Join() {
	j.p.log.Debug("platform: joining job", "job", j.id)
	j.mu.Lock()
	j.priority = UserBlocking
	j.scheduleLocked()
	for j.waitForParticipationLocked() {
		id := j.acquireTaskIDLocked()
		j.active++
		j.mu.Unlock()

		j.task.Run(&delegate{job: j, id: id, joining: true})

		j.mu.Lock()
		j.active--
		j.releaseTaskIDLocked(id)
		j.cond.Broadcast()
	}
	// No more work. Unblock workers still waiting for a slot.
	j.stop()
	j.waitLocked()
	j.valid = false
	j.mu.Unlock()
}

// waitForParticipationLocked blocks until the joining goroutine can
// usefully run the task. It returns false once the job is done.
func (j *job) waitForParticipationLocked() bool {
	for j.ctx.Err() == nil {
		if j.active < j.task.MaxConcurrency(j.active) {
			return true
		}
		if j.active == 0 {
			return false
		}
		j.cond.Wait()
	}
	return false
}

func (j *job) waitLocked() {
	for j.active+j.pending > 0 {
		j.cond.Wait()
	}
}

func (j *job) Cancel() {
	j.p.log.Debug("platform: cancelling job", "job", j.id)
	j.stop()
	j.mu.Lock()
	j.waitLocked()
	j.valid = false
	j.mu.Unlock()
}

func (j *job) CancelAndDetach() {
	j.p.log.Debug("platform: cancelling job", "job", j.id, "detach", true)
	j.stop()
	j.mu.Lock()
	j.valid = false
	j.mu.Unlock()
}

func (j *job) IsActive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.active+j.pending > 0
}

func (j *job) IsValid() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.valid
}

func (j *job) UpdatePriorityEnabled() bool { return true }

func (j *job) UpdatePriority(priority TaskPriority) {
	j.mu.Lock()
	if j.priority != priority {
		j.p.log.Debug("platform: job priority changed", "job", j.id, "from", j.priority, "to", priority)
		j.priority = priority
		j.scheduleLocked()
	}
	j.mu.Unlock()
}

type delegate struct {
	job      *job
	id       uint8
	joining  bool
	deadline time.Time
}

func (d *delegate) ShouldYield() bool {
	if d.job.ctx.Err() != nil {
		return true
	}
	return !d.joining && time.Now().After(d.deadline)
}

func (d *delegate) NotifyConcurrencyIncrease() { d.job.NotifyConcurrencyIncrease() }

func (d *delegate) TaskID() uint8 { return d.id }

func (d *delegate) IsJoiningThread() bool { return d.joining }
