// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package platformtest provides a deterministic, single-threaded
// platform.Platform for tests.
//
// Posted jobs do not run on their own. The test drives them with
// RunOnce, RunUntilIdle or JobHandle.Join, all on the calling
// goroutine, so the interleaving of mutator and background work is
// fully scripted.
package platformtest

import (
	"github.com/kathir-ks/rusty-v8-sub045/internal/platform"
)

// Platform is a fake platform.Platform.
type Platform struct {
	// YieldEvery makes ShouldYield report true on every YieldEvery'th
	// call within a single Run. If 0, workers never yield.
	YieldEvery int

	// DisableUpdatePriority makes JobHandle.UpdatePriorityEnabled
	// report false.
	DisableUpdatePriority bool

	jobs []*Job
}

// New returns a fake platform whose workers never yield.
func New() *Platform {
	return &Platform{}
}

// PostJob records task. It does not run it.
func (p *Platform) PostJob(priority platform.TaskPriority, task platform.JobTask) platform.JobHandle {
	j := &Job{p: p, task: task, Priority: priority, valid: true}
	p.jobs = append(p.jobs, j)
	return j
}

// Jobs returns every job posted so far, in posting order.
func (p *Platform) Jobs() []*Job { return p.jobs }

// LastJob returns the most recently posted job, or nil.
func (p *Platform) LastJob() *Job {
	if len(p.jobs) == 0 {
		return nil
	}
	return p.jobs[len(p.jobs)-1]
}

// RunOnce calls Run once on the first runnable job. It reports
// whether any job was runnable.
func (p *Platform) RunOnce() bool {
	for _, j := range p.jobs {
		if j.runnable() {
			j.run(false)
			return true
		}
	}
	return false
}

// RunUntilIdle calls RunOnce until no job is runnable or until limit
// runs have happened. It returns the number of runs.
func (p *Platform) RunUntilIdle(limit int) int {
	n := 0
	for n < limit && p.RunOnce() {
		n++
	}
	return n
}

// A Job is a posted job. It implements platform.JobHandle.
type Job struct {
	p    *Platform
	task platform.JobTask

	// Priority is the job's current priority.
	Priority platform.TaskPriority
	// PriorityUpdates records every UpdatePriority call.
	PriorityUpdates []platform.TaskPriority
	// ConcurrencyIncreases counts NotifyConcurrencyIncrease calls
	// from the handle and from delegates.
	ConcurrencyIncreases int
	// Runs counts calls to the task's Run.
	Runs int
	// Yields counts ShouldYield calls that reported true.
	Yields int

	valid     bool
	cancelled bool
	running   int
}

func (j *Job) runnable() bool {
	return j.valid && !j.cancelled && j.running == 0 && j.task.MaxConcurrency(0) > 0
}

func (j *Job) run(joining bool) {
	j.Runs++
	j.running++
	j.task.Run(&delegate{job: j, joining: joining})
	j.running--
}

func (j *Job) NotifyConcurrencyIncrease() { j.ConcurrencyIncreases++ }

// Join runs the task on the calling goroutine until it reports no
// more concurrency. A joining worker never yields.
func (j *Job) Join() {
	for !j.cancelled && j.task.MaxConcurrency(0) > 0 {
		j.run(true)
	}
	j.valid = false
}

func (j *Job) Cancel() {
	j.cancelled = true
	j.valid = false
}

func (j *Job) CancelAndDetach() { j.Cancel() }

// IsActive reports whether the job has work left and has not been
// joined or cancelled.
func (j *Job) IsActive() bool {
	return j.valid && !j.cancelled && (j.running > 0 || j.task.MaxConcurrency(0) > 0)
}

func (j *Job) IsValid() bool { return j.valid }

func (j *Job) UpdatePriorityEnabled() bool { return !j.p.DisableUpdatePriority }

func (j *Job) UpdatePriority(priority platform.TaskPriority) {
	j.PriorityUpdates = append(j.PriorityUpdates, priority)
	j.Priority = priority
}

type delegate struct {
	job     *Job
	joining bool
	calls   int
}

func (d *delegate) ShouldYield() bool {
	if d.job.cancelled {
		return true
	}
	if d.joining || d.job.p.YieldEvery <= 0 {
		return false
	}
	d.calls++
	if d.calls%d.job.p.YieldEvery == 0 {
		d.job.Yields++
		return true
	}
	return false
}

func (d *delegate) NotifyConcurrencyIncrease() { d.job.ConcurrencyIncreases++ }

func (d *delegate) TaskID() uint8 { return 0 }

func (d *delegate) IsJoiningThread() bool { return d.joining }
