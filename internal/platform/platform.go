// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package platform defines the boundary between the collector and the
// host scheduler that runs its background jobs.
//
// The collector never starts goroutines of its own. It posts a JobTask
// to a Platform and gets back a JobHandle. The platform decides how
// many workers run the task at once, based on the task's
// MaxConcurrency and the job's priority, and each worker polls
// JobDelegate.ShouldYield to give its slot back.
package platform

import "fmt"

// TaskPriority is the scheduling priority of a job.
type TaskPriority int

const (
	// BestEffort jobs run when nothing else needs the workers.
	BestEffort TaskPriority = iota
	// UserVisible jobs affect observable latency, but not at once.
	UserVisible
	// UserBlocking jobs are blocking progress and get every worker.
	UserBlocking
)

func (p TaskPriority) String() string {
	switch p {
	case BestEffort:
		return "BestEffort"
	case UserVisible:
		return "UserVisible"
	case UserBlocking:
		return "UserBlocking"
	}
	return fmt.Sprintf("TaskPriority(%d)", int(p))
}

// A JobDelegate is passed to JobTask.Run. It is only valid for the
// duration of that call.
type JobDelegate interface {
	// ShouldYield reports whether the worker should return from
	// Run as soon as possible. Run must poll it periodically.
	ShouldYield() bool

	// NotifyConcurrencyIncrease tells the platform that
	// MaxConcurrency has increased.
	NotifyConcurrencyIncrease()

	// TaskID returns a small integer that is unique among the
	// workers concurrently running the job.
	TaskID() uint8

	// IsJoiningThread reports whether Run was called on the
	// goroutine that called JobHandle.Join.
	IsJoiningThread() bool
}

// A JobHandle controls a posted job.
type JobHandle interface {
	// NotifyConcurrencyIncrease tells the platform that the task's
	// MaxConcurrency has increased.
	NotifyConcurrencyIncrease()

	// Join contributes the calling goroutine to the job and
	// returns once the job has completed. The handle is invalid
	// afterwards.
	Join()

	// Cancel stops scheduling new workers and waits for running
	// workers to return. The handle is invalid afterwards.
	Cancel()

	// CancelAndDetach stops scheduling new workers without
	// waiting. The handle is invalid afterwards.
	CancelAndDetach()

	// IsActive reports whether the job still has workers running
	// or waiting to run.
	IsActive() bool

	// IsValid reports whether the handle can still be used, that
	// is, none of Join, Cancel or CancelAndDetach has been called.
	IsValid() bool

	// UpdatePriorityEnabled reports whether UpdatePriority has any
	// effect.
	UpdatePriorityEnabled() bool

	// UpdatePriority changes the priority of the job.
	UpdatePriority(TaskPriority)
}

// A JobTask is the work of a job.
type JobTask interface {
	// Run does a bounded amount of work, returning when it runs
	// out of work or when delegate.ShouldYield reports true. Run
	// may be called concurrently from several workers.
	Run(delegate JobDelegate)

	// MaxConcurrency returns the number of workers that could
	// usefully run the task, given that workerCount workers are
	// already running it. It may be called concurrently with Run
	// and must not call back into the JobHandle.
	MaxConcurrency(workerCount int) int
}

// A Platform runs jobs.
type Platform interface {
	PostJob(priority TaskPriority, task JobTask) JobHandle
}
