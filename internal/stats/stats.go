// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stats accumulates the time spent in the phases of marking.
//
// Each phase has a fixed ScopeID. Code brackets a phase with
//
//	defer c.Start(stats.ConcurrentMark).End()
//
// A nil *Collector is valid and records nothing, so callers never need
// to check whether statistics are enabled.
package stats

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// A ScopeID names a timed phase.
type ScopeID int

const (
	// Background worker scopes.
	ConcurrentMark ScopeID = iota
	ConcurrentProcessNotFullyConstructed
	ConcurrentProcessMarking
	ConcurrentProcessWriteBarrier
	ConcurrentProcessEphemerons

	// Mutator scopes.
	MarkStart
	MarkIncrementalStep
	MarkProcessNotFullyConstructed
	MarkProcessMarking
	MarkProcessWriteBarrier
	MarkProcessEphemerons
	MarkFlushEphemerons
	MarkAtomic

	numScopes
)

var scopeNames = [numScopes]string{
	ConcurrentMark:                       "ConcurrentMark",
	ConcurrentProcessNotFullyConstructed: "ConcurrentProcessNotFullyConstructed",
	ConcurrentProcessMarking:             "ConcurrentProcessMarking",
	ConcurrentProcessWriteBarrier:        "ConcurrentProcessWriteBarrier",
	ConcurrentProcessEphemerons:          "ConcurrentProcessEphemerons",
	MarkStart:                            "MarkStart",
	MarkIncrementalStep:                  "MarkIncrementalStep",
	MarkProcessNotFullyConstructed:       "MarkProcessNotFullyConstructed",
	MarkProcessMarking:                   "MarkProcessMarking",
	MarkProcessWriteBarrier:              "MarkProcessWriteBarrier",
	MarkProcessEphemerons:                "MarkProcessEphemerons",
	MarkFlushEphemerons:                  "MarkFlushEphemerons",
	MarkAtomic:                           "MarkAtomic",
}

func (id ScopeID) String() string {
	if id >= 0 && id < numScopes {
		return scopeNames[id]
	}
	return fmt.Sprintf("ScopeID(%d)", int(id))
}

type accum struct {
	count atomic.Int64
	total atomic.Int64 // nanoseconds
	max   atomic.Int64 // nanoseconds
}

func (a *accum) add(d time.Duration) {
	a.count.Add(1)
	a.total.Add(int64(d))
	for {
		m := a.max.Load()
		if int64(d) <= m || a.max.CompareAndSwap(m, int64(d)) {
			return
		}
	}
}

// A Collector accumulates scope timings. It is safe for concurrent
// use.
type Collector struct {
	now    func() time.Time
	scopes [numScopes]accum
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{now: time.Now}
}

// A Scope is a running timer. End stops it and records the elapsed
// time.
type Scope struct {
	c     *Collector
	id    ScopeID
	start time.Time
}

// Start starts timing scope id.
func (c *Collector) Start(id ScopeID) Scope {
	if c == nil {
		return Scope{}
	}
	return Scope{c: c, id: id, start: c.now()}
}

// End records the time since Start. It is a no-op on a Scope from a
// nil Collector.
func (s Scope) End() {
	if s.c == nil {
		return
	}
	s.c.scopes[s.id].add(s.c.now().Sub(s.start))
}

// A Summary is the accumulated timing of one scope.
type Summary struct {
	Scope ScopeID
	Count int
	Total time.Duration
	Max   time.Duration
}

// Summary returns the accumulated timing of id.
func (c *Collector) Summary(id ScopeID) Summary {
	if c == nil {
		return Summary{Scope: id}
	}
	a := &c.scopes[id]
	return Summary{
		Scope: id,
		Count: int(a.count.Load()),
		Total: time.Duration(a.total.Load()),
		Max:   time.Duration(a.max.Load()),
	}
}

// Summaries returns the timing of every scope that ran at least once.
func (c *Collector) Summaries() []Summary {
	var out []Summary
	for id := range numScopes {
		if s := c.Summary(id); s.Count > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Reset clears all accumulated timings.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	for i := range c.scopes {
		a := &c.scopes[i]
		a.count.Store(0)
		a.total.Store(0)
		a.max.Store(0)
	}
}

// Report logs every scope that ran at least once.
func (c *Collector) Report(log *slog.Logger) {
	for _, s := range c.Summaries() {
		log.Info("stats", "scope", s.Scope, "count", s.Count, "total", s.Total, "max", s.Max)
	}
}
