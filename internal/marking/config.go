// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package marking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kathir-ks/rusty-v8-sub045/internal/schedule"
	"github.com/kathir-ks/rusty-v8-sub045/internal/worklist"
)

const (
	// DefaultConcurrentCheckInterval is the number of items a
	// background worker traces between yield checks.
	DefaultConcurrentCheckInterval = 750

	// DefaultMutatorCheckInterval is the number of items the
	// mutator traces between deadline checks.
	DefaultMutatorCheckInterval = 150

	// DefaultEscalationRatio is the fraction of the estimated
	// marking time that background marking may go without progress
	// before its job is escalated.
	DefaultEscalationRatio = 0.5
)

// Config tunes marking.
type Config struct {
	// MinSegmentSize is the minimum number of items per worklist
	// segment.
	MinSegmentSize int
	// MaxSegments bounds the live segments of each segment
	// allocator. The object lists share one allocator and the
	// ephemeron pair lists share another; the marking list has its
	// own. 0 means unbounded. Exceeding it aborts the marking phase.
	MaxSegments int

	// ConcurrentCheckInterval is the number of items a background
	// worker traces between calls to ShouldYield.
	ConcurrentCheckInterval int
	// MutatorCheckInterval is the number of items the mutator
	// traces between deadline checks.
	MutatorCheckInterval int

	// EstimatedMarkingTime and EscalationRatio bound how long
	// background marking may go without progress before its job
	// is escalated to UserBlocking.
	EstimatedMarkingTime time.Duration
	EscalationRatio      float64
}

// DefaultConfig returns the default marking configuration.
func DefaultConfig() Config {
	return Config{
		MinSegmentSize:          worklist.DefaultMinSegmentSize,
		ConcurrentCheckInterval: DefaultConcurrentCheckInterval,
		MutatorCheckInterval:    DefaultMutatorCheckInterval,
		EstimatedMarkingTime:    schedule.EstimatedMarkingTime,
		EscalationRatio:         DefaultEscalationRatio,
	}
}

// escalationBudget is how long background marking may stall.
func (c Config) escalationBudget() time.Duration {
	return time.Duration(c.EscalationRatio * float64(c.EstimatedMarkingTime))
}

// withDefaults fills in zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSegmentSize <= 0 {
		c.MinSegmentSize = d.MinSegmentSize
	}
	if c.ConcurrentCheckInterval <= 0 {
		c.ConcurrentCheckInterval = d.ConcurrentCheckInterval
	}
	if c.MutatorCheckInterval <= 0 {
		c.MutatorCheckInterval = d.MutatorCheckInterval
	}
	if c.EstimatedMarkingTime <= 0 {
		c.EstimatedMarkingTime = d.EstimatedMarkingTime
	}
	if c.EscalationRatio <= 0 {
		c.EscalationRatio = d.EscalationRatio
	}
	return c
}

type dbgVar struct {
	name  string
	parse func(c *Config, value string) error
}

func intVar(name string, field func(*Config) *int) dbgVar {
	return dbgVar{name, func(c *Config, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("bad value %q for %s", value, name)
		}
		*field(c) = n
		return nil
	}}
}

var dbgVars = []dbgVar{
	intVar("segment", func(c *Config) *int { return &c.MinSegmentSize }),
	intVar("maxsegments", func(c *Config) *int { return &c.MaxSegments }),
	intVar("checkinterval", func(c *Config) *int { return &c.ConcurrentCheckInterval }),
	intVar("mutatorcheckinterval", func(c *Config) *int { return &c.MutatorCheckInterval }),
	{"estimatedmarking", func(c *Config, value string) error {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("bad value %q for estimatedmarking", value)
		}
		c.EstimatedMarkingTime = d
		return nil
	}},
	{"escalationratio", func(c *Config, value string) error {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f <= 0 {
			return fmt.Errorf("bad value %q for escalationratio", value)
		}
		c.EscalationRatio = f
		return nil
	}},
}

// ParseDebug updates c from a comma-separated list of key=value
// settings, in the format of GODEBUG. Fields without an "=" are
// ignored. Unknown keys and malformed values are errors.
func (c *Config) ParseDebug(s string) error {
	for p := s; p != ""; {
		var field string
		field, p, _ = strings.Cut(p, ",")
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		found := false
		for _, v := range dbgVars {
			if v.name == key {
				if err := v.parse(c, value); err != nil {
					return fmt.Errorf("marking: %w", err)
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("marking: unknown setting %q", key)
		}
	}
	return nil
}
