// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package marking

import (
	"fmt"

	"github.com/kathir-ks/rusty-v8-sub045/internal/heap"
	"github.com/kathir-ks/rusty-v8-sub045/internal/platform"
)

// A Mutator is the write barrier of one mutator goroutine. Each
// goroutine that stores pointers into the heap while marking is in
// progress needs its own Mutator.
//
// StartMarking and FinishMarking must not run concurrently with any
// Mutator method.
type Mutator struct {
	m     *Marker
	state *MarkingState
}

// NewMutator returns a Mutator registered with m.
func (m *Marker) NewMutator() *Mutator {
	mu := &Mutator{m: m, state: NewMarkingState(m.worklists)}
	m.mutatorsMu.Lock()
	m.mutators[mu] = struct{}{}
	m.mutatorsMu.Unlock()
	return mu
}

// WriteBarrier stores value into slot i of dst, marking value if
// marking is in progress.
func (mu *Mutator) WriteBarrier(dst *heap.Object, i int, value *heap.Object) {
	dst.SetSlot(i, value)
	if !mu.m.marking.Load() || value == nil || !value.TryMark() {
		return
	}
	mu.state.PushWriteBarrier(value)
	if mu.state.writeBarrier.PushSegmentSize() == 1 {
		mu.m.concurrent.NotifyOfWorkIfNeeded(platform.UserVisible)
	}
}

// Flush publishes the objects recorded by the write barrier so that
// background workers can trace them.
func (mu *Mutator) Flush() error {
	mu.state.Publish()
	if err := mu.state.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrMarkingAborted, err)
	}
	mu.m.concurrent.NotifyOfWorkIfNeeded(platform.UserVisible)
	return nil
}

// Release unregisters mu. mu must have been flushed.
func (mu *Mutator) Release() {
	mu.m.mutatorsMu.Lock()
	delete(mu.m.mutators, mu)
	mu.m.mutatorsMu.Unlock()
	mu.state.Release()
}

// flushMutators publishes the write barrier work of every stopped
// mutator and returns the first error any of them hit.
func (m *Marker) flushMutators() error {
	m.mutatorsMu.Lock()
	defer m.mutatorsMu.Unlock()
	var first error
	for mu := range m.mutators {
		mu.state.Publish()
		if err := mu.state.Err(); err != nil && first == nil {
			first = fmt.Errorf("%w: %w", ErrMarkingAborted, err)
		}
	}
	return first
}

// clearMutators drops the work and errors of every stopped mutator.
func (m *Marker) clearMutators() {
	m.mutatorsMu.Lock()
	defer m.mutatorsMu.Unlock()
	for mu := range m.mutators {
		mu.state.Clear()
		mu.state.err = nil
	}
}
