// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heap is a minimal managed-object model for exercising the
// marker: objects with pointer slots and ephemeron entries, a root
// set, and a sequential reachability oracle to check marking against.
package heap

import (
	"sync"
	"sync/atomic"
)

// A Heap owns a set of objects and a root set. Allocation and root
// updates are safe for concurrent use.
type Heap struct {
	mu        sync.Mutex
	objects   []*Object
	roots     []*Object
	allocated Bytes
}

// New returns an empty heap.
func New() *Heap {
	return &Heap{}
}

// Allocate returns a new object with the given size and number of
// slots. The object starts out in construction; the caller must call
// FinishConstruction once its slots are initialized.
func (h *Heap) Allocate(size Bytes, slots int) *Object {
	return h.AllocateWithTrace(size, slots, TraceSlots)
}

// AllocateWithTrace is like Allocate, but o.Trace calls trace.
func (h *Heap) AllocateWithTrace(size Bytes, slots int, trace TraceCallback) *Object {
	o := &Object{
		size:  size,
		slots: make([]atomic.Pointer[Object], slots),
		trace: trace,
	}
	o.inConstruction.Store(true)

	h.mu.Lock()
	o.id = len(h.objects)
	h.objects = append(h.objects, o)
	h.allocated += size
	h.mu.Unlock()
	return o
}

// AddRoot adds o to the root set.
func (h *Heap) AddRoot(o *Object) {
	h.mu.Lock()
	h.roots = append(h.roots, o)
	h.mu.Unlock()
}

// Roots returns a snapshot of the root set.
func (h *Heap) Roots() []*Object {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Object(nil), h.roots...)
}

// Objects returns a snapshot of every allocated object.
func (h *Heap) Objects() []*Object {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Object(nil), h.objects...)
}

// Allocated returns the total size of every allocated object.
func (h *Heap) Allocated() Bytes {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocated
}

// MarkedBytes returns the total size of marked objects.
func (h *Heap) MarkedBytes() Bytes {
	var n Bytes
	for _, o := range h.Objects() {
		if o.IsMarked() {
			n += o.size
		}
	}
	return n
}

// ResetMarks clears every mark bit. It must not run concurrently with
// marking.
func (h *Heap) ResetMarks() {
	for _, o := range h.Objects() {
		o.marked.Store(false)
	}
}

// Reachable computes the set of objects reachable from the roots,
// where an ephemeron's value is reachable only if its key is
// reachable. It ignores and does not change mark bits, and must not
// run concurrently with mutation.
func (h *Heap) Reachable() map[*Object]bool {
	r := &oracle{seen: make(map[*Object]bool)}
	for _, o := range h.Roots() {
		r.Visit(o)
	}
	for {
		r.drain()
		// Resolve ephemerons whose keys became reachable. Stop
		// once a pass makes no progress.
		pending := r.ephemerons
		r.ephemerons = nil
		progress := false
		for _, e := range pending {
			if r.seen[e.Key] {
				if e.Value != nil {
					r.Visit(e.Value)
				}
				progress = true
			} else {
				r.ephemerons = append(r.ephemerons, e)
			}
		}
		if !progress {
			return r.seen
		}
	}
}

type oracle struct {
	seen       map[*Object]bool
	stack      []*Object
	ephemerons []Ephemeron
}

func (r *oracle) Visit(o *Object) {
	if !r.seen[o] {
		r.seen[o] = true
		r.stack = append(r.stack, o)
	}
}

func (r *oracle) VisitEphemeron(key, value *Object) {
	r.ephemerons = append(r.ephemerons, Ephemeron{key, value})
}

func (r *oracle) drain() {
	for len(r.stack) > 0 {
		o := r.stack[len(r.stack)-1]
		r.stack = r.stack[:len(r.stack)-1]
		o.Trace(r)
	}
}
