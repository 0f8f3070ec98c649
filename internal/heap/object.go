// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"fmt"
	"sync/atomic"
)

// An Object is a managed object. Its outgoing references are a fixed
// number of pointer slots plus any number of ephemeron entries.
//
// Slots may be read by marking workers while the mutator writes them,
// so they are atomic. Ephemeron entries are fixed once the object is
// constructed.
type Object struct {
	id   int
	size Bytes

	marked         atomic.Bool
	inConstruction atomic.Bool

	slots      []atomic.Pointer[Object]
	ephemerons []Ephemeron
	trace      TraceCallback
}

// An Ephemeron is a weak-key entry: Value is reachable through it only
// if Key is reachable by other means.
type Ephemeron struct {
	Key, Value *Object
}

// A Visitor is told about every outgoing reference of a traced object.
type Visitor interface {
	// Visit is called for every non-nil slot.
	Visit(*Object)
	// VisitEphemeron is called for every ephemeron entry.
	VisitEphemeron(key, value *Object)
}

// A TraceCallback reports the references of o to v.
type TraceCallback func(v Visitor, o *Object)

// TraceSlots is the default TraceCallback. It visits every non-nil
// slot, then every ephemeron entry.
func TraceSlots(v Visitor, o *Object) {
	for i := range o.slots {
		if p := o.slots[i].Load(); p != nil {
			v.Visit(p)
		}
	}
	for _, e := range o.ephemerons {
		v.VisitEphemeron(e.Key, e.Value)
	}
}

// ID returns the object's allocation index within its Heap.
func (o *Object) ID() int { return o.id }

// Size returns the object's size.
func (o *Object) Size() Bytes { return o.size }

func (o *Object) String() string { return fmt.Sprintf("obj%d", o.id) }

// NumSlots returns the number of pointer slots.
func (o *Object) NumSlots() int { return len(o.slots) }

// Slot returns the object in slot i.
func (o *Object) Slot(i int) *Object { return o.slots[i].Load() }

// SetSlot stores p in slot i without a write barrier. Outside of
// construction, mutators must go through the marker's write barrier
// instead.
func (o *Object) SetSlot(i int, p *Object) { o.slots[i].Store(p) }

// AddEphemeron adds a weak-key entry. It may only be called while o is
// in construction.
func (o *Object) AddEphemeron(key, value *Object) {
	if !o.IsInConstruction() {
		panic(fmt.Sprintf("heap: ephemeron added to constructed %v", o))
	}
	if key == nil {
		panic("heap: nil ephemeron key")
	}
	o.ephemerons = append(o.ephemerons, Ephemeron{key, value})
}

// Ephemerons returns o's ephemeron entries.
func (o *Object) Ephemerons() []Ephemeron { return o.ephemerons }

// Trace reports o's references to v using o's trace callback.
func (o *Object) Trace(v Visitor) { o.trace(v, o) }

// TraceCallback returns the callback that traces o.
func (o *Object) TraceCallback() TraceCallback { return o.trace }

// IsMarked reports whether o is marked.
func (o *Object) IsMarked() bool { return o.marked.Load() }

// TryMark marks o. It reports whether o was unmarked before, that is,
// whether the caller is responsible for tracing it.
func (o *Object) TryMark() bool {
	return !o.marked.Load() && o.marked.CompareAndSwap(false, true)
}

// IsInConstruction reports whether o is still being initialized.
func (o *Object) IsInConstruction() bool { return o.inConstruction.Load() }

// FinishConstruction ends o's construction. From then on its slots
// may only be written through a write barrier.
func (o *Object) FinishConstruction() { o.inConstruction.Store(false) }
