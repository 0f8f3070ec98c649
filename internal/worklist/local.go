// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package worklist

// A Local is a single goroutine's view of a Worklist. It caches a
// segment to push into and a segment to pop from so that most
// operations do not touch the shared list.
//
// A Local must not be used by more than one goroutine at a time.
type Local[T any] struct {
	w *Worklist[T]

	// push and pop may each be nil. push is never left full by
	// Push; pop may be empty.
	push, pop *Segment[T]
}

// NewLocal returns an empty Local attached to w.
func NewLocal[T any](w *Worklist[T]) *Local[T] {
	return &Local[T]{w: w}
}

// Worklist returns the shared list l is attached to.
func (l *Local[T]) Worklist() *Worklist[T] { return l.w }

// Push adds item to l. It only returns an error if a new segment was
// needed and could not be allocated, in which case item was not
// added.
func (l *Local[T]) Push(item T) error {
	if l.push == nil || l.push.IsFull() {
		if err := l.newPushSegment(); err != nil {
			return err
		}
	}
	l.push.Push(item)
	return nil
}

func (l *Local[T]) newPushSegment() error {
	seg, err := l.w.alloc.New()
	if err != nil {
		return err
	}
	if l.push != nil {
		if l.push.IsEmpty() {
			l.w.alloc.Free(l.push)
		} else {
			l.w.Push(l.push)
		}
	}
	l.push = seg
	return nil
}

// Pop removes an item from l and returns it. If l has no items of its
// own, Pop steals a segment from the shared list. It returns false if
// neither has any items.
func (l *Local[T]) Pop() (T, bool) {
	if l.pop == nil || l.pop.IsEmpty() {
		if l.push != nil && !l.push.IsEmpty() {
			// Work produced locally is consumed locally
			// first, without going through the shared list.
			l.push, l.pop = l.pop, l.push
		} else if !l.stealPopSegment() {
			var zero T
			return zero, false
		}
	}
	return l.pop.Pop(), true
}

func (l *Local[T]) stealPopSegment() bool {
	if l.w.IsEmpty() {
		return false
	}
	seg, ok := l.w.Pop()
	if !ok {
		return false
	}
	if l.pop != nil {
		l.w.alloc.Free(l.pop)
	}
	l.pop = seg
	return true
}

// Publish hands every item held by l to the shared list, even if the
// segments holding them are only partially filled.
func (l *Local[T]) Publish() {
	l.publishSegment(&l.push)
	l.publishSegment(&l.pop)
}

func (l *Local[T]) publishSegment(p **Segment[T]) {
	seg := *p
	if seg == nil {
		return
	}
	*p = nil
	if seg.IsEmpty() {
		l.w.alloc.Free(seg)
		return
	}
	l.w.Push(seg)
}

// IsLocalEmpty reports whether l holds no items.
func (l *Local[T]) IsLocalEmpty() bool {
	return (l.push == nil || l.push.IsEmpty()) && (l.pop == nil || l.pop.IsEmpty())
}

// IsGlobalEmpty reports whether the shared list has no segments. Like
// Worklist.IsEmpty, the result is advisory.
func (l *Local[T]) IsGlobalEmpty() bool {
	return l.w.IsEmpty()
}

// IsLocalAndGlobalEmpty reports whether neither l nor the shared list
// holds items.
func (l *Local[T]) IsLocalAndGlobalEmpty() bool {
	return l.IsLocalEmpty() && l.IsGlobalEmpty()
}

// PushSegmentSize returns the number of items in l's push segment.
func (l *Local[T]) PushSegmentSize() int {
	if l.push == nil {
		return 0
	}
	return l.push.Size()
}

// Clear drops every item held by l without publishing it. It is meant
// for abandoning a marking phase.
func (l *Local[T]) Clear() {
	l.w.alloc.Free(l.push)
	l.w.alloc.Free(l.pop)
	l.push, l.pop = nil, nil
}

// Release frees l's segments. l must be empty: items it still holds
// would be lost, so Release panics if there are any. l must not be
// used afterwards.
func (l *Local[T]) Release() {
	if !l.IsLocalEmpty() {
		throw("release of non-empty local worklist")
	}
	l.Clear()
}
