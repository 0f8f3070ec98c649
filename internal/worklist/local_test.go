// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package worklist

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
)

func TestLocalHandoff(t *testing.T) {
	// Ten items through segments of (at least) four: the producer
	// fills and publishes several segments, and a second Local on
	// the same list drains all of them.
	w := New[int](Config{MinSegmentSize: 4})
	if got := w.Allocator().MinCapacity(); got != 4 {
		t.Fatalf("want min capacity 4, got %d", got)
	}
	producer := NewLocal(w)
	for i := range 10 {
		if err := producer.Push(i); err != nil {
			t.Fatal(err)
		}
	}
	if got := producer.push.Capacity(); got != 4 {
		t.Fatalf("want segment capacity 4, got %d", got)
	}
	// Segments of 4, 4 and 2 items: the two full ones were published.
	if got := w.Size(); got < 2 {
		t.Fatalf("want at least 2 published segments, got %d", got)
	}
	if got := producer.PushSegmentSize(); got != 2 {
		t.Fatalf("want 2 items in the push segment, got %d", got)
	}
	producer.Publish()
	if got := w.Size(); got != 3 {
		t.Fatalf("want 3 segments after Publish, got %d", got)
	}
	producer.Release()

	consumer := NewLocal(w)
	var got []int
	for {
		x, ok := consumer.Pop()
		if !ok {
			break
		}
		got = append(got, x)
	}
	slices.Sort(got)
	if want := seq(0, 10); !slices.Equal(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	if !w.IsEmpty() {
		t.Fatalf("worklist not empty after draining")
	}
	if !consumer.IsLocalAndGlobalEmpty() {
		t.Fatalf("consumer not empty after draining")
	}
	consumer.Release()
	if n := w.Allocator().Live(); n != 0 {
		t.Fatalf("%d segments leaked", n)
	}
}

func TestLocalLIFOWithinSegment(t *testing.T) {
	w := New[string](Config{MinSegmentSize: 4})
	l := NewLocal(w)
	for _, x := range []string{"a", "b", "c"} {
		l.Push(x)
	}
	var got []string
	for range 3 {
		x, ok := l.Pop()
		if !ok {
			t.Fatalf("Pop failed")
		}
		got = append(got, x)
	}
	if want := []string{"c", "b", "a"}; !slices.Equal(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	l.Release()
}

func TestLocalSwapAvoidsGlobal(t *testing.T) {
	// A Local that consumes what it produces, within one segment,
	// never publishes to the shared list.
	w := New[int](Config{MinSegmentSize: 8})
	l := NewLocal(w)
	capacity := 0
	for i := 0; ; i++ {
		l.Push(i)
		capacity = l.push.Capacity()
		if i+1 == capacity-1 {
			break
		}
	}
	for range capacity - 1 {
		if _, ok := l.Pop(); !ok {
			t.Fatalf("Pop failed")
		}
		if w.Size() != 0 {
			t.Fatalf("local work went through the shared list")
		}
	}
	if _, ok := l.Pop(); ok {
		t.Fatalf("Pop succeeded on empty local")
	}
	l.Release()
}

func TestLocalPublishPartial(t *testing.T) {
	w := New[int](Config{MinSegmentSize: 16})
	l := NewLocal(w)
	l.Push(1)
	l.Push(2)
	if !w.IsEmpty() {
		t.Fatalf("partial segment published early")
	}
	if l.IsLocalEmpty() {
		t.Fatalf("local empty after push")
	}
	if l.PushSegmentSize() != 2 {
		t.Fatalf("want push segment size 2, got %d", l.PushSegmentSize())
	}
	l.Publish()
	if w.Size() != 1 {
		t.Fatalf("want 1 published segment, got %d", w.Size())
	}
	if !l.IsLocalEmpty() || l.IsGlobalEmpty() || l.IsLocalAndGlobalEmpty() {
		t.Fatalf("bad emptiness after Publish")
	}
	// Publishing again is a no-op.
	l.Publish()
	if w.Size() != 1 {
		t.Fatalf("second Publish changed size to %d", w.Size())
	}
	l.Release()
	if got := drain(w); !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("want [1 2], got %v", got)
	}
}

func TestLocalPublishBothSegments(t *testing.T) {
	w := New[int](Config{MinSegmentSize: 4})
	l := NewLocal(w)
	capacity := 0
	for i := 0; ; i++ {
		l.Push(i)
		if capacity == 0 {
			capacity = l.push.Capacity()
		}
		if i == capacity+1 {
			break
		}
	}
	// Consume the local push segment, then steal the published
	// one back and take one item from it, so that l holds a
	// partial pop segment as well as a fresh push segment.
	for range 3 {
		l.Pop()
	}
	l.Push(100)
	l.Publish()
	if !l.IsLocalEmpty() {
		t.Fatalf("local not empty after Publish")
	}
	l.Release()

	want := append(seq(0, capacity-1), 100)
	if got := drain(w); !slices.Equal(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestLocalConservation(t *testing.T) {
	// At every quiescent point, pushed - popped equals what is
	// still reachable from the Locals and the shared list.
	w := New[int](Config{MinSegmentSize: 4})
	locals := []*Local[int]{NewLocal(w), NewLocal(w), NewLocal(w)}
	rnd := rand.New(rand.NewPCG(0, 0))

	pushed, popped := 0, 0
	for step := range 2000 {
		l := locals[rnd.IntN(len(locals))]
		switch rnd.IntN(5) {
		case 0, 1:
			l.Push(step)
			pushed++
		case 2:
			if _, ok := l.Pop(); ok {
				popped++
			}
		case 3:
			l.Publish()
		case 4:
			// Quiescent check.
			remaining := 0
			for _, l := range locals {
				remaining += localItems(l)
			}
			w.Iterate(func(int) { remaining++ })
			if pushed-popped != remaining {
				t.Fatalf("step %d: pushed %d - popped %d != remaining %d", step, pushed, popped, remaining)
			}
		}
	}
	for _, l := range locals {
		l.Publish()
		l.Release()
	}
	if got := len(drain(w)); got != pushed-popped {
		t.Fatalf("drained %d items, want %d", got, pushed-popped)
	}
}

func localItems(l *Local[int]) int {
	n := 0
	if l.push != nil {
		n += l.push.Size()
	}
	if l.pop != nil {
		n += l.pop.Size()
	}
	return n
}

func TestLocalUpdateAcrossSegments(t *testing.T) {
	w := New[int](Config{MinSegmentSize: 4})
	fill(t, w, seq(0, 37)...)
	keep := func(x *int) bool { return *x%5 != 0 }
	w.Update(keep)

	var want []int
	for _, x := range seq(0, 37) {
		if keep(&x) {
			want = append(want, x)
		}
	}
	if got := drain(w); !slices.Equal(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestLocalSegmentLimit(t *testing.T) {
	w := New[int](Config{MinSegmentSize: 4, MaxSegments: 2})
	l := NewLocal(w)
	var err error
	pushed := 0
	for i := range 100 {
		if err = l.Push(i); err != nil {
			break
		}
		pushed++
	}
	if !errors.Is(err, ErrSegmentLimit) {
		t.Fatalf("want ErrSegmentLimit, got %v", err)
	}
	if pushed != 2*l.push.Capacity() {
		t.Fatalf("pushed %d items before failing, want %d", pushed, 2*l.push.Capacity())
	}

	// Draining frees segments and makes room again.
	for range pushed {
		if _, ok := l.Pop(); !ok {
			t.Fatalf("lost items after allocation failure")
		}
	}
	l.Publish()
	if err := l.Push(1); err != nil {
		t.Fatalf("Push after draining: %v", err)
	}
	l.Clear()
	l.Release()
	if n := w.Allocator().Live(); n != 0 {
		t.Fatalf("%d segments leaked", n)
	}
}

func TestLocalClear(t *testing.T) {
	w := New[int](Config{MinSegmentSize: 4})
	l := NewLocal(w)
	for i := range 7 {
		l.Push(i)
	}
	l.Clear()
	if !l.IsLocalEmpty() {
		t.Fatalf("local not empty after Clear")
	}
	// Already-published segments are not affected.
	if w.IsEmpty() {
		t.Fatalf("Clear dropped published segments")
	}
	l.Release()
	w.Clear()
}

func TestLocalReleaseNonEmpty(t *testing.T) {
	w := New[int](Config{MinSegmentSize: 4})
	l := NewLocal(w)
	l.Push(1)
	defer func() {
		if recover() == nil {
			t.Fatalf("Release of non-empty local did not panic")
		}
	}()
	l.Release()
}
