// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Markbench builds a random heap and marks it concurrently while
// mutator goroutines rewire it, then checks the result against a
// stop-the-world reachability walk.
//
// Usage:
//
//	markbench [flags]
//
// Marking parameters can be overridden with the MARKDEBUG environment
// variable, for example MARKDEBUG=segment=128,checkinterval=100.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kathir-ks/rusty-v8-sub045/internal/heap"
	"github.com/kathir-ks/rusty-v8-sub045/internal/marking"
	"github.com/kathir-ks/rusty-v8-sub045/internal/platform"
	"github.com/kathir-ks/rusty-v8-sub045/internal/stats"
)

var (
	flagObjects    = flag.Int("objects", 1_000_000, "number of objects in the heap")
	flagFanout     = flag.Int("fanout", 4, "maximum number of pointer slots per object")
	flagEphemerons = flag.Float64("ephemerons", 0.05, "fraction of objects holding an ephemeron")
	flagRoots      = flag.Int("roots", 100, "number of roots")
	flagMutators   = flag.Int("mutators", 2, "number of mutator goroutines storing pointers during marking")
	flagStores     = flag.Int("stores", 100_000, "pointer stores per mutator")
	flagWorkers    = flag.Int("workers", 0, "background marking workers (0 means GOMAXPROCS-1)")
	flagStep       = flag.Duration("step", time.Millisecond, "length of each mutator marking step")
	flagCycles     = flag.Int("cycles", 1, "number of marking cycles")
	flagSeed       = flag.Uint64("seed", 1, "random seed")
	flagCPUProfile = flag.String("cpuprofile", "", "write a CPU profile to `file`")
	flagVerbose    = flag.Bool("v", false, "log marking events")
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("markbench: ")
	flag.Parse()
	if flag.NArg() != 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run does the work of main. It returns errors instead of exiting so
// that the CPU profile is always flushed.
func run() error {
	level := slog.LevelInfo
	if *flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := marking.DefaultConfig()
	if err := cfg.ParseDebug(os.Getenv("MARKDEBUG")); err != nil {
		return err
	}

	if *flagCPUProfile != "" {
		f, err := os.Create(*flagCPUProfile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	rnd := rand.New(rand.NewPCG(*flagSeed, *flagSeed^0x9e3779b97f4a7c15))
	h, objs := buildHeap(rnd)

	col := stats.NewCollector()
	p := platform.NewDefault(platform.Options{Workers: *flagWorkers, Logger: logger})
	m := marking.NewMarker(h, marking.Options{
		Config:   cfg,
		Platform: p,
		Stats:    col,
		Logger:   logger,
	})

	pr := message.NewPrinter(language.English)
	pr.Printf("heap: %d objects, %v, segments of %d marking items\n",
		len(objs), h.Allocated(), m.Worklists().Marking.Allocator().MinCapacity())
	for cycle := range *flagCycles {
		res, err := runCycle(m, h, objs, *flagSeed+uint64(cycle))
		if err != nil {
			return fmt.Errorf("cycle %d: %w", cycle, err)
		}
		if missing := verify(h); missing > 0 {
			return fmt.Errorf("cycle %d: %d reachable objects unmarked", cycle, missing)
		}
		marked := h.MarkedBytes()
		pr.Printf("cycle %d: %v marked (%v by workers) in %v, %.1f MiB/s, %d steps, %d stores, escalated %v, last worker update %v before the pause\n",
			cycle, marked, m.Concurrent().MarkedBytes(), res.elapsed.Round(time.Microsecond),
			marked.Float(heap.MiB)/res.elapsed.Seconds(), res.steps, res.stores,
			m.Concurrent().Escalated(), res.sinceWorkerUpdate.Round(time.Microsecond))
	}
	m.Release()

	for _, s := range col.Summaries() {
		pr.Printf("%-40s %8d %12v %12v\n", s.Scope, s.Count, s.Total.Round(time.Microsecond), s.Max.Round(time.Microsecond))
	}
	if *flagVerbose {
		col.Report(logger)
	}
	return nil
}

// buildHeap allocates the benchmark heap. Objects only point to
// objects allocated before them, so the graph has a long tail of
// objects reachable from few roots.
func buildHeap(rnd *rand.Rand) (*heap.Heap, []*heap.Object) {
	h := heap.New()
	objs := make([]*heap.Object, *flagObjects)
	for i := range objs {
		o := h.Allocate(heap.Bytes(16+8*rnd.IntN(16)), rnd.IntN(*flagFanout+1))
		if i > 0 {
			for s := range o.NumSlots() {
				o.SetSlot(s, objs[rnd.IntN(i)])
			}
			if rnd.Float64() < *flagEphemerons {
				o.AddEphemeron(objs[rnd.IntN(i)], objs[rnd.IntN(i)])
			}
		}
		o.FinishConstruction()
		objs[i] = o
	}
	for range *flagRoots {
		h.AddRoot(objs[len(objs)-1-rnd.IntN(len(objs)/10+1)])
	}
	return h, objs
}

type result struct {
	elapsed time.Duration
	steps   int
	stores  int64

	// sinceWorkerUpdate is how long background workers had been
	// silent when the final pause began.
	sinceWorkerUpdate time.Duration
}

// runCycle marks h once. The calling goroutine runs incremental steps
// while the mutators store pointers, then finishes marking.
func runCycle(m *marking.Marker, h *heap.Heap, objs []*heap.Object, seed uint64) (result, error) {
	var res result
	start := time.Now()
	m.StartMarking()

	var (
		g      errgroup.Group
		done   atomic.Bool
		stores atomic.Int64
	)
	mus := make([]*marking.Mutator, *flagMutators)
	for i := range mus {
		mu := m.NewMutator()
		mus[i] = mu
		rnd := rand.New(rand.NewPCG(seed, uint64(i)))
		g.Go(func() error {
			return mutate(mu, h, objs, rnd, &stores)
		})
	}
	go func() {
		g.Wait()
		done.Store(true)
	}()

	for !done.Load() {
		if _, err := m.AdvanceMarking(*flagStep, 0); err != nil {
			g.Wait()
			m.FinishMarking()
			return res, err
		}
		res.steps++
	}
	if err := g.Wait(); err != nil {
		m.FinishMarking()
		return res, err
	}
	for {
		ok, err := m.AdvanceMarking(*flagStep, 0)
		if err != nil {
			m.FinishMarking()
			return res, err
		}
		res.steps++
		if ok {
			break
		}
	}
	res.sinceWorkerUpdate = m.Schedule().TimeSinceLastConcurrentMarkingUpdate()
	if err := m.FinishMarking(); err != nil {
		return res, err
	}
	for _, mu := range mus {
		mu.Release()
	}
	res.elapsed = time.Since(start)
	res.stores = stores.Load()
	return res, nil
}

// mutate stores random pointers into random objects through mu,
// sometimes storing a freshly allocated object.
func mutate(mu *marking.Mutator, h *heap.Heap, objs []*heap.Object, rnd *rand.Rand, stores *atomic.Int64) error {
	for i := range *flagStores {
		dst := objs[rnd.IntN(len(objs))]
		if dst.NumSlots() == 0 {
			continue
		}
		value := objs[rnd.IntN(len(objs))]
		if rnd.IntN(8) == 0 {
			fresh := h.Allocate(32, 1)
			fresh.SetSlot(0, value)
			fresh.FinishConstruction()
			value = fresh
		}
		mu.WriteBarrier(dst, rnd.IntN(dst.NumSlots()), value)
		stores.Add(1)
		if i%1024 == 0 {
			if err := mu.Flush(); err != nil {
				return err
			}
		}
	}
	return mu.Flush()
}

// verify returns the number of reachable objects that are not marked.
func verify(h *heap.Heap) int {
	missing := 0
	for o := range h.Reachable() {
		if !o.IsMarked() {
			missing++
		}
	}
	return missing
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: markbench [flags]\n")
		flag.PrintDefaults()
	}
}
