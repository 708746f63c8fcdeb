package watch

import (
	"bytes"
	"os"
	"runtime"
	"strconv"
	"sync"
)

// Runtime abstracts the fork-join execution environment spec.md §5
// describes ("parallel threads with shared memory, orchestrated by a
// fork-join runtime"). The engine never hard-codes OpenMP/goroutine-pool
// specifics; everything it needs from the runtime goes through this
// interface.
type Runtime interface {
	// InParallel reports whether the calling goroutine is currently
	// inside a Parallel fan-out.
	InParallel() bool
	// ThreadID returns the calling goroutine's slot index in [0,
	// NumThreads()). Slot 0 is always the master.
	ThreadID() int
	// NumThreads returns the configured thread-slot count.
	NumThreads() int
	// Parallel runs fn once per thread slot, blocking until every
	// invocation returns (the fork-join barrier spec.md §5 requires
	// around Phase 2 of the thread merge, and around the serial-region
	// fan-out read of §4.4).
	Parallel(fn func(threadID int))
}

// GoroutineRuntime is the default Runtime: a fixed-size goroutine pool
// joined with a sync.WaitGroup.
//
// [EXPANSION, ambient — see DESIGN.md] sync.WaitGroup is used here
// because no fork-join/barrier library exists anywhere in the retrieved
// corpus; this is the one deliberately stdlib-only concurrency primitive
// in the engine.
type GoroutineRuntime struct {
	n int

	mu        sync.Mutex
	inside    bool
	threadIDs map[int64]int // goroutine ID -> assigned thread slot, set for the duration of one Parallel call
}

// NewGoroutineRuntime sizes the pool from n, or from OMP_NUM_THREADS
// (spec.md §6 env var table) when n <= 0, or from GOMAXPROCS as a last
// resort — mirroring the teacher's env-var-with-fallback idiom
// (proc.ClockTicks' CLK_TCK override pattern).
func NewGoroutineRuntime(n int) *GoroutineRuntime {
	if n <= 0 {
		if v := os.Getenv("OMP_NUM_THREADS"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
				n = parsed
			}
		}
	}
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	if n <= 0 {
		n = 1
	}
	return &GoroutineRuntime{n: n, threadIDs: make(map[int64]int)}
}

func (g *GoroutineRuntime) NumThreads() int { return g.n }

// ThreadID returns 0 outside of any Parallel call (the master/serial
// context). Inside a Parallel fan-out, it returns the slot the calling
// goroutine was assigned, looked up by that goroutine's runtime ID — Go
// has no goroutine-local storage, so this parses the ID the same way
// runtime.Stack itself prints it ("goroutine 123 [running]:"), the
// standard workaround in the absence of a TLS primitive (see DESIGN.md).
func (g *GoroutineRuntime) ThreadID() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.threadIDs[currentGoroutineID()]; ok {
		return id
	}
	return 0
}

func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}

func (g *GoroutineRuntime) InParallel() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inside
}

func (g *GoroutineRuntime) Parallel(fn func(threadID int)) {
	g.mu.Lock()
	g.inside = true
	g.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(g.n)
	for t := 0; t < g.n; t++ {
		go func(threadID int) {
			defer wg.Done()
			gid := currentGoroutineID()
			g.mu.Lock()
			g.threadIDs[gid] = threadID
			g.mu.Unlock()
			defer func() {
				g.mu.Lock()
				delete(g.threadIDs, gid)
				g.mu.Unlock()
			}()
			fn(threadID)
		}(t)
	}
	wg.Wait()

	g.mu.Lock()
	g.inside = false
	g.mu.Unlock()
}
