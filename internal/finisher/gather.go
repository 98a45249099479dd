package finisher

import (
	"sync"
)

// Gather collects the completions of a set of sub-operations and invokes a
// single finisher callback once every sub-operation has reported in.
//
// Usage mirrors a builder: create the gather, hand out sub-completions with
// NewSub while dispatching work, install the finisher with OnFinish, then
// Activate. The finisher fires exactly once, after Activate has been called
// and every sub-completion has been invoked. The first non-nil error wins.
//
// Sub-completions may fire from any goroutine. If the gather was created
// with an executor, the finisher is delivered on it; otherwise it runs on
// whichever goroutine completes last.
type Gather struct {
	mu        sync.Mutex
	exec      *Finisher
	pending   int
	total     int
	activated bool
	fired     bool
	firstErr  error
	onFinish  func(error)
}

// NewGather creates a gather whose finisher is delivered on exec.
// exec may be nil, in which case the finisher runs inline.
func NewGather(exec *Finisher) *Gather {
	return &Gather{exec: exec}
}

// NewSub registers a new sub-operation and returns its completion callback.
// The callback must be invoked exactly once. NewSub must not be called
// after Activate.
func (g *Gather) NewSub() func(error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activated {
		panic("finisher: NewSub after Activate")
	}
	g.pending++
	g.total++

	done := false
	return func(err error) {
		g.mu.Lock()
		if done {
			g.mu.Unlock()
			panic("finisher: sub completed twice")
		}
		done = true
		if err != nil && g.firstErr == nil {
			g.firstErr = err
		}
		g.pending--
		g.maybeFireLocked()
	}
}

// HasSubs reports whether any sub-operations have been registered.
func (g *Gather) HasSubs() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total > 0
}

// OnFinish installs the finisher callback. Must be called before Activate.
func (g *Gather) OnFinish(fn func(error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onFinish = fn
}

// Activate arms the gather. If all sub-operations have already completed,
// the finisher fires immediately.
func (g *Gather) Activate() {
	g.mu.Lock()
	if g.total == 0 {
		g.mu.Unlock()
		panic("finisher: Activate with no subs")
	}
	g.activated = true
	g.maybeFireLocked()
}

// maybeFireLocked fires the finisher if the gather is armed and drained.
// Releases g.mu in all paths.
func (g *Gather) maybeFireLocked() {
	if !g.activated || g.pending > 0 || g.fired {
		g.mu.Unlock()
		return
	}
	g.fired = true
	fn := g.onFinish
	err := g.firstErr
	exec := g.exec
	g.mu.Unlock()

	if fn == nil {
		return
	}
	if exec != nil {
		exec.Queue(func() { fn(err) })
		return
	}
	fn(err)
}
