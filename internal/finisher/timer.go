package finisher

import (
	"sync"
	"time"
)

// Timer schedules callbacks that run while holding a caller-supplied mutex.
// Components that funnel all state changes through one lock use it to get
// timer events serialised with the rest of their entry points.
type Timer struct {
	lk *sync.Mutex

	mu      sync.Mutex
	events  map[uint64]*time.Timer
	nextID  uint64
	stopped bool
}

// NewTimer creates a timer coupled to lk. Callbacks run with lk held.
func NewTimer(lk *sync.Mutex) *Timer {
	return &Timer{lk: lk}
}

// Init prepares the timer for scheduling.
func (t *Timer) Init() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = make(map[uint64]*time.Timer)
	t.stopped = false
}

// Schedule runs fn after d, holding the coupled mutex. It returns an event
// id usable with Cancel. Events scheduled after Shutdown are dropped.
func (t *Timer) Schedule(d time.Duration, fn func()) uint64 {
	t.mu.Lock()
	if t.stopped || t.events == nil {
		t.mu.Unlock()
		return 0
	}
	t.nextID++
	id := t.nextID

	t.events[id] = time.AfterFunc(d, func() {
		t.lk.Lock()
		defer t.lk.Unlock()

		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return
		}
		if _, ok := t.events[id]; !ok {
			// Cancelled after the timer fired but before we ran.
			t.mu.Unlock()
			return
		}
		delete(t.events, id)
		t.mu.Unlock()

		fn()
	})
	t.mu.Unlock()
	return id
}

// Cancel revokes a pending event. It reports whether the event was still
// pending.
func (t *Timer) Cancel(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ev, ok := t.events[id]
	if !ok {
		return false
	}
	delete(t.events, id)
	ev.Stop()
	return true
}

// Shutdown cancels all pending events. Callbacks already racing for the
// coupled mutex observe the stop and return without running. Safe to call
// while holding the coupled mutex.
func (t *Timer) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for id, ev := range t.events {
		ev.Stop()
		delete(t.events, id)
	}
}
