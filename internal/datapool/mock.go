package datapool

import (
	"sync"
	"time"

	"github.com/coralfs/coralfs/internal/striper"
)

// MockOp records one operation issued against a MockClient.
type MockOp struct {
	// Kind is "purge_range" or "remove".
	Kind string

	// Ino is set for purge_range ops.
	Ino uint64

	// Name is set for remove ops.
	Name string

	Loc      Locator
	Snapc    SnapContext
	FirstObj uint64
	Count    uint64
}

// MockClient is a Client for testing. By default operations complete
// immediately with success; setting Manual defers completion until the
// test calls Complete.
type MockClient struct {
	mu      sync.Mutex
	ops     []MockOp
	pending []func(error)

	// Manual, when true, holds completions until Complete is called.
	Manual bool

	// Err, when non-nil, is the status passed to auto-completions.
	Err error
}

// NewMockClient creates a MockClient that auto-completes operations.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) PurgeRange(ino uint64, layout striper.Layout, snapc SnapContext,
	firstObj, count uint64, _ time.Time, _ uint32, onDone func(error)) {

	c.mu.Lock()
	c.ops = append(c.ops, MockOp{
		Kind:     "purge_range",
		Ino:      ino,
		Loc:      Locator{Pool: layout.PoolID, Namespace: layout.Namespace},
		Snapc:    snapc,
		FirstObj: firstObj,
		Count:    count,
	})
	c.finishLocked(onDone)
}

func (c *MockClient) Remove(name string, loc Locator, snapc SnapContext,
	_ time.Time, _ uint32, onDone func(error)) {

	c.mu.Lock()
	c.ops = append(c.ops, MockOp{
		Kind:  "remove",
		Name:  name,
		Loc:   loc,
		Snapc: snapc,
	})
	c.finishLocked(onDone)
}

// finishLocked either queues or fires the completion. Releases c.mu.
func (c *MockClient) finishLocked(onDone func(error)) {
	if c.Manual {
		c.pending = append(c.pending, onDone)
		c.mu.Unlock()
		return
	}
	err := c.Err
	c.mu.Unlock()
	onDone(err)
}

// Ops returns the operations issued so far, in issue order.
func (c *MockClient) Ops() []MockOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MockOp, len(c.ops))
	copy(out, c.ops)
	return out
}

// PendingCount returns the number of operations awaiting Complete.
func (c *MockClient) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Complete fires the oldest pending completion with the given status.
// It reports whether a completion was pending.
func (c *MockClient) Complete(err error) bool {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return false
	}
	onDone := c.pending[0]
	c.pending = c.pending[1:]
	c.mu.Unlock()

	onDone(err)
	return true
}

// CompleteIndex fires the i'th pending completion (in issue order) with
// the given status. It reports whether such a completion was pending.
func (c *MockClient) CompleteIndex(i int, err error) bool {
	c.mu.Lock()
	if i < 0 || i >= len(c.pending) {
		c.mu.Unlock()
		return false
	}
	onDone := c.pending[i]
	c.pending = append(c.pending[:i], c.pending[i+1:]...)
	c.mu.Unlock()

	onDone(err)
	return true
}

// CompleteAll fires every pending completion with the given status.
func (c *MockClient) CompleteAll(err error) int {
	n := 0
	for c.Complete(err) {
		n++
	}
	return n
}

var _ Client = (*MockClient)(nil)
