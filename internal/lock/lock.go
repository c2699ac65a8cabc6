// ABOUTME: Lock manager: Shared/Exclusive locks over database/collection/document keys
// ABOUTME: FIFO wait queue per key with a configurable timeout; grounded on a latch-manager shape

package lock

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nainya/tdb/internal/metrics"
	"github.com/nainya/tdb/internal/tdberr"
)

// Mode is the requested access level.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// Granularity names the level a lock key addresses.
type Granularity int

const (
	Database Granularity = iota
	CollectionLevel
	DocumentLevel
)

// Key identifies one lockable resource.
type Key struct {
	Granularity Granularity
	Collection  string
	DocID       string // only meaningful at DocumentLevel
}

func (k Key) String() string {
	switch k.Granularity {
	case Database:
		return "db"
	case CollectionLevel:
		return "coll:" + k.Collection
	default:
		return fmt.Sprintf("doc:%s/%s", k.Collection, k.DocID)
	}
}

type waiter struct {
	mode   Mode
	granted chan struct{}
}

type entry struct {
	mu       sync.Mutex
	sharedN  int
	exclusive bool
	queue    *list.List // of *waiter, FIFO
}

// Manager grants Shared/Exclusive locks per Key with FIFO fairness and a
// configurable acquire timeout.
type Manager struct {
	defaultTimeout time.Duration
	metrics        *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager constructs a lock manager whose Acquire calls time out after
// timeout unless the caller's context has a tighter deadline.
func NewManager(timeout time.Duration, m *metrics.Metrics) *Manager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Manager{defaultTimeout: timeout, metrics: m, entries: make(map[string]*entry)}
}

func (m *Manager) entryFor(k Key) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := k.String()
	e, ok := m.entries[s]
	if !ok {
		e = &entry{queue: list.New()}
		m.entries[s] = e
	}
	return e
}

// Acquire blocks until mode is granted on k, ctx is cancelled, or the
// manager's timeout elapses, whichever comes first.
func (m *Manager) Acquire(ctx context.Context, k Key, mode Mode) error {
	e := m.entryFor(k)
	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	e.mu.Lock()
	if e.tryGrant(mode) {
		e.mu.Unlock()
		if m.metrics != nil {
			m.metrics.LocksHeld.Inc()
		}
		return nil
	}

	w := &waiter{mode: mode, granted: make(chan struct{})}
	el := e.queue.PushBack(w)
	if m.metrics != nil {
		m.metrics.LockWaitsTotal.Inc()
	}
	e.mu.Unlock()

	select {
	case <-w.granted:
		if m.metrics != nil {
			m.metrics.LocksHeld.Inc()
		}
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		e.queue.Remove(el)
		e.mu.Unlock()
		if m.metrics != nil {
			m.metrics.LockTimeoutsTotal.Inc()
		}
		return tdberr.Newf(tdberr.LockTimeout, "timed out acquiring %v lock on %s", mode, k)
	}
}

// tryGrant must be called with e.mu held. It grants mode immediately if
// compatible with current holders and there is no queued waiter ahead
// (FIFO: a request only jumps the queue if the queue is empty).
func (e *entry) tryGrant(mode Mode) bool {
	if e.queue.Len() > 0 {
		return false
	}
	if mode == Shared {
		if e.exclusive {
			return false
		}
		e.sharedN++
		return true
	}
	if e.exclusive || e.sharedN > 0 {
		return false
	}
	e.exclusive = true
	return true
}

// Release gives up mode on k, waking the next compatible FIFO waiter(s).
func (m *Manager) Release(k Key, mode Mode) {
	e := m.entryFor(k)
	e.mu.Lock()
	defer e.mu.Unlock()

	if m.metrics != nil {
		m.metrics.LocksHeld.Dec()
	}
	if mode == Shared {
		if e.sharedN > 0 {
			e.sharedN--
		}
	} else {
		e.exclusive = false
	}

	for e.queue.Len() > 0 {
		front := e.queue.Front()
		w := front.Value.(*waiter)
		if w.mode == Shared {
			if e.exclusive {
				break
			}
			e.sharedN++
			e.queue.Remove(front)
			close(w.granted)
			continue // more shared waiters may also be grantable
		}
		if e.exclusive || e.sharedN > 0 {
			break
		}
		e.exclusive = true
		e.queue.Remove(front)
		close(w.granted)
		break
	}
}

// Stats reports active/pending counts for one key, for diagnostics.
type Stats struct {
	Shared    int
	Exclusive bool
	Pending   int
}

func (m *Manager) Stats(k Key) Stats {
	e := m.entryFor(k)
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{Shared: e.sharedN, Exclusive: e.exclusive, Pending: e.queue.Len()}
}

func (mode Mode) String() string {
	if mode == Shared {
		return "Shared"
	}
	return "Exclusive"
}
