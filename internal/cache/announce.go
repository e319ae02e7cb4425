package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/moqlite/moqlite/internal/path"
	"github.com/moqlite/moqlite/internal/watch"
)

// Announcement describes a broadcast path becoming active or inactive
// under some announced prefix.
type Announcement struct {
	Path   path.Path
	Active bool
}

// announcedState is the shared state behind an Announced stream. The
// active set is the source of truth; each consumer gets its own ordered
// queue of deltas plus a one-time replay of the active set it has not
// yet seen, so a consumer that subscribes after some paths are already
// active still learns about them.
type announcedState struct {
	mu     sync.Mutex
	active map[path.Path]bool // path -> active
	queues map[*announcedQueue]struct{}

	closed       bool
	closedFuture *watch.Future
}

// announcedQueue is one consumer's pending delta queue.
type announcedQueue struct {
	mu      sync.Mutex
	pending *list.List // of Announcement
	wake    *watch.Slot[int]
}

func newAnnouncedQueue() *announcedQueue {
	return &announcedQueue{pending: list.New(), wake: watch.New(0)}
}

func (q *announcedQueue) push(a Announcement) {
	q.mu.Lock()
	q.pending.PushBack(a)
	n := q.pending.Len()
	q.mu.Unlock()
	q.wake.Set(n)
}

func (q *announcedQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len() == 0
}

func (q *announcedQueue) pop() (Announcement, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.pending.Front()
	if e == nil {
		return Announcement{}, false
	}
	q.pending.Remove(e)
	return e.Value.(Announcement), true
}

// NewAnnounced creates an Announced stream, returning its producer and
// one consumer handle.
func NewAnnounced() (*AnnouncedProducer, *AnnouncedConsumer) {
	st := &announcedState{
		active:       make(map[path.Path]bool),
		queues:       make(map[*announcedQueue]struct{}),
		closedFuture: watch.NewFuture(),
	}
	q := newAnnouncedQueue()
	st.queues[q] = struct{}{}
	return &AnnouncedProducer{state: st}, &AnnouncedConsumer{state: st, queue: q}
}

// AnnouncedProducer is the write handle to an Announced stream.
type AnnouncedProducer struct {
	state *announcedState
}

// Announce records a path becoming active or inactive and fans the
// delta out to every live consumer. Returns ErrDuplicateActive if p is
// already active and active is true, or ErrUnknownInactive if p is not
// currently active and active is false.
func (p *AnnouncedProducer) Announce(a Announcement) error {
	st := p.state
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return ErrClosed
	}
	wasActive := st.active[a.Path]
	if a.Active && wasActive {
		st.mu.Unlock()
		return ErrDuplicateActive
	}
	if !a.Active && !wasActive {
		st.mu.Unlock()
		return ErrUnknownInactive
	}
	if a.Active {
		st.active[a.Path] = true
	} else {
		delete(st.active, a.Path)
	}
	queues := make([]*announcedQueue, 0, len(st.queues))
	for q := range st.queues {
		queues = append(queues, q)
	}
	st.mu.Unlock()

	for _, q := range queues {
		q.push(a)
	}
	return nil
}

// Closed returns a channel that closes when the stream closes.
func (p *AnnouncedProducer) Closed() <-chan struct{} { return p.state.closedFuture.Done() }

// Close ends the stream. Consumers observe io.EOF-equivalent termination
// via their Next call returning with ok=false once their queue drains.
func (p *AnnouncedProducer) Close() {
	st := p.state
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	queues := make([]*announcedQueue, 0, len(st.queues))
	for q := range st.queues {
		queues = append(queues, q)
	}
	st.mu.Unlock()

	for _, q := range queues {
		q.wake.Close()
	}
	st.closedFuture.Fire()
}

// AnnouncedConsumer is a read handle into an Announced stream, filtered
// to paths under a prefix.
type AnnouncedConsumer struct {
	state  *announcedState
	queue  *announcedQueue
	prefix path.Path
}

// Next blocks until the next announcement under this consumer's prefix
// (or any path, if no prefix was set via Clone's filtering) is available.
// It returns ok=false once the stream has closed and the queue is empty.
func (c *AnnouncedConsumer) Next(ctx context.Context) (Announcement, bool, error) {
	for {
		if a, ok := c.queue.pop(); ok {
			if c.prefix.IsEmpty() || path.HasPrefix(c.prefix, a.Path) {
				return a, true, nil
			}
			continue
		}

		c.state.mu.Lock()
		closed := c.state.closed
		c.state.mu.Unlock()

		_, _, changed := c.queue.wake.Watch()
		// Re-check under the freshly observed channel to avoid a missed
		// wakeup between the pop above and the select.
		if !c.queue.empty() {
			continue
		}
		if closed {
			return Announcement{}, false, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return Announcement{}, false, ctx.Err()
		}
	}
}

// Clone creates an independent consumer handle scoped to prefix, replaying
// the current active set filtered to that prefix before any new deltas.
// An empty prefix matches every path.
func (c *AnnouncedConsumer) Clone(prefix path.Path) *AnnouncedConsumer {
	st := c.state
	q := newAnnouncedQueue()

	st.mu.Lock()
	for p, active := range st.active {
		if active && (prefix.IsEmpty() || path.HasPrefix(prefix, p)) {
			q.pending.PushBack(Announcement{Path: p, Active: true})
		}
	}
	if !st.closed {
		st.queues[q] = struct{}{}
	} else {
		q.wake.Close()
	}
	st.mu.Unlock()

	return &AnnouncedConsumer{state: st, queue: q, prefix: prefix}
}

// Close releases this handle, deregistering its queue from future fanout.
func (c *AnnouncedConsumer) Close() {
	st := c.state
	st.mu.Lock()
	delete(st.queues, c.queue)
	st.mu.Unlock()
}
