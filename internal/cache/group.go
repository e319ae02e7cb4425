package cache

import (
	"context"
	"io"
	"sync"

	"github.com/moqlite/moqlite/internal/watch"
)

// Frame is an opaque byte slice, the atomic unit of payload. No
// intra-frame fragmentation happens at this layer.
type Frame []byte

// groupState is the shared, refcount-free state behind a Group's producer
// and consumer handles. Frames are immutable once written; each consumer
// handle tracks its own read cursor into the shared slice, so multiple
// consumers read at independent rates without blocking one another —
// the same "per-consumer cursor over shared storage" shape as the ring
// buffer's read/write positions in the teacher pack, but unbounded and
// append-only rather than circular.
type groupState struct {
	mu       sync.Mutex
	sequence uint64
	frames   []Frame
	closed   bool
	abortErr error
	changed  *watch.Slot[int]
}

func newGroupState(sequence uint64) *groupState {
	return &groupState{sequence: sequence, changed: watch.New(0)}
}

func (g *groupState) writeFrame(b []byte) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	cp := make(Frame, len(b))
	copy(cp, b)
	g.frames = append(g.frames, cp)
	n := len(g.frames)
	g.mu.Unlock()
	g.changed.Set(n)
	return nil
}

func (g *groupState) close(abortErr error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.abortErr = abortErr
	g.mu.Unlock()
	g.changed.Close()
}

// frameAt returns the frame at index i if it has been written yet.
func (g *groupState) frameAt(i int) (Frame, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i < len(g.frames) {
		return g.frames[i], true
	}
	return nil, false
}

func (g *groupState) status() (closed bool, abortErr error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed, g.abortErr
}

// GroupProducer is the write handle to a single Group.
type GroupProducer struct {
	state *groupState
}

// GroupConsumer is a read handle into a Group, with its own cursor.
type GroupConsumer struct {
	state *groupState
	index int
}

// NewGroup creates a fresh Group identified by sequence, returning its
// producer and an initial (unread) consumer handle. Most callers get
// their GroupProducer from TrackProducer.AppendGroup instead; NewGroup is
// exported for TrackProducer.InsertGroup callers constructing a group out
// of band (e.g. a dialect engine replaying a group received over the
// wire).
func NewGroup(sequence uint64) (*GroupProducer, *GroupConsumer) {
	st := newGroupState(sequence)
	return &GroupProducer{state: st}, &GroupConsumer{state: st}
}

// Sequence returns the group's sequence number.
func (p *GroupProducer) Sequence() uint64 { return p.state.sequence }

// WriteFrame appends an immutable copy of b as the next frame.
func (p *GroupProducer) WriteFrame(b []byte) error { return p.state.writeFrame(b) }

// Close ends the group cleanly: readers finish draining buffered frames,
// then observe end-of-stream.
func (p *GroupProducer) Close() { p.state.close(nil) }

// CloseWithError aborts the group: readers observe err once they catch up
// to the last written frame.
func (p *GroupProducer) CloseWithError(err error) { p.state.close(err) }

// Sequence returns the group's sequence number.
func (c *GroupConsumer) Sequence() uint64 { return c.state.sequence }

// ReadFrame returns the next unread frame, blocking until one is
// available. It returns io.EOF once the producer has closed cleanly and
// all buffered frames have been drained, or the close error if the
// producer aborted.
func (c *GroupConsumer) ReadFrame(ctx context.Context) (Frame, error) {
	for {
		if f, ok := c.state.frameAt(c.index); ok {
			c.index++
			return f, nil
		}
		closed, abortErr := c.state.status()
		_, _, changed := c.state.changed.Watch()
		// Re-check under the freshly observed channel to avoid a missed
		// wakeup between the frameAt/status reads above and the select.
		if f, ok := c.state.frameAt(c.index); ok {
			c.index++
			return f, nil
		}
		if closed {
			if abortErr != nil {
				return nil, abortErr
			}
			return nil, io.EOF
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Clone creates an independent consumer handle starting at this handle's
// current read position; the two handles then advance independently.
func (c *GroupConsumer) Clone() *GroupConsumer {
	return &GroupConsumer{state: c.state, index: c.index}
}
