package cache

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/moqlite/moqlite/internal/watch"
)

// trackState is the shared state behind a Track's producer and consumer
// handles. The producer exclusively owns the producer side of the latest
// group: appending a new group closes the previous one immediately, per
// the spec's "retain at most the latest group" invariant. Consumers that
// were already reading an older group keep their own GroupConsumer clone
// and are unaffected — the old group's storage lives on until its last
// reader drains it.
type trackState struct {
	mu sync.Mutex

	name     string
	priority uint8

	nextSeq        uint64
	latestProducer *GroupProducer
	latest         *GroupConsumer // canonical unread handle on the current group; cloned out to readers
	latestVersion  *watch.Slot[uint64]

	closed       bool
	abortErr     error
	closedFuture *watch.Future

	consumerCount int
	unusedFuture  *watch.Future
}

// NewTrack creates a Track with the given name and priority (0..255,
// higher is more urgent), returning its producer and one consumer handle.
func NewTrack(name string, priority uint8) (*TrackProducer, *TrackConsumer) {
	st := &trackState{
		name:          name,
		priority:      priority,
		latestVersion: watch.New(uint64(0)),
		closedFuture:  watch.NewFuture(),
		unusedFuture:  watch.NewFuture(),
		consumerCount: 1,
	}
	return &TrackProducer{state: st}, &TrackConsumer{state: st, lastGroupSeq: -1}
}

// TrackProducer is the write handle to a Track.
type TrackProducer struct {
	state *trackState
}

// Name returns the track's name.
func (p *TrackProducer) Name() string { return p.state.name }

// Priority returns the track's priority.
func (p *TrackProducer) Priority() uint8 { return p.state.priority }

// AppendGroup starts a new, strictly-increasing-sequence group, closing
// the previous latest group (if any). Readers mid-way through the
// previous group continue independently via their own clone.
func (p *TrackProducer) AppendGroup() *GroupProducer {
	st := p.state
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	seq := st.nextSeq
	st.nextSeq++
	newProd, newCons := NewGroup(seq)
	prevProd := st.latestProducer
	st.latestProducer = newProd
	st.latest = newCons
	st.mu.Unlock()

	if prevProd != nil {
		prevProd.Close()
	}
	st.latestVersion.Set(seq)
	return newProd
}

// InsertGroup installs an externally constructed group pair as the
// track's latest, provided its sequence is not older than the next
// expected one. A late-arriving group (sequence < next) is silently
// closed instead — the "drop silently" late-arrival policy the spec
// leaves as an open question, resolved here in favor of the source's
// behavior (see DESIGN.md).
func (p *TrackProducer) InsertGroup(prod *GroupProducer, cons *GroupConsumer) {
	st := p.state
	st.mu.Lock()
	if st.closed || prod.Sequence() < st.nextSeq {
		st.mu.Unlock()
		prod.Close()
		return
	}
	seq := prod.Sequence()
	st.nextSeq = seq + 1
	prevProd := st.latestProducer
	st.latestProducer = prod
	st.latest = cons
	st.mu.Unlock()

	if prevProd != nil {
		prevProd.Close()
	}
	st.latestVersion.Set(seq)
}

// WriteFrame appends a frame to the current latest group. It fails with
// ErrNoGroup if AppendGroup has not been called yet.
func (p *TrackProducer) WriteFrame(b []byte) error {
	st := p.state
	st.mu.Lock()
	prod := st.latestProducer
	closed := st.closed
	st.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if prod == nil {
		return ErrNoGroup
	}
	return prod.WriteFrame(b)
}

// WriteString is a convenience wrapper writing the UTF-8 bytes of s as a frame.
func (p *TrackProducer) WriteString(s string) error { return p.WriteFrame([]byte(s)) }

// WriteJSON is a convenience wrapper writing the JSON encoding of v as a frame.
func (p *TrackProducer) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.WriteFrame(b)
}

// WriteBool is a convenience wrapper writing a single byte (0 or 1) as a frame.
func (p *TrackProducer) WriteBool(v bool) error {
	if v {
		return p.WriteFrame([]byte{1})
	}
	return p.WriteFrame([]byte{0})
}

// Closed returns a channel that closes when the track closes.
func (p *TrackProducer) Closed() <-chan struct{} { return p.state.closedFuture.Done() }

// Unused returns a channel that closes once no consumer handle is live.
func (p *TrackProducer) Unused() <-chan struct{} { return p.state.unusedFuture.Done() }

// Close ends the track cleanly: the current group is closed and further
// writes fail. Pending consumer reads resolve with io.EOF.
func (p *TrackProducer) Close() { p.close(nil) }

// CloseWithError aborts the track: pending and future consumer reads
// resolve with err instead of io.EOF.
func (p *TrackProducer) CloseWithError(err error) { p.close(err) }

func (p *TrackProducer) close(abortErr error) {
	st := p.state
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	st.abortErr = abortErr
	prod := st.latestProducer
	st.mu.Unlock()

	if prod != nil {
		if abortErr != nil {
			prod.CloseWithError(abortErr)
		} else {
			prod.Close()
		}
	}
	st.latestVersion.Close()
	st.closedFuture.Fire()
}

// TrackConsumer is a read handle into a Track, pipelining group discovery
// and frame reads so a late subscriber never blocks behind a stale group.
type TrackConsumer struct {
	state *trackState

	lastGroupSeq int64 // -1 until the first NextGroup call
	current      *GroupConsumer
}

// Name returns the track's name.
func (c *TrackConsumer) Name() string { return c.state.name }

// Priority returns the track's priority.
func (c *TrackConsumer) Priority() uint8 { return c.state.priority }

// NextGroup blocks until a group newer than the last one this handle
// observed is available, then returns a freshly cloned consumer for it.
// A handle that has never called NextGroup sees the current latest group
// immediately, not whatever existed when the track was created.
func (c *TrackConsumer) NextGroup(ctx context.Context) (*GroupConsumer, error) {
	st := c.state
	for {
		st.mu.Lock()
		latest := st.latest
		closed := st.closed
		abortErr := st.abortErr
		st.mu.Unlock()

		if latest != nil {
			seq := int64(latest.Sequence())
			if seq > c.lastGroupSeq {
				c.lastGroupSeq = seq
				clone := latest.Clone()
				c.current = clone
				return clone, nil
			}
		}
		if closed {
			if abortErr != nil {
				return nil, abortErr
			}
			return nil, io.EOF
		}

		_, _, changed := st.latestVersion.Watch()
		// Re-check after acquiring the wakeup channel in case the group
		// arrived between our first check and now.
		st.mu.Lock()
		latest = st.latest
		closed = st.closed
		abortErr = st.abortErr
		st.mu.Unlock()
		if latest != nil && int64(latest.Sequence()) > c.lastGroupSeq {
			continue
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

// NextFrame returns the next frame, preferring the current group: frames
// already buffered there are returned first, and once it has none left
// NextFrame switches to a strictly newer group as soon as one exists —
// the "latest group with in-order frames" policy: a late subscriber
// trades completeness of the old group for freshness of the new one.
// Applications that need every frame of every group should use NextGroup
// and drain each group to end instead.
func (c *TrackConsumer) NextFrame(ctx context.Context) (Frame, error) {
	st := c.state
	if c.current == nil {
		g, err := c.NextGroup(ctx)
		if err != nil {
			return nil, err
		}
		c.current = g
	}

	for {
		// A frame already buffered in the current group always wins,
		// even if a newer group has since appeared — we only switch
		// groups once the current one has nothing left to offer.
		if f, ok := c.current.state.frameAt(c.current.index); ok {
			c.current.index++
			return f, nil
		}

		if g := c.newerGroup(); g != nil {
			c.current = g
			continue
		}

		curClosed, curErr := c.current.state.status()
		_, _, curChanged := c.current.state.changed.Watch()
		_, _, verChanged := st.latestVersion.Watch()

		if curClosed {
			if g := c.newerGroup(); g != nil {
				c.current = g
				continue
			}
			if curErr != nil {
				return nil, curErr
			}
			st.mu.Lock()
			trackClosed := st.closed
			trackAbortErr := st.abortErr
			st.mu.Unlock()
			if trackClosed {
				if trackAbortErr != nil {
					return nil, trackAbortErr
				}
				return nil, io.EOF
			}
			select {
			case <-verChanged:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		select {
		case <-curChanged:
		case <-verChanged:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// newerGroup returns a fresh clone of the track's latest group if it is
// strictly newer than the one this handle is already reading, else nil.
func (c *TrackConsumer) newerGroup() *GroupConsumer {
	st := c.state
	st.mu.Lock()
	latest := st.latest
	st.mu.Unlock()
	if latest != nil && int64(latest.Sequence()) > c.lastGroupSeq {
		c.lastGroupSeq = int64(latest.Sequence())
		return latest.Clone()
	}
	return nil
}

// ReadFrame is an alias for NextFrame kept for symmetry with the
// producer-side WriteFrame naming used elsewhere in this package.
func (c *TrackConsumer) ReadFrame(ctx context.Context) (Frame, error) { return c.NextFrame(ctx) }

// ReadString reads the next frame and decodes it as UTF-8 text.
func (c *TrackConsumer) ReadString(ctx context.Context) (string, error) {
	f, err := c.NextFrame(ctx)
	if err != nil {
		return "", err
	}
	return string(f), nil
}

// ReadJSON reads the next frame and unmarshals it into v.
func (c *TrackConsumer) ReadJSON(ctx context.Context, v any) error {
	f, err := c.NextFrame(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(f, v)
}

// ErrInvalidBool is returned by ReadBool when a frame is not exactly one
// byte with value 0 or 1.
var ErrInvalidBool = errInvalidBool{}

type errInvalidBool struct{}

func (errInvalidBool) Error() string { return "cache: frame is not a valid bool" }

// ReadBool reads the next frame and decodes it as a single-byte boolean.
func (c *TrackConsumer) ReadBool(ctx context.Context) (bool, error) {
	f, err := c.NextFrame(ctx)
	if err != nil {
		return false, err
	}
	if len(f) != 1 || (f[0] != 0 && f[0] != 1) {
		return false, ErrInvalidBool
	}
	return f[0] == 1, nil
}

// Clone creates an independent consumer handle that sees only the
// current latest group and any that follow — not whatever group this
// handle has already advanced past.
func (c *TrackConsumer) Clone() *TrackConsumer {
	c.state.mu.Lock()
	c.state.consumerCount++
	c.state.mu.Unlock()
	return &TrackConsumer{state: c.state, lastGroupSeq: -1}
}

// Closed returns a channel that closes when the track closes.
func (c *TrackConsumer) Closed() <-chan struct{} { return c.state.closedFuture.Done() }

// Close releases this handle. Once every handle on a track has closed,
// the track producer's Unused channel closes.
func (c *TrackConsumer) Close() {
	st := c.state
	st.mu.Lock()
	st.consumerCount--
	n := st.consumerCount
	st.mu.Unlock()
	if n == 0 {
		st.unusedFuture.Fire()
	}
}
