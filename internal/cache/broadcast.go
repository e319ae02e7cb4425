package cache

import (
	"context"
	"sync"

	"github.com/moqlite/moqlite/internal/watch"
)

// UnknownTrackFunc is invoked when a subscriber asks for a track the
// broadcast producer has not registered yet. The callback is handed a
// fresh TrackProducer it must populate (by calling AppendGroup/WriteFrame
// as data becomes available, and Close when the track ends); the
// broadcast retains the corresponding consumer so future subscribes to
// the same name are served without invoking the callback again.
type UnknownTrackFunc func(ctx context.Context, trackName string, priority uint8, track *TrackProducer)

// broadcastState is the shared state behind a Broadcast's producer and
// consumer handles.
type broadcastState struct {
	mu      sync.Mutex
	tracks  map[string]*TrackConsumer // canonical retained handle per track
	unknown UnknownTrackFunc

	closed       bool
	closedFuture *watch.Future

	consumerCount int
	unusedFuture  *watch.Future
}

// NewBroadcast creates a Broadcast, returning its producer and one
// consumer handle.
func NewBroadcast() (*BroadcastProducer, *BroadcastConsumer) {
	st := &broadcastState{
		tracks:        make(map[string]*TrackConsumer),
		closedFuture:  watch.NewFuture(),
		unusedFuture:  watch.NewFuture(),
		consumerCount: 1,
	}
	return &BroadcastProducer{state: st}, &BroadcastConsumer{state: st}
}

// BroadcastProducer is the write handle to a Broadcast.
type BroadcastProducer struct {
	state *broadcastState
}

// OnUnknownTrack registers the callback invoked the first time a
// subscriber asks for a track name this producer has not seen yet.
func (p *BroadcastProducer) OnUnknownTrack(fn UnknownTrackFunc) {
	p.state.mu.Lock()
	p.state.unknown = fn
	p.state.mu.Unlock()
}

// InsertTrack registers track under name so subscribes are served
// directly without going through the unknown-track callback.
func (p *BroadcastProducer) InsertTrack(name string, track *TrackConsumer) {
	p.state.mu.Lock()
	p.state.tracks[name] = track
	p.state.mu.Unlock()
}

// RemoveTrack forgets a previously registered or lazily created track.
// Subsequent subscribes to name invoke the unknown-track callback again.
func (p *BroadcastProducer) RemoveTrack(name string) {
	p.state.mu.Lock()
	delete(p.state.tracks, name)
	p.state.mu.Unlock()
}

// Closed returns a channel that closes when the broadcast closes.
func (p *BroadcastProducer) Closed() <-chan struct{} { return p.state.closedFuture.Done() }

// Unused returns a channel that closes once no consumer clone is live.
func (p *BroadcastProducer) Unused() <-chan struct{} { return p.state.unusedFuture.Done() }

// Close marks the broadcast closed and fires Closed. It does not close
// the registered tracks, and Subscribe keeps serving them afterwards.
func (p *BroadcastProducer) Close() {
	st := p.state
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	tracks := make([]*TrackConsumer, 0, len(st.tracks))
	for _, t := range st.tracks {
		tracks = append(tracks, t)
	}
	st.mu.Unlock()

	st.closedFuture.Fire()
	_ = tracks // tracks close themselves via their own producers; retained
	// here only so future RemoveTrack/subscribe calls see a consistent map.
}

// BroadcastConsumer is a read handle into a Broadcast.
type BroadcastConsumer struct {
	state *broadcastState
}

// Subscribe returns a track consumer for trackName at the given priority,
// dispatching to the registered producer track if one exists, or to the
// unknown-track callback otherwise. Returns ErrUnknownTrack if the track
// is unregistered and no callback is set.
func (c *BroadcastConsumer) Subscribe(ctx context.Context, trackName string, priority uint8) (*TrackConsumer, error) {
	st := c.state

	st.mu.Lock()
	if existing, ok := st.tracks[trackName]; ok {
		st.mu.Unlock()
		return existing.Clone(), nil
	}
	unknown := st.unknown
	st.mu.Unlock()

	if unknown == nil {
		return nil, ErrUnknownTrack
	}

	track, canonical := NewTrack(trackName, priority)
	unknown(ctx, trackName, priority, track)

	st.mu.Lock()
	st.tracks[trackName] = canonical
	st.mu.Unlock()

	return canonical.Clone(), nil
}

// Closed returns a channel that closes when the broadcast closes.
func (c *BroadcastConsumer) Closed() <-chan struct{} { return c.state.closedFuture.Done() }

// Clone creates an independent consumer handle, incrementing the
// broadcast's live-consumer count.
func (c *BroadcastConsumer) Clone() *BroadcastConsumer {
	c.state.mu.Lock()
	c.state.consumerCount++
	c.state.mu.Unlock()
	return &BroadcastConsumer{state: c.state}
}

// Close releases this handle. Once every handle on a broadcast has
// closed, the producer's Unused channel closes.
func (c *BroadcastConsumer) Close() {
	st := c.state
	st.mu.Lock()
	st.consumerCount--
	n := st.consumerCount
	st.mu.Unlock()
	if n == 0 {
		st.unusedFuture.Fire()
	}
}
