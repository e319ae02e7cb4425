package lite

import (
	"context"
	"fmt"

	"github.com/moqlite/moqlite/internal/cache"
	"github.com/moqlite/moqlite/internal/path"
	"github.com/moqlite/moqlite/internal/transport"
	"github.com/moqlite/moqlite/internal/wire"
)

// handleSubscribe is the publisher side of the subscribe flow: look up
// the requested broadcast and track, confirm or reject, then pump groups
// out as unidirectional streams until the subscriber or the track goes
// away.
func (s *Session) handleSubscribe(ctx context.Context, stream transport.Stream, r *wire.Reader) {
	var sub Subscribe
	if err := r.Message(func(m *wire.Reader) error {
		v, err := decodeSubscribe(m)
		sub = v
		return err
	}); err != nil {
		stream.CancelRead(uint64(transport.ErrProtocol))
		return
	}

	w := wire.NewWriter(stream)

	s.mu.Lock()
	bcast, ok := s.published[path.From(sub.Broadcast)]
	s.mu.Unlock()
	if !ok {
		_ = writeSubscribeReply(w, nil, &SubscribeError{Code: uint64(transport.ErrNotFound), Reason: "broadcast not found"})
		stream.CancelWrite(uint64(transport.ErrNotFound))
		return
	}

	track, err := bcast.Subscribe(ctx, sub.Track, sub.Priority)
	if err != nil {
		_ = writeSubscribeReply(w, nil, &SubscribeError{Code: uint64(transport.ErrNotFound), Reason: err.Error()})
		stream.CancelWrite(uint64(transport.ErrNotFound))
		return
	}
	defer track.Close()

	ok2 := SubscribeOk{Priority: sub.Priority}
	if err := writeSubscribeReply(w, &ok2, nil); err != nil {
		return
	}

	go s.readSubscribeUpdates(r)

	for {
		group, err := track.NextGroup(ctx)
		if err != nil {
			return
		}
		go s.pumpGroup(ctx, sub.ID, group)
	}
}

// readSubscribeUpdates drains SubscribeUpdate messages on the shared
// bidi stream and ignores them, per the source's observed behavior
// (logged in DESIGN.md as a resolved Open Question).
func (s *Session) readSubscribeUpdates(r *wire.Reader) {
	for {
		var upd SubscribeUpdate
		err := r.Message(func(m *wire.Reader) error {
			v, err := decodeSubscribeUpdate(m)
			upd = v
			return err
		})
		if err != nil {
			return
		}
		s.log.Debug("lite: ignoring subscribe update", "priority", upd.Priority)
	}
}

// pumpGroup opens a fresh unidirectional stream for one group and writes
// its frames as they become available, independent of any other group's
// stream — the sender never waits for a previous group to finish.
func (s *Session) pumpGroup(ctx context.Context, subID uint64, group *cache.GroupConsumer) {
	us, err := s.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return
	}
	defer us.Close()

	w := wire.NewWriter(us)
	if err := w.U8(StreamGroup); err != nil {
		return
	}
	// The header follows the type byte directly, unframed; only bidi
	// control messages carry a length prefix.
	var hdrBuf wire.MessageWriter
	groupHeader{SubscribeID: subID, Sequence: group.Sequence()}.encode(&hdrBuf)
	if err := w.Write(hdrBuf.Bytes()); err != nil {
		return
	}

	for {
		f, err := group.ReadFrame(ctx)
		if err != nil {
			return
		}
		if err := w.U53(uint64(len(f))); err != nil {
			return
		}
		if err := w.Write(f); err != nil {
			return
		}
	}
}

// subscribeRemote is the subscriber side of the subscribe flow, invoked
// from the Broadcast's unknown-track callback. It synchronously opens a
// dedicated subscribe stream and waits for the peer's reply, so the
// unknown-track callback (and thus the blocked Subscribe call) returns
// as soon as the subscription is confirmed or rejected; a background
// goroutine then owns the stream for the rest of the subscription's
// lifetime, closing track once the peer or the caller is done with it.
func (s *Session) subscribeRemote(ctx context.Context, broadcast path.Path, trackName string, priority uint8, track *cache.TrackProducer) error {
	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("lite: open subscribe stream: %w", err)
	}

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.pendingSub[id] = track
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		delete(s.pendingSub, id)
		s.mu.Unlock()
	}

	w := wire.NewWriter(stream)
	r := wire.NewReader(stream)

	if err := w.U8(StreamSubscribe); err != nil {
		cleanup()
		return err
	}
	sub := Subscribe{ID: id, Broadcast: broadcast.String(), Track: trackName, Priority: priority}
	if err := w.Message(func(m *wire.MessageWriter) { sub.encode(m) }); err != nil {
		cleanup()
		return err
	}

	_, subErr, err := readSubscribeReply(r)
	if err != nil {
		cleanup()
		return fmt.Errorf("lite: subscribe response: %w", err)
	}
	if subErr != nil {
		cleanup()
		return fmt.Errorf("lite: subscribe rejected: %s", subErr.Reason)
	}

	go func() {
		defer cleanup()
		defer track.Close()

		streamClosed := make(chan struct{})
		go func() {
			defer close(streamClosed)
			buf := make([]byte, 1)
			for {
				if _, err := stream.Read(buf); err != nil {
					return
				}
			}
		}()

		select {
		case <-streamClosed:
		case <-track.Unused():
		case <-ctx.Done():
		}
	}()
	return nil
}

// writeSubscribeReply writes exactly one of ok or subErr, tagged with a
// leading byte so the reader can tell which arrived without guessing.
func writeSubscribeReply(w *wire.Writer, ok *SubscribeOk, subErr *SubscribeError) error {
	if subErr != nil {
		if err := w.U8(1); err != nil {
			return err
		}
		return w.Message(func(m *wire.MessageWriter) { subErr.encode(m) })
	}
	if err := w.U8(0); err != nil {
		return err
	}
	return w.Message(func(m *wire.MessageWriter) { ok.encode(m) })
}

// readSubscribeReply reads the tagged SubscribeOk/SubscribeError reply
// written by writeSubscribeReply.
func readSubscribeReply(r *wire.Reader) (*SubscribeOk, *SubscribeError, error) {
	tag, err := r.U8()
	if err != nil {
		return nil, nil, err
	}
	if tag == 1 {
		var se SubscribeError
		if err := r.Message(func(m *wire.Reader) error {
			v, err := decodeSubscribeError(m)
			se = v
			return err
		}); err != nil {
			return nil, nil, err
		}
		return nil, &se, nil
	}
	var ok SubscribeOk
	if err := r.Message(func(m *wire.Reader) error {
		v, err := decodeSubscribeOk(m)
		ok = v
		return err
	}); err != nil {
		return nil, nil, err
	}
	return &ok, nil, nil
}
