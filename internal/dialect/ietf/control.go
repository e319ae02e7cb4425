package ietf

import (
	"context"
	"fmt"

	"github.com/moqlite/moqlite/internal/cache"
	"github.com/moqlite/moqlite/internal/path"
	"github.com/moqlite/moqlite/internal/wire"
)

// controlLoop reads one control message at a time and dispatches by type.
// Every message must be fully decoded inside the wire.Reader.Message
// callback (the limited sub-reader rejects underconsumption), so
// dispatch happens type-by-type rather than through a generic envelope.
func (s *Session) controlLoop(ctx context.Context) error {
	for {
		typ, err := s.cr.U62()
		if err != nil {
			return err
		}
		if err := s.dispatchControl(ctx, typ); err != nil {
			return err
		}
	}
}

func (s *Session) dispatchControl(ctx context.Context, typ uint64) error {
	switch typ {
	case MsgSubscribe:
		var m Subscribe
		if err := s.cr.Message(func(r *wire.Reader) error {
			v, err := decodeSubscribe(r)
			m = v
			return err
		}); err != nil {
			return err
		}
		go s.handleSubscribe(ctx, m)

	case MsgSubscribeOK:
		var m SubscribeOK
		if err := s.cr.Message(func(r *wire.Reader) error {
			v, err := decodeSubscribeOK(r)
			m = v
			return err
		}); err != nil {
			return err
		}
		s.handleSubscribeOK(m)

	case MsgSubscribeError:
		var m SubscribeError
		if err := s.cr.Message(func(r *wire.Reader) error {
			v, err := decodeSubscribeError(r)
			m = v
			return err
		}); err != nil {
			return err
		}
		s.handleSubscribeError(m)

	case MsgUnsubscribe:
		var m Unsubscribe
		if err := s.cr.Message(func(r *wire.Reader) error {
			v, err := decodeUnsubscribe(r)
			m = v
			return err
		}); err != nil {
			return err
		}
		s.handleUnsubscribe(m)

	case MsgAnnounce:
		var m Announce
		if err := s.cr.Message(func(r *wire.Reader) error {
			v, err := decodeAnnounce(r)
			m = v
			return err
		}); err != nil {
			return err
		}
		s.handleAnnounce(m)

	case MsgUnannounce:
		var m Unannounce
		if err := s.cr.Message(func(r *wire.Reader) error {
			v, err := decodeUnannounce(r)
			m = v
			return err
		}); err != nil {
			return err
		}
		s.handleUnannounce(m)

	default:
		return fmt.Errorf("ietf: unsupported control message type %#x", typ)
	}
	return nil
}

// handleSubscribe is the publisher side: look up the requested namespace
// and track, confirm or reject, then pump groups as they arrive.
func (s *Session) handleSubscribe(ctx context.Context, m Subscribe) {
	bpath, ok := path.StripPrefix(s.root, namespaceToPath(m.Namespace))
	if !ok {
		_ = s.writeMessage(MsgSubscribeError, SubscribeError{ID: m.ID, Code: 0, Reason: "namespace outside root"}.encode)
		return
	}

	s.mu.Lock()
	bcast, ok := s.published[bpath]
	s.mu.Unlock()
	if !ok {
		_ = s.writeMessage(MsgSubscribeError, SubscribeError{ID: m.ID, Code: 0, Reason: "namespace not found"}.encode)
		return
	}

	track, err := bcast.Subscribe(ctx, m.TrackName, m.Priority)
	if err != nil {
		_ = s.writeMessage(MsgSubscribeError, SubscribeError{ID: m.ID, Code: 0, Reason: err.Error()}.encode)
		return
	}

	s.mu.Lock()
	alias := s.nextAlias
	s.nextAlias++
	s.mu.Unlock()

	if err := s.writeMessage(MsgSubscribeOK, SubscribeOK{ID: m.ID, TrackAlias: alias}.encode); err != nil {
		track.Close()
		return
	}

	go func() {
		defer track.Close()
		for {
			group, err := track.NextGroup(ctx)
			if err != nil {
				return
			}
			go s.pumpGroup(ctx, alias, group)
		}
	}()
}

// handleSubscribeOK resolves the pending subscribe this session issued,
// wiring its track alias to the pending track so incoming object streams
// can be routed.
func (s *Session) handleSubscribeOK(m SubscribeOK) {
	s.mu.Lock()
	sub, ok := s.subscribed[m.ID]
	if ok {
		s.subForAlias[m.TrackAlias] = m.ID
	}
	s.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

func (s *Session) handleSubscribeError(m SubscribeError) {
	s.mu.Lock()
	sub, ok := s.subscribed[m.ID]
	delete(s.subscribed, m.ID)
	s.mu.Unlock()
	if ok {
		sub.err = fmt.Errorf("ietf: subscribe rejected: %s", m.Reason)
		close(sub.done)
	}
}

func (s *Session) handleUnsubscribe(m Unsubscribe) {
	// No server-initiated teardown beyond what track.Close already
	// triggers on the publisher side once the subscriber drops its end.
}

// handleAnnounce and handleUnannounce feed the session's local announce
// cache, adapting the wire namespace back to a root-relative path so
// Announced(prefix) filters the same way the lite dialect does.
func (s *Session) handleAnnounce(m Announce) {
	p, ok := path.StripPrefix(s.root, namespaceToPath(m.Namespace))
	if !ok {
		return
	}
	_ = s.announceProd.Announce(cache.Announcement{Path: p, Active: true})
}

func (s *Session) handleUnannounce(m Unannounce) {
	p, ok := path.StripPrefix(s.root, namespaceToPath(m.Namespace))
	if !ok {
		return
	}
	_ = s.announceProd.Announce(cache.Announcement{Path: p, Active: false})
}

// Publish registers bcast as locally available under path p, adapted by
// the session's root, and sends ANNOUNCE on the control stream; it sends
// UNANNOUNCE once bcast closes, per §4.5's "waits implicitly for the
// broadcast to close" publication flow.
func (s *Session) Publish(p path.Path, bcast *cache.BroadcastConsumer) error {
	s.mu.Lock()
	s.published[p] = bcast
	s.mu.Unlock()

	ns := pathToNamespace(path.Join(s.root, p))
	if err := s.writeMessage(MsgAnnounce, Announce{Namespace: ns}.encode); err != nil {
		return fmt.Errorf("ietf: announce %s: %w", p, err)
	}

	go func() {
		<-bcast.Closed()
		s.Unpublish(p)
	}()
	return nil
}

// Unpublish withdraws a previously published broadcast.
func (s *Session) Unpublish(p path.Path) {
	s.mu.Lock()
	_, ok := s.published[p]
	delete(s.published, p)
	s.mu.Unlock()
	if ok {
		ns := pathToNamespace(path.Join(s.root, p))
		_ = s.writeMessage(MsgUnannounce, Unannounce{Namespace: ns}.encode)
	}
}

// Consume returns a BroadcastConsumer for p, lazily issuing SUBSCRIBE
// requests as tracks are asked for, mirroring the lite dialect's
// unknown-track callback so both dialects present an identical surface
// to the session layer above.
func (s *Session) Consume(p path.Path) *cache.BroadcastConsumer {
	bprod, bcons := cache.NewBroadcast()
	bprod.OnUnknownTrack(func(ctx context.Context, name string, priority uint8, track *cache.TrackProducer) {
		if err := s.subscribeRemote(ctx, p, name, priority, track); err != nil {
			track.CloseWithError(err)
		}
	})
	return bcons
}

// Announced returns an AnnouncedConsumer for paths under prefix. Unlike
// the lite dialect's per-prefix interest stream, this restricted profile
// has no SUBSCRIBE_ANNOUNCES support: every ANNOUNCE/UNANNOUNCE the peer
// sends feeds one session-wide announce cache, and prefix filtering
// happens locally via Clone, exactly as a lite AnnouncedConsumer filters
// an already-fully-populated active set.
func (s *Session) Announced(ctx context.Context, prefix path.Path) (*cache.AnnouncedConsumer, error) {
	return s.announceRoot.Clone(prefix), nil
}

// subscribeRemote is the subscriber side of Consume's unknown-track
// callback: it synchronously issues SUBSCRIBE and returns once the
// SubscribeOK/SubscribeError arrives on the control stream's dispatch
// loop, handed off to it via the subscribed map.
func (s *Session) subscribeRemote(ctx context.Context, broadcast path.Path, trackName string, priority uint8, track *cache.TrackProducer) error {
	s.mu.Lock()
	id := s.nextReqID
	s.nextReqID++
	s.subscribed[id] = &subscription{track: track, done: make(chan struct{})}
	sub := s.subscribed[id]
	s.mu.Unlock()

	ns := pathToNamespace(path.Join(s.root, broadcast))
	msg := Subscribe{ID: id, Namespace: ns, TrackName: trackName, Priority: priority}
	if err := s.writeMessage(MsgSubscribe, msg.encode); err != nil {
		s.mu.Lock()
		delete(s.subscribed, id)
		s.mu.Unlock()
		return fmt.Errorf("ietf: write subscribe: %w", err)
	}

	select {
	case <-sub.done:
		if sub.err != nil {
			return sub.err
		}
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.subscribed, id)
		s.mu.Unlock()
		return ctx.Err()
	}

	go func() {
		select {
		case <-track.Unused():
		case <-ctx.Done():
		}
		s.mu.Lock()
		delete(s.subscribed, id)
		s.mu.Unlock()
		_ = s.writeMessage(MsgUnsubscribe, Unsubscribe{ID: id}.encode)
		track.Close()
	}()
	return nil
}
