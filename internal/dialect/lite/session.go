package lite

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/moqlite/moqlite/internal/cache"
	"github.com/moqlite/moqlite/internal/path"
	"github.com/moqlite/moqlite/internal/transport"
	"github.com/moqlite/moqlite/internal/wire"
)

// Session is the MoQ-Lite dialect engine bound to one established
// transport.Session. It implements the same publish/consume/announced
// surface the session.Connection exposes to callers, so the teacher's
// session-pump shape (one engine, several concurrently running loops
// under an errgroup) generalizes across both dialects without the
// caller knowing which one it's talking to.
type Session struct {
	conn transport.Session
	log  *slog.Logger

	mu         sync.Mutex
	published  map[path.Path]*cache.BroadcastConsumer
	nextSubID  uint64
	pendingSub map[uint64]*cache.TrackProducer

	announceProd *cache.AnnouncedProducer
	announceRoot *cache.AnnouncedConsumer

	closed atomic.Bool
}

// NewSession wraps conn with the MoQ-Lite dialect engine. Run must be
// called (typically from an errgroup alongside the caller's other
// session tasks) to actually pump accept loops.
func NewSession(conn transport.Session, log *slog.Logger) *Session {
	announceProd, announceRoot := cache.NewAnnounced()
	return &Session{
		conn:         conn,
		log:          log,
		published:    make(map[path.Path]*cache.BroadcastConsumer),
		pendingSub:   make(map[uint64]*cache.TrackProducer),
		announceProd: announceProd,
		announceRoot: announceRoot,
	}
}

// Run pumps the accept-bidi and accept-uni loops until ctx is done or the
// session closes. It returns the first error encountered by either loop.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptBidiLoop(ctx) })
	g.Go(func() error { return s.acceptUniLoop(ctx) })
	err := g.Wait()
	s.closed.Store(true)
	return err
}

// Publish registers bcast as locally available under path p: incoming
// Subscribe requests for p are served from it, and an Announce(active)
// record is emitted to every interested announce stream. The caller
// should arrange to call Unpublish (or rely on bcast.Closed()) when the
// broadcast ends.
func (s *Session) Publish(p path.Path, bcast *cache.BroadcastConsumer) error {
	s.mu.Lock()
	s.published[p] = bcast
	s.mu.Unlock()

	if err := s.announceProd.Announce(cache.Announcement{Path: p, Active: true}); err != nil {
		return fmt.Errorf("lite: announce publish %s: %w", p, err)
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
		_ = s.announceProd.Announce(cache.Announcement{Path: p, Active: false})
	}
}

// Consume returns a BroadcastConsumer for p, lazily issuing wire
// Subscribe requests as tracks are asked for.
func (s *Session) Consume(p path.Path) *cache.BroadcastConsumer {
	bprod, bcons := cache.NewBroadcast()
	bprod.OnUnknownTrack(func(ctx context.Context, name string, priority uint8, track *cache.TrackProducer) {
		if err := s.subscribeRemote(ctx, p, name, priority, track); err != nil {
			track.CloseWithError(err)
		}
	})
	return bcons
}

// Announced returns an AnnouncedConsumer for paths under prefix,
// opening a dedicated announce-interest stream to the peer.
func (s *Session) Announced(ctx context.Context, prefix path.Path) (*cache.AnnouncedConsumer, error) {
	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("lite: open announce stream: %w", err)
	}
	w := wire.NewWriter(stream)
	if err := w.U8(StreamAnnounce); err != nil {
		return nil, fmt.Errorf("lite: write announce stream type: %w", err)
	}
	if err := w.String(prefix.String()); err != nil {
		return nil, fmt.Errorf("lite: write announce prefix: %w", err)
	}

	prod, cons := cache.NewAnnounced()
	r := wire.NewReader(stream)
	go s.readAnnounceStream(r, prod, prefix)
	return cons, nil
}

// Closed reports whether Run has returned.
func (s *Session) Closed() bool { return s.closed.Load() }

// Close tears down the underlying transport session.
func (s *Session) Close() error {
	return s.conn.CloseWithError(transport.ErrCanceled, "session closed")
}

func (s *Session) acceptBidiLoop(ctx context.Context) error {
	for {
		stream, err := s.conn.AcceptStream(ctx)
		if err != nil {
			return err
		}
		go s.handleBidiStream(ctx, stream)
	}
}

func (s *Session) handleBidiStream(ctx context.Context, stream transport.Stream) {
	r := wire.NewReader(stream)
	typ, err := r.U8()
	if err != nil {
		stream.CancelRead(uint64(transport.ErrProtocol))
		return
	}
	switch typ {
	case StreamAnnounce:
		s.handleAnnounceInterest(ctx, stream, r)
	case StreamSubscribe:
		s.handleSubscribe(ctx, stream, r)
	case StreamCompatClient, StreamCompatServer:
		// A second session stream after setup is fatal to the
		// connection, not just to this stream.
		s.log.Error("lite: duplicate session stream", "type", typ)
		_ = s.conn.CloseWithError(transport.ErrProtocol, "duplicate session stream")
	default:
		s.log.Warn("lite: unknown bidi stream type", "type", typ)
		stream.CancelRead(uint64(transport.ErrProtocol))
	}
}

func (s *Session) acceptUniLoop(ctx context.Context) error {
	return wire.AcceptUniReaders(ctx, func(ctx context.Context) (io.Reader, error) {
		return s.conn.AcceptUniStream(ctx)
	}, func(r *wire.Reader) {
		go s.handleUniStream(ctx, r)
	})
}

func (s *Session) handleUniStream(ctx context.Context, r *wire.Reader) {
	typ, err := r.U8()
	if err != nil {
		return
	}
	if typ != StreamGroup {
		s.log.Warn("lite: unknown uni stream type", "type", typ)
		return
	}
	hdr, err := decodeGroupHeader(r)
	if err != nil {
		s.log.Warn("lite: bad group header", "err", err)
		return
	}

	s.mu.Lock()
	track := s.pendingSub[hdr.SubscribeID]
	s.mu.Unlock()
	if track == nil {
		s.log.Warn("lite: group for unknown subscription", "id", hdr.SubscribeID)
		return
	}

	group, cons := cache.NewGroup(hdr.Sequence)
	track.InsertGroup(group, cons)
	for {
		n, err := r.U53()
		if err != nil {
			if err == io.EOF {
				group.Close()
			} else {
				group.CloseWithError(err)
			}
			return
		}
		buf := make([]byte, n)
		if _, err := r.Read(buf); err != nil {
			group.CloseWithError(err)
			return
		}
		if err := group.WriteFrame(buf); err != nil {
			return
		}
	}
}
