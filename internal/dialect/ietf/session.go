package ietf

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/moqlite/moqlite/internal/cache"
	"github.com/moqlite/moqlite/internal/path"
	"github.com/moqlite/moqlite/internal/transport"
	"github.com/moqlite/moqlite/internal/wire"
)

// pathToNamespace and namespaceToPath convert between this implementation's
// flat broadcast Path and moq-transport's namespace tuple by splitting or
// joining on "/", so "room/alice/camera" <-> ["room","alice","camera"].
func pathToNamespace(p path.Path) NamespaceTuple {
	if p.IsEmpty() {
		return NamespaceTuple{}
	}
	return strings.Split(p.String(), "/")
}

func namespaceToPath(ns NamespaceTuple) path.Path {
	return path.From(strings.Join(ns, "/"))
}

// subscription tracks one outstanding SUBSCRIBE this session issued: the
// object-stream reader routes incoming groups to track by alias, and
// subscribeRemote blocks on done until SubscribeOK/SubscribeError
// resolves it.
type subscription struct {
	track *cache.TrackProducer
	done  chan struct{}
	err   error
}

// Session is the restricted moq-transport-07 dialect engine. It speaks
// one control stream (opened by the client side, per §4.5) plus one
// unidirectional stream per group, and shares the cache/announce/path
// building blocks with the lite dialect so both engines present the same
// Publish/Consume/Announced surface to the session layer above.
type Session struct {
	conn   transport.Session
	log    *slog.Logger
	client bool // true if this side opened the control stream
	root   path.Path

	control transport.Stream
	cw      *wire.Writer
	cr      *wire.Reader
	writeMu sync.Mutex

	mu           sync.Mutex
	published    map[path.Path]*cache.BroadcastConsumer
	subscribed   map[uint64]*subscription
	nextReqID    uint64
	nextAlias    uint64
	subForAlias  map[uint64]uint64
	announceProd *cache.AnnouncedProducer
	announceRoot *cache.AnnouncedConsumer

	closed atomic.Bool
}

// NewSession wraps an already-established transport.Session. client
// selects which side opens the control stream and sends CLIENT_SETUP
// first, matching the client/server asymmetry of moq-transport's setup
// handshake. root is the connection URL's path, joined with or stripped
// from every namespace this session announces, publishes, or subscribes
// to, so the caller-visible API matches the lite dialect exactly.
func NewSession(conn transport.Session, log *slog.Logger, client bool, root path.Path) *Session {
	announceProd, announceRoot := cache.NewAnnounced()
	return &Session{
		conn:         conn,
		log:          log,
		client:       client,
		root:         root,
		published:    make(map[path.Path]*cache.BroadcastConsumer),
		subscribed:   make(map[uint64]*subscription),
		subForAlias:  make(map[uint64]uint64),
		announceProd: announceProd,
		announceRoot: announceRoot,
	}
}

// Run performs the control-stream setup handshake and then pumps the
// control-message loop and the unidirectional object-stream accept loop
// until ctx is done or the session closes.
func (s *Session) Run(ctx context.Context) error {
	if err := s.setup(ctx); err != nil {
		s.closed.Store(true)
		return fmt.Errorf("ietf: setup: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.controlLoop(ctx) })
	g.Go(func() error { return s.acceptUniLoop(ctx) })
	err := g.Wait()
	s.closed.Store(true)
	return err
}

func (s *Session) setup(ctx context.Context) error {
	if s.client {
		stream, err := s.conn.OpenStreamSync(ctx)
		if err != nil {
			return fmt.Errorf("open control stream: %w", err)
		}
		s.control = stream
		s.cw = wire.NewWriter(stream)
		s.cr = wire.NewReader(stream)

		if err := s.writeMessage(MsgClientSetup, ClientSetup{Versions: []uint64{Version}, Path: ""}.encode); err != nil {
			return fmt.Errorf("write client setup: %w", err)
		}

		typ, err := s.cr.U62()
		if err != nil {
			return fmt.Errorf("read server setup type: %w", err)
		}
		if typ != MsgServerSetup {
			return fmt.Errorf("expected SERVER_SETUP, got %#x", typ)
		}
		var ss ServerSetup
		if err := s.cr.Message(func(r *wire.Reader) error {
			v, err := decodeServerSetup(r)
			ss = v
			return err
		}); err != nil {
			return fmt.Errorf("read server setup: %w", err)
		}
		if ss.SelectedVersion != Version {
			return &ErrRestrictedProfile{Field: "selected_version", Value: ss.SelectedVersion}
		}
		return nil
	}

	stream, err := s.conn.AcceptStream(ctx)
	if err != nil {
		return fmt.Errorf("accept control stream: %w", err)
	}
	s.control = stream
	s.cw = wire.NewWriter(stream)
	s.cr = wire.NewReader(stream)

	typ, err := s.cr.U62()
	if err != nil {
		return fmt.Errorf("read client setup type: %w", err)
	}
	if typ != MsgClientSetup {
		return fmt.Errorf("expected CLIENT_SETUP, got %#x", typ)
	}
	var cs ClientSetup
	if err := s.cr.Message(func(r *wire.Reader) error {
		v, err := decodeClientSetup(r)
		cs = v
		return err
	}); err != nil {
		return fmt.Errorf("read client setup: %w", err)
	}
	supported := false
	for _, v := range cs.Versions {
		if v == Version {
			supported = true
			break
		}
	}
	if !supported {
		return &ErrRestrictedProfile{Field: "client_versions", Value: 0}
	}
	return s.writeMessage(MsgServerSetup, ServerSetup{SelectedVersion: Version}.encode)
}

// writeMessage writes a type id followed by the length-framed encoded
// body, serialized against concurrent writers on the shared control
// stream.
func (s *Session) writeMessage(typ uint64, encode func(*wire.MessageWriter)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.cw.U62(typ); err != nil {
		return err
	}
	return s.cw.Message(encode)
}

// Closed reports whether Run has returned.
func (s *Session) Closed() bool { return s.closed.Load() }

// Close tears down the underlying transport session.
func (s *Session) Close() error {
	return s.conn.CloseWithError(transport.ErrCanceled, "session closed")
}
