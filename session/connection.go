package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/moqlite/moqlite/internal/cache"
	"github.com/moqlite/moqlite/internal/path"
	"github.com/moqlite/moqlite/internal/transport"
)

// Connection is the public handle spec §6 describes: a live session over
// whichever transport and dialect Connect negotiated, exposing the
// transport-agnostic publish/consume/announced surface.
type Connection struct {
	url       string
	transport transport.Session
	eng       engine
	log       *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
	doneErr   error
}

func newConnection(url string, t transport.Session, eng engine, log *slog.Logger) *Connection {
	c := &Connection{
		url:       url,
		transport: t,
		eng:       eng,
		log:       log,
		done:      make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Connection) run() {
	err := c.eng.Run(c.transport.Context())
	if c.closed.Load() {
		err = nil
	}
	c.doneErr = err
	if err != nil {
		c.log.Warn("session ended", "err", err)
	} else {
		c.log.Info("session ended")
	}
	close(c.done)
}

// URL returns the URL this connection was established against.
func (c *Connection) URL() string { return c.url }

// isClosed reports whether Close has been called or the session has
// already ended on its own.
func (c *Connection) isClosed() bool {
	if c.closed.Load() {
		return true
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Publish serves bcast to the peer under path p, announcing it (spec
// §4.3, §4.4). It returns ErrClosed once the connection has closed.
func (c *Connection) Publish(p path.Path, bcast *cache.BroadcastConsumer) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.eng.Publish(p, bcast)
}

// Consume returns a consumer for the broadcast published at path p. The
// returned consumer resolves its tracks lazily; Consume itself never
// blocks on the network (spec §4.3). On a closed connection the
// returned consumer's tracks abort with ErrClosed when read.
func (c *Connection) Consume(p path.Path) *cache.BroadcastConsumer {
	if c.isClosed() {
		bprod, bcons := cache.NewBroadcast()
		bprod.OnUnknownTrack(func(ctx context.Context, name string, priority uint8, track *cache.TrackProducer) {
			track.CloseWithError(ErrClosed)
		})
		return bcons
	}
	return c.eng.Consume(p)
}

// Announced streams announce/unannounce events for broadcasts whose path
// starts with prefix (spec §4.3). It returns ErrClosed once the
// connection has closed.
func (c *Connection) Announced(ctx context.Context, prefix path.Path) (*cache.AnnouncedConsumer, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	return c.eng.Announced(ctx, prefix)
}

// Close tears down the underlying transport and dialect session.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.eng.Close()
		c.transport.CloseWithError(transport.ErrInternal, "closed by application")
	})
	return err
}

// Closed returns a channel closed once the session has ended, for any
// reason (explicit Close, peer close, transport failure).
func (c *Connection) Closed() <-chan struct{} { return c.done }

// Err returns the reason the session ended, once Closed has fired. It is
// nil for a clean, application-initiated close.
func (c *Connection) Err() error { return c.doneErr }
