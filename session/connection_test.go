package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moqlite/moqlite/internal/cache"
	"github.com/moqlite/moqlite/internal/path"
	"github.com/moqlite/moqlite/internal/transport"
)

// stubTransport is the minimal transport.Session a Connection needs: a
// context that cancels on CloseWithError, with no usable streams.
type stubTransport struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newStubTransport() *stubTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &stubTransport{ctx: ctx, cancel: cancel}
}

func (s *stubTransport) OpenStreamSync(ctx context.Context) (transport.Stream, error) {
	return nil, io.ErrClosedPipe
}

func (s *stubTransport) OpenUniStreamSync(ctx context.Context) (transport.SendStream, error) {
	return nil, io.ErrClosedPipe
}

func (s *stubTransport) AcceptStream(ctx context.Context) (transport.Stream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stubTransport) AcceptUniStream(ctx context.Context) (transport.ReceiveStream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stubTransport) CloseWithError(code uint64, reason string) error {
	s.cancel()
	return nil
}

func (s *stubTransport) Context() context.Context { return s.ctx }

// stubEngine runs until its context ends and serves empty cache objects.
type stubEngine struct{}

func (e *stubEngine) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (e *stubEngine) Publish(p path.Path, bcast *cache.BroadcastConsumer) error { return nil }

func (e *stubEngine) Consume(p path.Path) *cache.BroadcastConsumer {
	_, bcons := cache.NewBroadcast()
	return bcons
}

func (e *stubEngine) Announced(ctx context.Context, prefix path.Path) (*cache.AnnouncedConsumer, error) {
	_, cons := cache.NewAnnounced()
	return cons, nil
}

func (e *stubEngine) Closed() bool { return false }

func (e *stubEngine) Close() error { return nil }

func TestConnectionMethodsAfterCloseReturnErrClosed(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn := newConnection("https://relay.example/anon", newStubTransport(), &stubEngine{}, log)

	require.NoError(t, conn.Publish(path.From("live"), nil))

	require.NoError(t, conn.Close())
	select {
	case <-conn.Closed():
	case <-time.After(time.Second):
		t.Fatal("Closed never fired after Close")
	}

	require.ErrorIs(t, conn.Publish(path.From("live"), nil), ErrClosed)

	_, err := conn.Announced(context.Background(), path.Empty())
	require.ErrorIs(t, err, ErrClosed)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bcons := conn.Consume(path.From("live"))
	tcons, err := bcons.Subscribe(ctx, "track", 0)
	require.NoError(t, err)
	_, err = tcons.ReadFrame(ctx)
	require.ErrorIs(t, err, ErrClosed)
}
