package lite

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moqlite/moqlite/internal/cache"
	"github.com/moqlite/moqlite/internal/path"
)

func newTestPair(t *testing.T) (pub *Session, sub *Session, ctx context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	a, b := newFakeSessionPair()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub = NewSession(a, log)
	sub = NewSession(b, log)

	go pub.Run(ctx)
	go sub.Run(ctx)
	return pub, sub, ctx
}

func TestClockPublishSubscribe(t *testing.T) {
	pub, sub, ctx := newTestPair(t)

	bprod, bcons := cache.NewBroadcast()
	require.NoError(t, pub.Publish(path.From("clock"), bcons))

	tprod, tcons := cache.NewTrack("time", 0)
	bprod.InsertTrack("time", tcons)

	g := tprod.AppendGroup()
	require.NoError(t, g.WriteFrame([]byte("2025-01-31 14:23:")))
	require.NoError(t, g.WriteFrame([]byte("00")))
	require.NoError(t, g.WriteFrame([]byte("01")))

	remoteBcast := sub.Consume(path.From("clock"))
	track, err := remoteBcast.Subscribe(ctx, "time", 0)
	require.NoError(t, err)

	want := []string{"2025-01-31 14:23:", "00", "01"}
	for _, w := range want {
		s, err := track.ReadString(ctx)
		require.NoError(t, err)
		require.Equal(t, w, s)
	}
}

func TestDuplicateSessionStreamClosesConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	a, b := newFakeSessionPair()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSession(a, log)
	go s.Run(ctx)

	stream, err := b.OpenStreamSync(ctx)
	require.NoError(t, err)
	_, err = stream.Write([]byte{StreamCompatClient})
	require.NoError(t, err)

	select {
	case <-a.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session was not torn down on duplicate session stream")
	}
}

func TestSubscribeNotFoundLocalizedToTrack(t *testing.T) {
	_, sub, ctx := newTestPair(t)

	remoteBcast := sub.Consume(path.From("missing"))
	track, err := remoteBcast.Subscribe(ctx, "anything", 0)
	require.NoError(t, err) // Subscribe itself succeeds; the failure surfaces on read

	_, readErr := track.ReadString(ctx)
	require.Error(t, readErr)
}

func TestAnnouncePrefixInitAndDelta(t *testing.T) {
	pub, sub, ctx := newTestPair(t)

	_, a1Cons := cache.NewBroadcast()
	require.NoError(t, pub.Publish(path.From("a/1"), a1Cons))
	_, a2Cons := cache.NewBroadcast()
	require.NoError(t, pub.Publish(path.From("a/2"), a2Cons))
	_, b1Cons := cache.NewBroadcast()
	require.NoError(t, pub.Publish(path.From("b/1"), b1Cons))

	cons, err := sub.Announced(ctx, path.From("a"))
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ann, ok, err := cons.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		seen[ann.Path.String()] = ann.Active
	}
	require.Equal(t, map[string]bool{"a/1": true, "a/2": true}, seen)

	_, a3Cons := cache.NewBroadcast()
	require.NoError(t, pub.Publish(path.From("a/3"), a3Cons))

	ann, ok, err := cons.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a/3", ann.Path.String())
	require.True(t, ann.Active)
}
