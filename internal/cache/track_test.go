package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackLatestGroupPolicy(t *testing.T) {
	prod, cons := NewTrack("video", 1)
	require.Equal(t, "video", prod.Name())
	require.Equal(t, uint8(1), prod.Priority())

	g0 := prod.AppendGroup()
	require.NoError(t, g0.WriteFrame([]byte("g0f0")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f, err := cons.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, "g0f0", string(f))

	// A newer group appears before g0 is drained further; the consumer
	// must switch to it rather than waiting on g0 forever.
	g1 := prod.AppendGroup()
	require.NoError(t, g1.WriteFrame([]byte("g1f0")))

	f, err = cons.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, "g1f0", string(f))
}

func TestTrackCloneSeesCurrentGroupFirst(t *testing.T) {
	prod, cons := NewTrack("audio", 0)
	prod.AppendGroup()
	prod.AppendGroup()
	g2 := prod.AppendGroup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// A clone taken after three groups exist sees the current latest (g2)
	// immediately via NextGroup, not g0.
	clone := cons.Clone()
	got, err := clone.NextGroup(ctx)
	require.NoError(t, err)
	require.Equal(t, g2.Sequence(), got.Sequence())
}

func TestTrackCloneSeesOnlyFutureGroups(t *testing.T) {
	prod, cons := NewTrack("chat", 0)
	g0 := prod.AppendGroup()
	require.NoError(t, g0.WriteFrame([]byte("hello")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f, err := cons.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", string(f))

	clone := cons.Clone()
	g1 := prod.AppendGroup()
	require.NoError(t, g1.WriteFrame([]byte("world")))

	f, err = clone.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, "world", string(f))
}

func TestTrackWriteFrameWithoutGroupFails(t *testing.T) {
	prod, _ := NewTrack("empty", 0)
	require.ErrorIs(t, prod.WriteFrame([]byte("x")), ErrNoGroup)
}

func TestTrackConvenienceWriters(t *testing.T) {
	prod, cons := NewTrack("conv", 0)
	prod.AppendGroup()
	require.NoError(t, prod.WriteString("hi"))
	require.NoError(t, prod.WriteJSON(map[string]int{"n": 1}))
	require.NoError(t, prod.WriteBool(true))
	prod.Close()

	ctx := context.Background()
	s, err := cons.ReadString(ctx)
	require.NoError(t, err)
	require.Equal(t, "hi", s)

	var m map[string]int
	require.NoError(t, cons.ReadJSON(ctx, &m))
	require.Equal(t, 1, m["n"])

	b, err := cons.ReadBool(ctx)
	require.NoError(t, err)
	require.True(t, b)
}

func TestTrackReadBoolInvalid(t *testing.T) {
	prod, cons := NewTrack("badbool", 0)
	prod.AppendGroup()
	require.NoError(t, prod.WriteFrame([]byte{2}))

	_, err := cons.ReadBool(context.Background())
	require.ErrorIs(t, err, ErrInvalidBool)
}

func TestTrackCloseEndsConsumer(t *testing.T) {
	prod, cons := NewTrack("fin", 0)
	g := prod.AppendGroup()
	require.NoError(t, g.WriteFrame([]byte("last")))
	prod.Close()

	ctx := context.Background()
	f, err := cons.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, "last", string(f))

	_, err = cons.NextFrame(ctx)
	require.ErrorIs(t, err, io.EOF)

	select {
	case <-prod.Closed():
	default:
		t.Fatal("producer Closed() channel should be closed")
	}
}

func TestTrackUnusedFiresWhenAllConsumersClose(t *testing.T) {
	prod, cons := NewTrack("refcount", 0)
	clone := cons.Clone()

	select {
	case <-prod.Unused():
		t.Fatal("Unused fired while consumers remain")
	default:
	}

	cons.Close()
	select {
	case <-prod.Unused():
		t.Fatal("Unused fired while a clone remains")
	default:
	}

	clone.Close()
	select {
	case <-prod.Unused():
	case <-time.After(time.Second):
		t.Fatal("Unused never fired after all consumers closed")
	}
}

func TestTrackInsertGroupDropsLateArrival(t *testing.T) {
	prod, cons := NewTrack("insert", 0)
	g1p, g1c := NewGroup(1)
	require.NoError(t, g1p.WriteFrame([]byte("one")))
	prod.InsertGroup(g1p, g1c)

	// A group with a sequence below nextSeq arrives late and is dropped.
	g0p, g0c := NewGroup(0)
	prod.InsertGroup(g0p, g0c)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f, err := cons.NextFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, "one", string(f))

	// g0 was closed by InsertGroup's drop path.
	require.ErrorIs(t, g0p.WriteFrame([]byte("late")), ErrClosed, "dropped late group should have been closed")
}
