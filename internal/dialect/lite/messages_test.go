package lite

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moqlite/moqlite/internal/wire"
)

func roundTrip(t *testing.T, encode func(*wire.MessageWriter), decode func(*wire.Reader) error) {
	t.Helper()
	var mw wire.MessageWriter
	encode(&mw)

	body := mw.Bytes()
	framed := wire.AppendU53(nil, uint64(len(body)))
	framed = append(framed, body...)

	r := wire.NewReader(bytes.NewReader(framed))
	require.NoError(t, r.Message(decode))
}

func TestMessageRoundTrips(t *testing.T) {
	t.Run("AnnounceInit", func(t *testing.T) {
		want := AnnounceInit{Suffixes: []string{"1", "2", "nested/path"}}
		var got AnnounceInit
		roundTrip(t, func(m *wire.MessageWriter) { want.encode(m) }, func(r *wire.Reader) error {
			v, err := decodeAnnounceInit(r)
			got = v
			return err
		})
		require.Equal(t, want, got)
	})

	t.Run("Announce", func(t *testing.T) {
		want := Announce{Suffix: "camera", Active: true}
		var got Announce
		roundTrip(t, func(m *wire.MessageWriter) { want.encode(m) }, func(r *wire.Reader) error {
			v, err := decodeAnnounce(r)
			got = v
			return err
		})
		require.Equal(t, want, got)
	})

	t.Run("Subscribe", func(t *testing.T) {
		want := Subscribe{ID: 7, Broadcast: "clock", Track: "time", Priority: 3}
		var got Subscribe
		roundTrip(t, func(m *wire.MessageWriter) { want.encode(m) }, func(r *wire.Reader) error {
			v, err := decodeSubscribe(r)
			got = v
			return err
		})
		require.Equal(t, want, got)
	})

	t.Run("SubscribeOk", func(t *testing.T) {
		want := SubscribeOk{Priority: 9}
		var got SubscribeOk
		roundTrip(t, func(m *wire.MessageWriter) { want.encode(m) }, func(r *wire.Reader) error {
			v, err := decodeSubscribeOk(r)
			got = v
			return err
		})
		require.Equal(t, want, got)
	})

	t.Run("SubscribeError", func(t *testing.T) {
		want := SubscribeError{Code: 3, Reason: "not found"}
		var got SubscribeError
		roundTrip(t, func(m *wire.MessageWriter) { want.encode(m) }, func(r *wire.Reader) error {
			v, err := decodeSubscribeError(r)
			got = v
			return err
		})
		require.Equal(t, want, got)
	})

	t.Run("groupHeader", func(t *testing.T) {
		// Unlike the bidi control messages, the group header rides the
		// uni stream unframed, so it round-trips without a length prefix.
		want := groupHeader{SubscribeID: 42, Sequence: 9001}
		var mw wire.MessageWriter
		want.encode(&mw)

		r := wire.NewReader(bytes.NewReader(mw.Bytes()))
		got, err := decodeGroupHeader(r)
		require.NoError(t, err)
		require.Equal(t, want, got)
	})
}
