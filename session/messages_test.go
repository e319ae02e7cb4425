package session

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moqlite/moqlite/internal/wire"
)

func TestSessionClientRoundTrip(t *testing.T) {
	want := SessionClient{
		Versions:   []uint32{LiteVersion, IetfVersion},
		Extensions: map[uint32][]byte{1: []byte("abc")},
	}

	var mw wire.MessageWriter
	want.encode(&mw)
	body := mw.Bytes()
	framed := wire.AppendU53(nil, uint64(len(body)))
	framed = append(framed, body...)

	r := wire.NewReader(bytes.NewReader(framed))
	var got SessionClient
	require.NoError(t, r.Message(func(sub *wire.Reader) error {
		v, err := decodeSessionClient(sub)
		got = v
		return err
	}))
	require.Equal(t, want, got)
}

func TestSessionServerRoundTrip(t *testing.T) {
	want := SessionServer{Version: IetfVersion, Extensions: map[uint32][]byte{2: []byte("xy")}}

	var mw wire.MessageWriter
	want.encode(&mw)
	body := mw.Bytes()
	framed := wire.AppendU53(nil, uint64(len(body)))
	framed = append(framed, body...)

	r := wire.NewReader(bytes.NewReader(framed))
	var got SessionServer
	require.NoError(t, r.Message(func(sub *wire.Reader) error {
		v, err := decodeSessionServer(sub)
		got = v
		return err
	}))
	require.Equal(t, want, got)
}
