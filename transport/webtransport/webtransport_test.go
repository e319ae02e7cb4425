package webtransport

import (
	"bytes"
	"net/url"
	"testing"

	"github.com/quic-go/qpack"
	"github.com/stretchr/testify/require"

	"github.com/moqlite/moqlite/internal/wire"
)

func TestExtendedConnectRoundTrip(t *testing.T) {
	u, err := url.Parse("https://relay.example.com/anon")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, sendExtendedConnect(&buf, u))

	r := wire.NewReader(&buf)
	typ, err := r.U62()
	require.NoError(t, err)
	require.EqualValues(t, frameTypeHeaders, typ)

	n, err := r.U53()
	require.NoError(t, err)
	body := make([]byte, n)
	_, err = r.Read(body)
	require.NoError(t, err)

	decoder := qpack.NewDecoder(nil)
	fields, err := decoder.DecodeFull(body)
	require.NoError(t, err)

	want := map[string]string{
		":method":    "CONNECT",
		":protocol":  "webtransport",
		":scheme":    "https",
		":authority": "relay.example.com",
		":path":      "/anon",
	}
	got := make(map[string]string, len(fields))
	for _, f := range fields {
		got[f.Name] = f.Value
	}
	require.Equal(t, want, got)
}

func TestReadConnectResponseAcceptsStatus200(t *testing.T) {
	var headerBuf bytes.Buffer
	enc := qpack.NewEncoder(&headerBuf)
	require.NoError(t, enc.WriteField(qpack.HeaderField{Name: ":status", Value: "200"}))

	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	require.NoError(t, w.U62(frameTypeHeaders))
	require.NoError(t, w.U62(uint64(headerBuf.Len())))
	require.NoError(t, w.Write(headerBuf.Bytes()))

	require.NoError(t, readConnectResponse(&buf))
}

func TestReadConnectResponseRejectsNon200(t *testing.T) {
	var headerBuf bytes.Buffer
	enc := qpack.NewEncoder(&headerBuf)
	require.NoError(t, enc.WriteField(qpack.HeaderField{Name: ":status", Value: "404"}))

	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	require.NoError(t, w.U62(frameTypeHeaders))
	require.NoError(t, w.U62(uint64(headerBuf.Len())))
	require.NoError(t, w.Write(headerBuf.Bytes()))

	require.Error(t, readConnectResponse(&buf))
}

func TestStreamHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeStreamHeader(&buf, streamTypeWebTransportUni, 42))

	typ, err := readStreamHeader(&buf, 42)
	require.NoError(t, err)
	require.EqualValues(t, streamTypeWebTransportUni, typ)
}

func TestStreamHeaderRejectsWrongSession(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeStreamHeader(&buf, streamTypeWebTransportBidi, 42))

	_, err := readStreamHeader(&buf, 7)
	require.Error(t, err)
}
