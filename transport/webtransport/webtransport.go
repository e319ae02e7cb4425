// Package webtransport dials the real (non-emulated) half of the
// session-establishment race in session.Connect: a WebTransport session
// over HTTP/3, per RFC 9220. It is grounded on the teacher's server-side
// use of quic-go (zsiec/prism's internal/distribution/server.go sets up
// the same quic-go + http3 + qpack stack this package uses from the
// client side) since no capsule-protocol WebTransport client library is
// wired into this module's dependency set: the extended-CONNECT
// handshake and the RFC 9220 stream-header framing are hand-rolled
// directly on top of quic-go's QUIC layer and quic-go/qpack's header
// encoder.
package webtransport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"

	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"

	"github.com/moqlite/moqlite/internal/devcert"
	"github.com/moqlite/moqlite/internal/transport"
	"github.com/moqlite/moqlite/internal/wire"
)

// Options configures a WebTransport dial. Fields mirror spec §6's
// `webtransport` configuration block.
type Options struct {
	// TLSClientConfig seeds the QUIC handshake's TLS config. NextProtos
	// is always overwritten with "h3" regardless of caller input.
	TLSClientConfig *tls.Config
	// QUICConfig is passed through to quic.DialAddr unmodified.
	QUICConfig *quic.Config
	// ServerCertificateHashes pins the server's leaf certificate by
	// SHA-256 digest instead of verifying a certificate chain, for
	// connecting to self-signed dev servers (spec §6, §4.6).
	ServerCertificateHashes [][32]byte
	// AllowPooling is accepted for interface parity with the browser
	// WebTransport options bag; quic-go dials one connection per Dial
	// call regardless, so this is currently a no-op passthrough.
	AllowPooling bool
	// RequireUnreliable is accepted for interface parity; this engine
	// never falls back to reliable-only delivery, so it has no effect.
	RequireUnreliable bool
}

// Dial establishes a WebTransport session against u, performing the
// QUIC handshake, the HTTP/3 extended CONNECT, and returning a
// transport.Session whose streams are already framed per RFC 9220 §4.2.
func Dial(ctx context.Context, u *url.URL, opts Options) (transport.Session, error) {
	tlsConf := opts.TLSClientConfig
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	} else {
		tlsConf = tlsConf.Clone()
	}
	tlsConf.NextProtos = []string{"h3"}
	if len(opts.ServerCertificateHashes) > 0 {
		tlsConf.InsecureSkipVerify = true
		tlsConf.VerifyPeerCertificate = devcert.VerifyHashes(opts.ServerCertificateHashes)
	}

	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "443")
	}

	qconn, err := quic.DialAddr(ctx, addr, tlsConf, opts.QUICConfig)
	if err != nil {
		return nil, fmt.Errorf("webtransport: dial %s: %w", addr, err)
	}

	connectStream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		qconn.CloseWithError(quic.ApplicationErrorCode(transport.ErrInternal), "open connect stream")
		return nil, fmt.Errorf("webtransport: open connect stream: %w", err)
	}

	if err := sendExtendedConnect(connectStream, u); err != nil {
		qconn.CloseWithError(quic.ApplicationErrorCode(transport.ErrInternal), "extended connect")
		return nil, fmt.Errorf("webtransport: extended connect: %w", err)
	}
	if err := readConnectResponse(connectStream); err != nil {
		qconn.CloseWithError(quic.ApplicationErrorCode(transport.ErrInternal), "extended connect response")
		return nil, fmt.Errorf("webtransport: extended connect response: %w", err)
	}

	return &session{conn: qconn, id: uint64(connectStream.StreamID()), connectStream: connectStream}, nil
}

// http/3 frame types used by the extended-CONNECT handshake (RFC 9114).
const (
	frameTypeHeaders = 0x1
)

// RFC 9220 stream header: the first bytes of every WebTransport stream
// opened after the session is established are a varint stream type
// followed by the session ID (the stream ID of the CONNECT request).
const (
	streamTypeWebTransportBidi = 0x41
	streamTypeWebTransportUni  = 0x54
)

func sendExtendedConnect(s io.Writer, u *url.URL) error {
	var headerBuf bytes.Buffer
	enc := qpack.NewEncoder(&headerBuf)
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	fields := []qpack.HeaderField{
		{Name: ":method", Value: "CONNECT"},
		{Name: ":protocol", Value: "webtransport"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: u.Host},
		{Name: ":path", Value: path},
	}
	for _, f := range fields {
		if err := enc.WriteField(f); err != nil {
			return fmt.Errorf("encode %s: %w", f.Name, err)
		}
	}

	w := wire.NewWriter(s)
	if err := w.U62(frameTypeHeaders); err != nil {
		return err
	}
	if err := w.U62(uint64(headerBuf.Len())); err != nil {
		return err
	}
	return w.Write(headerBuf.Bytes())
}

func readConnectResponse(s io.Reader) error {
	// Varints are read unbuffered: a bufio-backed reader would prefetch
	// the header payload (and any bytes the peer sends after it) into a
	// buffer that is discarded when this function returns.
	br := unbufferedByteReader{s}
	typ, err := wire.ReadU62(br)
	if err != nil {
		return fmt.Errorf("read response frame type: %w", err)
	}
	if typ != frameTypeHeaders {
		return fmt.Errorf("expected HEADERS frame, got type %#x", typ)
	}
	n, err := wire.ReadU62(br)
	if err != nil {
		return fmt.Errorf("read response frame length: %w", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s, buf); err != nil {
		return fmt.Errorf("read response headers: %w", err)
	}
	decoder := qpack.NewDecoder(nil)
	fields, err := decoder.DecodeFull(buf)
	if err != nil {
		return fmt.Errorf("decode response headers: %w", err)
	}
	for _, f := range fields {
		if f.Name == ":status" {
			if f.Value != "200" {
				return fmt.Errorf("extended connect rejected: status %s", f.Value)
			}
			return nil
		}
	}
	return fmt.Errorf("response missing :status pseudo-header")
}

// writeStreamHeader prefixes a freshly opened stream with its RFC 9220
// stream-type and session-id varints.
func writeStreamHeader(w io.Writer, streamType byte, sessionID uint64) error {
	wr := wire.NewWriter(w)
	if err := wr.U62(uint64(streamType)); err != nil {
		return err
	}
	return wr.U62(sessionID)
}

// readStreamHeader consumes and validates an inbound stream's RFC 9220
// header, returning its declared stream type. It reads unbuffered so no
// payload bytes are stranded in a prefetch buffer once the raw stream is
// handed to the caller.
func readStreamHeader(r io.Reader, sessionID uint64) (byte, error) {
	br := unbufferedByteReader{r}
	typ, err := wire.ReadU62(br)
	if err != nil {
		return 0, err
	}
	id, err := wire.ReadU62(br)
	if err != nil {
		return 0, err
	}
	if id != sessionID {
		return 0, fmt.Errorf("webtransport: stream for session %d, want %d", id, sessionID)
	}
	return byte(typ), nil
}

// unbufferedByteReader adapts an io.Reader to io.ByteReader one byte at
// a time, never reading ahead of what the caller consumes.
type unbufferedByteReader struct{ r io.Reader }

func (u unbufferedByteReader) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(u.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}
