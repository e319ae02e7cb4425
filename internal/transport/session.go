// Package transport defines the minimal QUIC-like session surface the MoQ
// dialect engines need: bidirectional and unidirectional streams over a
// multiplexed duplex session. Both the real WebTransport dialer
// (transport/webtransport) and the WebSocket tunnel emulation
// (transport/wsquic) implement Session, so the dialect engines and the
// cache glue in the session package never import quic-go or gorilla/websocket
// directly.
package transport

import (
	"context"
	"io"
)

// SendStream is the write half of a stream.
type SendStream interface {
	io.Writer
	io.Closer
	// CancelWrite aborts the stream with an application error code,
	// analogous to QUIC RESET_STREAM.
	CancelWrite(code uint64)
}

// ReceiveStream is the read half of a stream.
type ReceiveStream interface {
	io.Reader
	// CancelRead aborts reading with an application error code, analogous
	// to QUIC STOP_SENDING.
	CancelRead(code uint64)
}

// Stream is a full-duplex QUIC-like stream.
type Stream interface {
	SendStream
	ReceiveStream
}

// Session is a single established MoQ transport session: either a real
// WebTransport/QUIC session or a WebSocket-tunneled emulation of one.
type Session interface {
	// OpenStreamSync opens a new bidirectional stream, blocking until the
	// peer has credit to accept it or ctx is done.
	OpenStreamSync(ctx context.Context) (Stream, error)
	// OpenUniStreamSync opens a new unidirectional (send-only, from this
	// side) stream.
	OpenUniStreamSync(ctx context.Context) (SendStream, error)
	// AcceptStream blocks until the peer opens a new bidirectional stream.
	AcceptStream(ctx context.Context) (Stream, error)
	// AcceptUniStream blocks until the peer opens a new unidirectional
	// stream addressed to this side.
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)
	// CloseWithError tears down the whole session with an application
	// error code and a human-readable reason.
	CloseWithError(code uint64, reason string) error
	// Context is done when the session closes, for any reason.
	Context() context.Context
}

// ErrorCode is an application-level session/stream close code.
type ErrorCode = uint64

// Common close codes shared by both dialects.
const (
	ErrInternal        ErrorCode = 1
	ErrProtocol        ErrorCode = 2
	ErrNotFound        ErrorCode = 3
	ErrVersionMismatch ErrorCode = 4
	ErrCanceled        ErrorCode = 5
)
