package webtransport

import (
	"context"
	"fmt"

	"github.com/quic-go/quic-go"

	"github.com/moqlite/moqlite/internal/transport"
)

// session adapts a quic.Connection plus an established WebTransport
// session ID to transport.Session, inserting/stripping the RFC 9220
// stream header on every opened or accepted stream.
type session struct {
	conn          quic.Connection
	id            uint64
	connectStream quic.Stream
}

func (s *session) OpenStreamSync(ctx context.Context) (transport.Stream, error) {
	st, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	if err := writeStreamHeader(st, streamTypeWebTransportBidi, s.id); err != nil {
		st.CancelWrite(quic.StreamErrorCode(transport.ErrInternal))
		return nil, fmt.Errorf("webtransport: write bidi stream header: %w", err)
	}
	return &stream{Stream: st}, nil
}

func (s *session) OpenUniStreamSync(ctx context.Context) (transport.SendStream, error) {
	st, err := s.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	if err := writeStreamHeader(st, streamTypeWebTransportUni, s.id); err != nil {
		st.CancelWrite(quic.StreamErrorCode(transport.ErrInternal))
		return nil, fmt.Errorf("webtransport: write uni stream header: %w", err)
	}
	return &sendStream{SendStream: st}, nil
}

func (s *session) AcceptStream(ctx context.Context) (transport.Stream, error) {
	for {
		st, err := s.conn.AcceptStream(ctx)
		if err != nil {
			return nil, err
		}
		typ, err := readStreamHeader(st, s.id)
		if err != nil {
			st.CancelRead(quic.StreamErrorCode(transport.ErrProtocol))
			continue
		}
		if typ != streamTypeWebTransportBidi {
			st.CancelRead(quic.StreamErrorCode(transport.ErrProtocol))
			continue
		}
		return &stream{Stream: st}, nil
	}
}

func (s *session) AcceptUniStream(ctx context.Context) (transport.ReceiveStream, error) {
	for {
		st, err := s.conn.AcceptUniStream(ctx)
		if err != nil {
			return nil, err
		}
		typ, err := readStreamHeader(st, s.id)
		if err != nil {
			st.CancelRead(quic.StreamErrorCode(transport.ErrProtocol))
			continue
		}
		if typ != streamTypeWebTransportUni {
			st.CancelRead(quic.StreamErrorCode(transport.ErrProtocol))
			continue
		}
		return &receiveStream{ReceiveStream: st}, nil
	}
}

func (s *session) CloseWithError(code uint64, reason string) error {
	return s.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

func (s *session) Context() context.Context {
	return s.conn.Context()
}

// stream, sendStream, and receiveStream translate transport's
// ErrorCode-keyed cancellation into quic-go's StreamErrorCode type.
type stream struct{ quic.Stream }

func (s *stream) CancelWrite(code uint64) { s.Stream.CancelWrite(quic.StreamErrorCode(code)) }
func (s *stream) CancelRead(code uint64)   { s.Stream.CancelRead(quic.StreamErrorCode(code)) }

type sendStream struct{ quic.SendStream }

func (s *sendStream) CancelWrite(code uint64) { s.SendStream.CancelWrite(quic.StreamErrorCode(code)) }

type receiveStream struct{ quic.ReceiveStream }

func (s *receiveStream) CancelRead(code uint64) {
	s.ReceiveStream.CancelRead(quic.StreamErrorCode(code))
}
