package ietf

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/moqlite/moqlite/internal/transport"
)

// fakeStream is an in-memory transport.Stream backed by a pair of pipes,
// used to exercise the dialect engine without a real WebTransport/QUIC
// connection.
type fakeStream struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (s *fakeStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *fakeStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *fakeStream) Close() error                { return s.w.Close() }
func (s *fakeStream) CancelWrite(code uint64)     { _ = s.w.CloseWithError(fmt.Errorf("cancel write %d", code)) }
func (s *fakeStream) CancelRead(code uint64)      { _ = s.r.CloseWithError(fmt.Errorf("cancel read %d", code)) }

func newFakeStreamPair() (*fakeStream, *fakeStream) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	return &fakeStream{r: r1, w: w2}, &fakeStream{r: r2, w: w1}
}

type fakeSendStream struct{ w *io.PipeWriter }

func (s *fakeSendStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *fakeSendStream) Close() error                { return s.w.Close() }
func (s *fakeSendStream) CancelWrite(code uint64)     { _ = s.w.CloseWithError(fmt.Errorf("cancel write %d", code)) }

type fakeReceiveStream struct{ r *io.PipeReader }

func (s *fakeReceiveStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *fakeReceiveStream) CancelRead(code uint64)     { _ = s.r.CloseWithError(fmt.Errorf("cancel read %d", code)) }

type fakeSession struct {
	peer *fakeSession

	mu     sync.Mutex
	bidiIn chan transport.Stream
	uniIn  chan transport.ReceiveStream

	ctx    context.Context
	cancel context.CancelFunc
}

func newFakeSessionPair() (*fakeSession, *fakeSession) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeSession{bidiIn: make(chan transport.Stream, 64), uniIn: make(chan transport.ReceiveStream, 64), ctx: ctx, cancel: cancel}
	b := &fakeSession{bidiIn: make(chan transport.Stream, 64), uniIn: make(chan transport.ReceiveStream, 64), ctx: ctx, cancel: cancel}
	a.peer, b.peer = b, a
	return a, b
}

func (s *fakeSession) OpenStreamSync(ctx context.Context) (transport.Stream, error) {
	local, remote := newFakeStreamPair()
	s.peer.bidiIn <- remote
	return local, nil
}

func (s *fakeSession) OpenUniStreamSync(ctx context.Context) (transport.SendStream, error) {
	r, w := io.Pipe()
	s.peer.uniIn <- &fakeReceiveStream{r: r}
	return &fakeSendStream{w: w}, nil
}

func (s *fakeSession) AcceptStream(ctx context.Context) (transport.Stream, error) {
	select {
	case st := <-s.bidiIn:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func (s *fakeSession) AcceptUniStream(ctx context.Context) (transport.ReceiveStream, error) {
	select {
	case st := <-s.uniIn:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func (s *fakeSession) CloseWithError(code uint64, reason string) error {
	s.cancel()
	return nil
}

func (s *fakeSession) Context() context.Context { return s.ctx }
