// Package lite implements the native MoQ-Lite wire dialect: one session
// stream carrying the compat handshake, additional bidirectional streams
// typed by a leading byte for announce-interest and subscribe, and
// unidirectional streams carrying group payloads. Grounded on the shape of
// the teacher's internal/moq control-message framing (length-prefixed typed
// messages keyed by a leading id), adapted from the restricted IETF draft
// to this project's own lighter-weight dialect.
package lite

import (
	"fmt"

	"github.com/moqlite/moqlite/internal/wire"
)

// Bidirectional stream type bytes (the first byte written on a freshly
// opened bidi stream, excluding the session stream).
const (
	StreamAnnounce  byte = 0x01
	StreamSubscribe byte = 0x02

	// Compat handshake ids, valid only on the connection's first
	// session stream (owned by the session layer before this engine
	// starts). Seeing either on a later bidi stream means the peer
	// opened a duplicate session stream.
	StreamCompatClient byte = 0x40
	StreamCompatServer byte = 0x41
)

// Unidirectional stream type bytes.
const (
	StreamGroup byte = 0x00
)

// AnnounceInit is the snapshot of currently-active suffixes sent once in
// response to an announce-interest stream, before any delta Announce
// records.
type AnnounceInit struct {
	Suffixes []string
}

func (m AnnounceInit) encode(w *wire.MessageWriter) {
	w.U53(uint64(len(m.Suffixes)))
	for _, s := range m.Suffixes {
		w.String(s)
	}
}

func decodeAnnounceInit(r *wire.Reader) (AnnounceInit, error) {
	n, err := r.U53()
	if err != nil {
		return AnnounceInit{}, fmt.Errorf("announce init count: %w", err)
	}
	out := AnnounceInit{Suffixes: make([]string, n)}
	for i := range out.Suffixes {
		s, err := r.String()
		if err != nil {
			return AnnounceInit{}, fmt.Errorf("announce init suffix %d: %w", i, err)
		}
		out.Suffixes[i] = s
	}
	return out, nil
}

// Announce is a single active/inactive delta for a suffix under the
// interested prefix.
type Announce struct {
	Suffix string
	Active bool
}

func (m Announce) encode(w *wire.MessageWriter) {
	w.String(m.Suffix)
	w.U8(boolByte(m.Active))
}

func decodeAnnounce(r *wire.Reader) (Announce, error) {
	suffix, err := r.String()
	if err != nil {
		return Announce{}, fmt.Errorf("announce suffix: %w", err)
	}
	active, err := r.U8()
	if err != nil {
		return Announce{}, fmt.Errorf("announce active: %w", err)
	}
	return Announce{Suffix: suffix, Active: active != 0}, nil
}

// Subscribe requests delivery of a track within a broadcast.
type Subscribe struct {
	ID        uint64
	Broadcast string
	Track     string
	Priority  uint8
}

func (m Subscribe) encode(w *wire.MessageWriter) {
	w.U62(m.ID)
	w.String(m.Broadcast)
	w.String(m.Track)
	w.U8(m.Priority)
}

func decodeSubscribe(r *wire.Reader) (Subscribe, error) {
	id, err := r.U62()
	if err != nil {
		return Subscribe{}, fmt.Errorf("subscribe id: %w", err)
	}
	bc, err := r.String()
	if err != nil {
		return Subscribe{}, fmt.Errorf("subscribe broadcast: %w", err)
	}
	track, err := r.String()
	if err != nil {
		return Subscribe{}, fmt.Errorf("subscribe track: %w", err)
	}
	priority, err := r.U8()
	if err != nil {
		return Subscribe{}, fmt.Errorf("subscribe priority: %w", err)
	}
	return Subscribe{ID: id, Broadcast: bc, Track: track, Priority: priority}, nil
}

// SubscribeOk confirms a subscription, possibly with an updated priority.
type SubscribeOk struct {
	Priority uint8
}

func (m SubscribeOk) encode(w *wire.MessageWriter) { w.U8(m.Priority) }

func decodeSubscribeOk(r *wire.Reader) (SubscribeOk, error) {
	p, err := r.U8()
	if err != nil {
		return SubscribeOk{}, fmt.Errorf("subscribe ok priority: %w", err)
	}
	return SubscribeOk{Priority: p}, nil
}

// SubscribeError rejects a subscription; Code carries a transport error
// code such as transport.ErrNotFound and Reason a human-readable text.
// The subscriber surfaces only Reason, as the text of its error.
type SubscribeError struct {
	Code   uint64
	Reason string
}

func (m SubscribeError) encode(w *wire.MessageWriter) {
	w.U62(m.Code)
	w.String(m.Reason)
}

func decodeSubscribeError(r *wire.Reader) (SubscribeError, error) {
	code, err := r.U62()
	if err != nil {
		return SubscribeError{}, fmt.Errorf("subscribe error code: %w", err)
	}
	reason, err := r.String()
	if err != nil {
		return SubscribeError{}, fmt.Errorf("subscribe error reason: %w", err)
	}
	return SubscribeError{Code: code, Reason: reason}, nil
}

// SubscribeUpdate carries a priority change for a live subscription. The
// publisher side logs and ignores it per the source's observed behavior
// (spec Open Question, resolved in DESIGN.md).
type SubscribeUpdate struct {
	Priority uint8
}

func (m SubscribeUpdate) encode(w *wire.MessageWriter) { w.U8(m.Priority) }

func decodeSubscribeUpdate(r *wire.Reader) (SubscribeUpdate, error) {
	p, err := r.U8()
	if err != nil {
		return SubscribeUpdate{}, fmt.Errorf("subscribe update priority: %w", err)
	}
	return SubscribeUpdate{Priority: p}, nil
}

// groupHeader is written once at the start of each unidirectional group
// stream, identifying which subscription and which group sequence it
// carries. Frames follow as repeated <u53 size><bytes> until the stream
// closes.
type groupHeader struct {
	SubscribeID uint64
	Sequence    uint64
}

func (m groupHeader) encode(w *wire.MessageWriter) {
	w.U62(m.SubscribeID)
	w.U53(m.Sequence)
}

func decodeGroupHeader(r *wire.Reader) (groupHeader, error) {
	id, err := r.U62()
	if err != nil {
		return groupHeader{}, fmt.Errorf("group header subscribe id: %w", err)
	}
	seq, err := r.U53()
	if err != nil {
		return groupHeader{}, fmt.Errorf("group header sequence: %w", err)
	}
	return groupHeader{SubscribeID: id, Sequence: seq}, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
