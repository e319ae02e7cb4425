package ietf

import (
	"context"
	"io"

	"github.com/moqlite/moqlite/internal/cache"
	"github.com/moqlite/moqlite/internal/wire"
)

// pumpGroup opens a fresh unidirectional stream for one group, writing a
// STREAM_HEADER_SUBGROUP header followed by one OBJECT per frame and a
// trailing end-of-group status object, per the restricted profile's
// stream-per-group, subgroup-zero-only framing (spec §4.5).
func (s *Session) pumpGroup(ctx context.Context, alias uint64, group *cache.GroupConsumer) {
	us, err := s.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return
	}
	defer us.Close()

	w := wire.NewWriter(us)
	if err := w.U8(StreamHeaderSubgroup); err != nil {
		return
	}
	// The subgroup header follows the stream type directly, unframed;
	// only control-stream messages carry a length prefix.
	var hdrBuf wire.MessageWriter
	objectHeader{TrackAlias: alias, GroupID: group.Sequence(), SubgroupID: 0, Priority: 0}.encode(&hdrBuf)
	if err := w.Write(hdrBuf.Bytes()); err != nil {
		return
	}

	objectID := uint64(0)
	for {
		f, err := group.ReadFrame(ctx)
		if err != nil {
			if err == io.EOF {
				_ = w.U62(objectID)
				_ = w.U53(0)
				_ = w.U8(ObjectStatusEndOfGroup)
			}
			return
		}
		if err := w.U62(objectID); err != nil {
			return
		}
		if err := w.U53(uint64(len(f))); err != nil {
			return
		}
		// The status byte only exists on empty-payload objects; a
		// non-empty object is followed directly by its payload bytes.
		if len(f) == 0 {
			if err := w.U8(ObjectStatusNormal); err != nil {
				return
			}
		} else if err := w.Write(f); err != nil {
			return
		}
		objectID++
	}
}

// acceptUniLoop accepts incoming unidirectional object streams and routes
// each to the track it belongs to by track alias.
func (s *Session) acceptUniLoop(ctx context.Context) error {
	return wire.AcceptUniReaders(ctx, func(ctx context.Context) (io.Reader, error) {
		return s.conn.AcceptUniStream(ctx)
	}, func(r *wire.Reader) {
		go s.handleObjectStream(r)
	})
}

func (s *Session) handleObjectStream(r *wire.Reader) {
	typ, err := r.U8()
	if err != nil {
		return
	}
	if typ != StreamHeaderSubgroup {
		s.log.Warn("ietf: unsupported uni stream type", "type", typ)
		return
	}
	hdr, err := decodeObjectHeader(r)
	if err != nil {
		s.log.Warn("ietf: bad subgroup header", "err", err)
		return
	}

	s.mu.Lock()
	reqID, ok := s.subForAlias[hdr.TrackAlias]
	var track *cache.TrackProducer
	if ok {
		if sub, ok2 := s.subscribed[reqID]; ok2 {
			track = sub.track
		}
	}
	s.mu.Unlock()
	if track == nil {
		s.log.Warn("ietf: subgroup for unknown alias", "alias", hdr.TrackAlias)
		return
	}

	gprod, gcons := cache.NewGroup(hdr.GroupID)
	track.InsertGroup(gprod, gcons)
	for {
		objectID, err := r.U62()
		if err != nil {
			if err == io.EOF {
				gprod.Close()
			} else {
				gprod.CloseWithError(err)
			}
			return
		}
		_ = objectID
		n, err := r.U53()
		if err != nil {
			gprod.CloseWithError(err)
			return
		}
		if n == 0 {
			status, err := r.U8()
			if err != nil {
				gprod.CloseWithError(err)
				return
			}
			if status == ObjectStatusEndOfGroup {
				gprod.Close()
				return
			}
			if err := gprod.WriteFrame(nil); err != nil {
				return
			}
			continue
		}
		buf := make([]byte, n)
		if _, err := r.Read(buf); err != nil {
			gprod.CloseWithError(err)
			return
		}
		if err := gprod.WriteFrame(buf); err != nil {
			return
		}
	}
}
