package lite

import (
	"context"
	"io"

	"github.com/moqlite/moqlite/internal/cache"
	"github.com/moqlite/moqlite/internal/path"
	"github.com/moqlite/moqlite/internal/transport"
	"github.com/moqlite/moqlite/internal/wire"
)

// handleAnnounceInterest serves a peer's announce-interest stream: drain
// the local Announced stream filtered by the requested prefix into an
// init snapshot, send it, then stream deltas until the peer goes away.
func (s *Session) handleAnnounceInterest(ctx context.Context, stream transport.Stream, r *wire.Reader) {
	prefix, err := r.String()
	if err != nil {
		stream.CancelRead(uint64(transport.ErrProtocol))
		return
	}

	cons := s.announceRoot.Clone(path.From(prefix))
	w := wire.NewWriter(stream)

	var init []string
	for {
		a, ok, err := cons.Next(drainCtx(ctx))
		if err != nil || !ok {
			break
		}
		suffix, matched := path.StripPrefix(path.From(prefix), a.Path)
		if !matched {
			continue
		}
		init = append(init, suffix.String())
	}

	if err := w.Message(func(m *wire.MessageWriter) { AnnounceInit{Suffixes: init}.encode(m) }); err != nil {
		return
	}

	for {
		a, ok, err := cons.Next(ctx)
		if err != nil || !ok {
			return
		}
		suffix, matched := path.StripPrefix(path.From(prefix), a.Path)
		if !matched {
			continue
		}
		delta := Announce{Suffix: suffix.String(), Active: a.Active}
		if err := w.Message(func(m *wire.MessageWriter) { delta.encode(m) }); err != nil {
			return
		}
	}
}

// drainCtx returns a context that is already done, used to greedily drain
// whatever announcements are already queued without blocking for more.
func drainCtx(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	cancel()
	return ctx
}

// readAnnounceStream is the subscriber side of the announce-interest
// flow: read the AnnounceInit snapshot, install it as active, then apply
// deltas as they arrive.
func (s *Session) readAnnounceStream(r *wire.Reader, prod *cache.AnnouncedProducer, prefix path.Path) {
	var init AnnounceInit
	if err := r.Message(func(sub *wire.Reader) error {
		v, err := decodeAnnounceInit(sub)
		init = v
		return err
	}); err != nil {
		return
	}
	for _, suffix := range init.Suffixes {
		_ = prod.Announce(cache.Announcement{Path: path.Join(prefix, path.From(suffix)), Active: true})
	}

	for {
		var a Announce
		err := r.Message(func(sub *wire.Reader) error {
			v, err := decodeAnnounce(sub)
			a = v
			return err
		})
		if err != nil {
			if err != io.EOF {
				s.log.Warn("lite: announce stream read failed", "err", err)
			}
			prod.Close()
			return
		}
		_ = prod.Announce(cache.Announcement{Path: path.Join(prefix, path.From(a.Suffix)), Active: a.Active})
	}
}
