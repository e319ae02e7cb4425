package session

import (
	"fmt"

	"github.com/moqlite/moqlite/internal/wire"
)

// Compatibility stream id bytes: the very first byte written on the
// session's initial bidirectional stream, before either dialect's own
// handshake runs. 0x40 begins the client's version offer, 0x41 the
// server's selection (spec §4.6, §6).
const (
	CompatClient byte = 0x40
	CompatServer byte = 0x41
)

// Version identifiers for the two dialects this engine supports (spec
// §6). LiteVersion is this engine's own native wire format; IetfVersion
// must match the restricted moq-transport-07 profile's ietf.Version
// constant so a server that selects it gets exactly the dialect this
// engine implements.
const (
	LiteVersion uint32 = 0xff0dad01
	IetfVersion uint32 = 0xff000007
)

// SessionClient is sent once, immediately after the CompatClient byte,
// offering every protocol version (and opaque per-version extension
// bytes) this client supports.
type SessionClient struct {
	Versions   []uint32
	Extensions map[uint32][]byte
}

func (m SessionClient) encode(w *wire.MessageWriter) {
	w.U53(uint64(len(m.Versions)))
	for _, v := range m.Versions {
		w.U62(uint64(v))
	}
	w.U53(uint64(len(m.Extensions)))
	for id, ext := range m.Extensions {
		w.U62(uint64(id))
		w.U53(uint64(len(ext)))
		w.Write(ext)
	}
}

func decodeSessionClient(r *wire.Reader) (SessionClient, error) {
	var m SessionClient
	n, err := r.U53()
	if err != nil {
		return m, fmt.Errorf("versions count: %w", err)
	}
	m.Versions = make([]uint32, n)
	for i := range m.Versions {
		v, err := r.U62()
		if err != nil {
			return m, fmt.Errorf("version %d: %w", i, err)
		}
		m.Versions[i] = uint32(v)
	}
	extCount, err := r.U53()
	if err != nil {
		return m, fmt.Errorf("extension count: %w", err)
	}
	if extCount > 0 {
		m.Extensions = make(map[uint32][]byte, extCount)
	}
	for i := uint64(0); i < extCount; i++ {
		id, err := r.U62()
		if err != nil {
			return m, fmt.Errorf("extension %d id: %w", i, err)
		}
		n, err := r.U53()
		if err != nil {
			return m, fmt.Errorf("extension %d length: %w", i, err)
		}
		buf := make([]byte, n)
		if _, err := r.Read(buf); err != nil {
			return m, fmt.Errorf("extension %d body: %w", i, err)
		}
		m.Extensions[uint32(id)] = buf
	}
	return m, nil
}

// SessionServer replies with the single version the server selected.
type SessionServer struct {
	Version    uint32
	Extensions map[uint32][]byte
}

func (m SessionServer) encode(w *wire.MessageWriter) {
	w.U62(uint64(m.Version))
	w.U53(uint64(len(m.Extensions)))
	for id, ext := range m.Extensions {
		w.U62(uint64(id))
		w.U53(uint64(len(ext)))
		w.Write(ext)
	}
}

func decodeSessionServer(r *wire.Reader) (SessionServer, error) {
	var m SessionServer
	v, err := r.U62()
	if err != nil {
		return m, fmt.Errorf("version: %w", err)
	}
	m.Version = uint32(v)
	extCount, err := r.U53()
	if err != nil {
		return m, fmt.Errorf("extension count: %w", err)
	}
	if extCount > 0 {
		m.Extensions = make(map[uint32][]byte, extCount)
	}
	for i := uint64(0); i < extCount; i++ {
		id, err := r.U62()
		if err != nil {
			return m, fmt.Errorf("extension %d id: %w", i, err)
		}
		n, err := r.U53()
		if err != nil {
			return m, fmt.Errorf("extension %d length: %w", i, err)
		}
		buf := make([]byte, n)
		if _, err := r.Read(buf); err != nil {
			return m, fmt.Errorf("extension %d body: %w", i, err)
		}
		m.Extensions[uint32(id)] = buf
	}
	return m, nil
}
