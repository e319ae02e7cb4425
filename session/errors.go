package session

import "errors"

// Sentinel errors for the taxonomy in spec §7, named the way the
// teacher pack names its sentinels (internal/moq/errors.go): flat
// errors.New values checked with errors.Is at call sites, one per error
// kind rather than a single generic "connect failed".
var (
	// ErrNoTransport is returned by Connect when no dial produced a
	// session: the WebTransport dial failed and the WebSocket tunnel was
	// either disabled or failed too (spec §7). Connect appends each
	// dial's error to its message.
	ErrNoTransport = errors.New("session: no usable transport")
	// ErrUnsupportedVersion is returned when the server's SessionServer
	// selects a version this client did not offer.
	ErrUnsupportedVersion = errors.New("session: server selected unsupported version")
	// ErrClosed is returned by Connection methods called after Close.
	ErrClosed = errors.New("session: connection is closed")
)
