// Package moqlite implements a Media-over-QUIC pub/sub transport: named
// Broadcasts of Tracks, Tracks of sequenced Groups, Groups of
// append-only Frames, published and subscribed to over a session
// established with session.Connect. Two wire dialects are supported
// transparently to callers: this engine's own native format and a
// restricted profile of the IETF moq-transport-07 draft.
//
// The package itself is a thin re-export of internal/path,
// internal/cache, and session so callers depend on one import path; the
// implementation lives in those packages.
package moqlite

import (
	"context"

	"github.com/moqlite/moqlite/internal/cache"
	"github.com/moqlite/moqlite/internal/path"
	"github.com/moqlite/moqlite/session"
)

// Path re-exports.
type Path = path.Path

var (
	EmptyPath   = path.Empty
	PathFrom    = path.From
	HasPrefix   = path.HasPrefix
	StripPrefix = path.StripPrefix
	JoinPath    = path.Join
)

// Cache type re-exports.
type (
	Frame             = cache.Frame
	BroadcastProducer = cache.BroadcastProducer
	BroadcastConsumer = cache.BroadcastConsumer
	TrackProducer     = cache.TrackProducer
	TrackConsumer     = cache.TrackConsumer
	GroupProducer     = cache.GroupProducer
	GroupConsumer     = cache.GroupConsumer
	Announcement      = cache.Announcement
	AnnouncedProducer = cache.AnnouncedProducer
	AnnouncedConsumer = cache.AnnouncedConsumer
	UnknownTrackFunc  = cache.UnknownTrackFunc
)

var (
	NewBroadcast = cache.NewBroadcast
	NewTrack     = cache.NewTrack
	NewGroup     = cache.NewGroup
	NewAnnounced = cache.NewAnnounced
)

// Cache sentinel errors.
var (
	ErrClosed          = cache.ErrClosed
	ErrUnknownTrack    = cache.ErrUnknownTrack
	ErrNoGroup         = cache.ErrNoGroup
	ErrDuplicateActive = cache.ErrDuplicateActive
	ErrUnknownInactive = cache.ErrUnknownInactive
)

// Session type re-exports.
type (
	Connection       = session.Connection
	ConnectOptions   = session.ConnectOptions
	WebSocketOptions = session.WebSocketOptions
	ReloadOptions    = session.ReloadOptions
	Reload           = session.Reload
	ReloadState      = session.ReloadState
)

var (
	DefaultConnectOptions = session.DefaultConnectOptions
	DefaultReloadOptions  = session.DefaultReloadOptions
	NewReload             = session.NewReload
)

// Reload state re-exports.
const (
	ReloadDisconnected = session.StateDisconnected
	ReloadConnecting   = session.StateConnecting
	ReloadConnected    = session.StateConnected
)

// Session sentinel errors.
var (
	ErrNoTransport        = session.ErrNoTransport
	ErrUnsupportedVersion = session.ErrUnsupportedVersion
	ErrSessionClosed      = session.ErrClosed
)

// Connect races a WebTransport attempt against a WebSocket-tunneled
// fallback, negotiates a dialect version, and returns a live Connection
// (spec §6).
func Connect(ctx context.Context, url string, opts ConnectOptions) (*Connection, error) {
	return session.Connect(ctx, url, opts)
}
