// Package cache implements the in-memory producer/consumer model described
// by the core: Broadcasts of named Tracks, Tracks of sequenced Groups,
// Groups of append-only Frames, and a separate Announcement stream for
// broadcast-path availability. It has no notion of the wire: dialect
// engines translate wire messages into calls on this package and vice
// versa.
//
// The refcounting and wakeup machinery mirrors the teacher pack's
// subscriber/ring-buffer fanout (vinq1911-nonchalant's internal/core/bus)
// generalized from "one media message type" to the cache's four object
// kinds, using internal/watch in place of bus's atomic ring buffer cursors.
package cache

import "errors"

// Sentinel errors surfaced by cache objects. Named the way the teacher
// pack names its moq sentinels (internal/moq/errors.go), so dialect
// engines can errors.Is against them when mapping to wire error codes.
var (
	// ErrClosed is returned by writes on a closed producer-side object.
	ErrClosed = errors.New("cache: write on closed object")
	// ErrUnknownTrack is returned when a broadcast has no track by that
	// name and no unknown-track callback is registered.
	ErrUnknownTrack = errors.New("cache: unknown track")
	// ErrNoGroup is returned by the Track convenience writers when no
	// group has been appended yet.
	ErrNoGroup = errors.New("cache: track has no current group")
	// ErrDuplicateActive is returned by AnnouncedProducer.Announce when a
	// path is announced active twice without an intervening inactive.
	ErrDuplicateActive = errors.New("cache: duplicate active announcement")
	// ErrUnknownInactive is returned by AnnouncedProducer.Announce when a
	// path is announced inactive without ever having been active.
	ErrUnknownInactive = errors.New("cache: inactive announcement for unannounced path")
)
