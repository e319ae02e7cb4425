package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/moqlite/moqlite/internal/cache"
	"github.com/moqlite/moqlite/internal/devcert"
	"github.com/moqlite/moqlite/internal/dialect/ietf"
	"github.com/moqlite/moqlite/internal/dialect/lite"
	"github.com/moqlite/moqlite/internal/path"
	"github.com/moqlite/moqlite/internal/transport"
	"github.com/moqlite/moqlite/internal/wire"
	"github.com/moqlite/moqlite/transport/webtransport"
	"github.com/moqlite/moqlite/transport/wsquic"
)

// WebSocketOptions configures the WebSocket-tunnel fallback half of the
// dial race (spec §6 `websocket`).
type WebSocketOptions struct {
	// Enabled gates whether the WebSocket fallback is attempted at all.
	Enabled bool
	// URL overrides the default http(s)->ws(s) scheme-swapped derivation
	// of the session URL.
	URL *url.URL
	// Delay is the head start given to the WebTransport attempt before
	// the WebSocket dial begins, unless WebSocket has already won a
	// previous connection to this URL.
	Delay time.Duration
}

// ConnectOptions bundles every dial-race and transport-specific knob
// (spec §6), mirroring the teacher's ServerConfig/MoQSessionConfig
// struct-of-structs shape in internal/distribution.
type ConnectOptions struct {
	WebTransport webtransport.Options
	WebSocket    WebSocketOptions
	Logger       *slog.Logger
}

// DefaultConnectOptions returns the spec's documented defaults: 200ms
// WebSocket head start, WebSocket enabled.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		WebSocket: WebSocketOptions{Enabled: true, Delay: 200 * time.Millisecond},
	}
}

// wsWon remembers, per session URL, whether the WebSocket tunnel won a
// previous dial race, so a subsequent Connect skips the head-start delay
// (spec §8 scenario 6).
var wsWon sync.Map // map[string]bool

// Connect races a WebTransport dial against a WebSocket-tunneled
// emulation, negotiates a dialect version on the winner's session
// stream, and returns a running Connection (spec §2, §4.6, §6).
func Connect(ctx context.Context, rawURL string, opts ConnectOptions) (*Connection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("session: parse url: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("url", rawURL)

	raceCtx, cancelLosers := context.WithCancel(ctx)

	type result struct {
		conn transport.Session
		err  error
		name string
	}
	results := make(chan result, 2)

	go func() {
		conn, err := dialWebTransport(raceCtx, u, opts.WebTransport)
		results <- result{conn, err, "webtransport"}
	}()

	wsEnabled := true
	if !opts.WebSocket.Enabled {
		wsEnabled = false
	}
	if wsEnabled {
		delay := opts.WebSocket.Delay
		if delay == 0 {
			delay = 200 * time.Millisecond
		}
		if won, _ := wsWon.Load(rawURL); won == true {
			delay = 0
		}
		go func() {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-raceCtx.Done():
					results <- result{nil, raceCtx.Err(), "websocket"}
					return
				}
			}
			wsURL := opts.WebSocket.URL
			if wsURL == nil {
				wsURL = deriveWebSocketURL(u)
			}
			conn, err := wsquic.Dial(raceCtx, wsURL, wsquic.Options{})
			results <- result{conn, err, "websocket"}
		}()
	}

	expected := 1
	if wsEnabled {
		expected = 2
	}

	var winner result
	var errs []error
	remaining := expected
	for remaining > 0 && winner.conn == nil {
		r := <-results
		remaining--
		if r.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.name, r.err))
			continue
		}
		winner = r
	}
	cancelLosers()
	if remaining > 0 {
		// The loser's dial observes raceCtx's cancellation; reap its
		// result so a late success doesn't leak an open session.
		go func(n int) {
			for i := 0; i < n; i++ {
				if r := <-results; r.conn != nil {
					r.conn.CloseWithError(transport.ErrCanceled, "lost dial race")
				}
			}
		}(remaining)
	}

	if winner.conn == nil {
		if len(errs) == 0 {
			return nil, ErrNoTransport
		}
		combined := ErrNoTransport
		for _, e := range errs {
			combined = fmt.Errorf("%w; %v", combined, e)
		}
		return nil, combined
	}
	if winner.name == "websocket" {
		wsWon.Store(rawURL, true)
	} else {
		wsWon.Store(rawURL, false)
	}

	eng, err := negotiate(ctx, winner.conn, u, log)
	if err != nil {
		winner.conn.CloseWithError(transport.ErrProtocol, "setup failed")
		return nil, err
	}

	return newConnection(rawURL, winner.conn, eng, log), nil
}

// dialWebTransport performs the insecure-dev-URL rewrite described in
// spec §4.6: an http:// session URL is treated as a local dev server
// that also serves its self-signed certificate's SHA-256 fingerprint
// over plain HTTP, at /certificate.sha256 on the session URL's host.
func dialWebTransport(ctx context.Context, u *url.URL, opts webtransport.Options) (transport.Session, error) {
	dialURL := *u
	if u.Scheme == "http" {
		fingerprintURL := (&url.URL{Scheme: "http", Host: u.Host, Path: "/certificate.sha256"}).String()
		hash, err := devcert.FetchFingerprint(ctx, fingerprintURL)
		if err != nil {
			return nil, fmt.Errorf("fetch dev certificate fingerprint: %w", err)
		}
		opts.ServerCertificateHashes = append(opts.ServerCertificateHashes, hash)
		dialURL.Scheme = "https"
	}
	return webtransport.Dial(ctx, &dialURL, opts)
}

// deriveWebSocketURL swaps http(s) for ws(s), keeping host and path, the
// default fallback URL absent an explicit WebSocketOptions.URL.
func deriveWebSocketURL(u *url.URL) *url.URL {
	ws := *u
	switch u.Scheme {
	case "https":
		ws.Scheme = "wss"
	default:
		ws.Scheme = "ws"
	}
	return &ws
}

// engine is the dialect-agnostic surface session.Connection drives; both
// internal/dialect/lite.Session and internal/dialect/ietf.Session
// implement it with identical method signatures (spec §4.4, §4.5), so
// negotiate only needs to pick which constructor to call.
type engine interface {
	Run(ctx context.Context) error
	Publish(p path.Path, bcast *cache.BroadcastConsumer) error
	Consume(p path.Path) *cache.BroadcastConsumer
	Announced(ctx context.Context, prefix path.Path) (*cache.AnnouncedConsumer, error)
	Closed() bool
	Close() error
}

func negotiate(ctx context.Context, conn transport.Session, u *url.URL, log *slog.Logger) (engine, error) {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: open session stream: %w", err)
	}
	w := wire.NewWriter(stream)
	r := wire.NewReader(stream)

	if err := w.U8(CompatClient); err != nil {
		return nil, fmt.Errorf("session: write compat id: %w", err)
	}
	client := SessionClient{Versions: []uint32{LiteVersion, IetfVersion}}
	if err := w.Message(func(m *wire.MessageWriter) { client.encode(m) }); err != nil {
		return nil, fmt.Errorf("session: write session client: %w", err)
	}

	compatID, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("session: read compat id: %w", err)
	}
	if compatID != CompatServer {
		return nil, fmt.Errorf("session: expected compat server id %#x, got %#x", CompatServer, compatID)
	}
	var server SessionServer
	if err := r.Message(func(sub *wire.Reader) error {
		v, err := decodeSessionServer(sub)
		server = v
		return err
	}); err != nil {
		return nil, fmt.Errorf("session: read session server: %w", err)
	}

	root := path.From(u.Path)
	switch server.Version {
	case LiteVersion:
		return lite.NewSession(conn, log.With("dialect", "lite")), nil
	case IetfVersion:
		return ietf.NewSession(conn, log.With("dialect", "ietf"), true, root), nil
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnsupportedVersion, server.Version)
	}
}
