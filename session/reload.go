package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ReloadState is one of Reload's three states (spec §4.6).
type ReloadState int

const (
	StateDisconnected ReloadState = iota
	StateConnecting
	StateConnected
)

func (s ReloadState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ReloadOptions configures the exponential backoff schedule (spec §4.6,
// §6 defaults).
type ReloadOptions struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// DefaultReloadOptions returns the spec's documented defaults: 1s
// initial delay, doubling, capped at 30s.
func DefaultReloadOptions() ReloadOptions {
	return ReloadOptions{Initial: time.Second, Multiplier: 2, Max: 30 * time.Second}
}

// Reload drives a single session URL through repeated Connect attempts,
// reconnecting with exponential backoff whenever the current Connection
// fails or closes (spec §4.6). It is the long-lived object a caller
// holds instead of a bare Connection when it wants auto-reconnect.
type Reload struct {
	url     string
	connect ConnectOptions
	backoff ReloadOptions
	log     *slog.Logger

	mu      sync.Mutex
	state   ReloadState
	enabled bool
	current *Connection
	cancel  context.CancelFunc

	stateCh chan ReloadState
}

// NewReload constructs a Reload driver. Call Start to begin connecting.
func NewReload(url string, connect ConnectOptions, backoff ReloadOptions) *Reload {
	log := connect.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reload{
		url:     url,
		connect: connect,
		backoff: backoff,
		log:     log.With("url", url),
		stateCh: make(chan ReloadState, 1),
	}
}

// Start transitions enabled∧url -> connecting and begins the retry loop.
// Calling Start twice is a no-op while already running.
func (r *Reload) Start(ctx context.Context) {
	r.mu.Lock()
	if r.enabled {
		r.mu.Unlock()
		return
	}
	r.enabled = true
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	go r.run(runCtx)
}

// Stop disables the driver: disable -> disconnected (cancel pending).
func (r *Reload) Stop() {
	r.mu.Lock()
	r.enabled = false
	cancel := r.cancel
	current := r.current
	r.current = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if current != nil {
		current.Close()
	}
	r.setState(StateDisconnected)
}

// State returns the current state.
func (r *Reload) State() ReloadState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// StateChanges yields the most recent state on every transition; it is a
// best-effort observer, not a queue (a slow reader only sees the latest
// value).
func (r *Reload) StateChanges() <-chan ReloadState { return r.stateCh }

// Connection returns the currently active Connection, or nil while
// disconnected or connecting.
func (r *Reload) Connection() *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Reload) setState(s ReloadState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	select {
	case r.stateCh <- s:
	default:
		select {
		case <-r.stateCh:
		default:
		}
		select {
		case r.stateCh <- s:
		default:
		}
	}
}

// normalizeBackoff fills in the spec's documented defaults for any unset
// field.
func normalizeBackoff(o ReloadOptions) ReloadOptions {
	if o.Initial <= 0 {
		o.Initial = time.Second
	}
	if o.Multiplier <= 1 {
		o.Multiplier = 2
	}
	if o.Max <= 0 {
		o.Max = 30 * time.Second
	}
	return o
}

// nextDelay advances the backoff delay by the configured multiplier,
// capped at Max (spec §4.6, §8 scenario 5).
func nextDelay(delay time.Duration, o ReloadOptions) time.Duration {
	delay = time.Duration(float64(delay) * o.Multiplier)
	if delay > o.Max {
		delay = o.Max
	}
	return delay
}

func (r *Reload) run(ctx context.Context) {
	backoff := normalizeBackoff(r.backoff)
	delay := backoff.Initial

	for {
		if ctx.Err() != nil {
			return
		}
		r.setState(StateConnecting)

		conn, err := Connect(ctx, r.url, r.connect)
		if err != nil {
			r.log.Warn("connect failed, retrying", "delay", delay, "err", err)
			r.setState(StateDisconnected)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay = nextDelay(delay, backoff)
			continue
		}

		delay = backoff.Initial

		r.mu.Lock()
		if !r.enabled {
			r.mu.Unlock()
			conn.Close()
			return
		}
		r.current = conn
		r.mu.Unlock()
		r.setState(StateConnected)

		select {
		case <-conn.Closed():
		case <-ctx.Done():
			conn.Close()
			return
		}

		r.mu.Lock()
		r.current = nil
		enabled := r.enabled
		r.mu.Unlock()
		if !enabled {
			return
		}
		r.setState(StateDisconnected)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}
