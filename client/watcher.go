package client

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"time"

	"github.com/heimchen/bossboard/model"
	"github.com/heimchen/bossboard/sync"
)

// Reconnect policy defaults.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 30 * time.Second
	DefaultMaxAttempts = 5
)

// State is the watcher's UI-facing surface: the current list plus the
// loading, connectivity, and error flags a dashboard renders from.
// ConnectionLost is distinct from Err: the first means the live channel
// is down, the second that a data fetch failed.
type State struct {
	Registrations []model.RegistrationWithGuild
	Loading       bool
	Connected     bool
	// Terminal is set when every reconnect attempt has been spent; only
	// an explicit Reconnect clears it.
	Terminal       bool
	ConnectionLost bool
	Err            string
}

// Watcher drives the registration list for one boss date: it consumes a
// LiveUpdates stream, refetches authoritative state on every update
// hint, and reconnects with exponential backoff when the stream dies.
type Watcher struct {
	client   *Client
	live     LiveUpdates
	bossDate string

	backoffBase time.Duration
	backoffCap  time.Duration
	maxAttempts int

	mu      stdsync.Mutex
	state   State
	onState func(State)

	reconnectCh chan struct{}
	cancel      context.CancelFunc
	done        chan struct{}
	closeOnce   stdsync.Once
}

// WatcherOption adjusts watcher construction.
type WatcherOption func(*Watcher)

// WithBackoff overrides the reconnect policy.
func WithBackoff(base, cap time.Duration, maxAttempts int) WatcherOption {
	return func(w *Watcher) {
		w.backoffBase = base
		w.backoffCap = cap
		w.maxAttempts = maxAttempts
	}
}

// WithStateFunc registers a callback invoked after every state change.
// Called from the watcher goroutine; the callback must not block.
func WithStateFunc(fn func(State)) WatcherOption {
	return func(w *Watcher) { w.onState = fn }
}

// NewWatcher creates and starts a watcher for one boss date.
func NewWatcher(c *Client, live LiveUpdates, bossDate string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		client:      c,
		live:        live,
		bossDate:    bossDate,
		backoffBase: DefaultBackoffBase,
		backoffCap:  DefaultBackoffCap,
		maxAttempts: DefaultMaxAttempts,
		state:       State{Loading: true},
		reconnectCh: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
	return w
}

// State returns a snapshot of the current watcher state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Reconnect resets the attempt counter and forces an immediate
// reconnect. This is the manual affordance behind a "reconnect" button
// after the watcher went terminal.
func (w *Watcher) Reconnect() {
	select {
	case w.reconnectCh <- struct{}{}:
	default:
	}
}

// Close tears the watcher down deterministically: the stream is
// released and the run loop exits before Close returns.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.cancel()
		<-w.done
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		frames, stop, err := w.live.Subscribe(ctx, w.bossDate)
		if err != nil {
			attempt++
			if !w.waitRetry(ctx, &attempt) {
				return
			}
			continue
		}

		attempt = 0
		w.update(func(s *State) {
			s.Connected = true
			s.ConnectionLost = false
			s.Terminal = false
		})
		manual := w.consume(ctx, frames)
		stop()
		if ctx.Err() != nil {
			return
		}
		if manual {
			// The user asked for a fresh stream while this one was
			// healthy: resubscribe at once, no failure bookkeeping.
			continue
		}

		// Stream ended without cancellation: connection lost.
		attempt++
		w.update(func(s *State) {
			s.Connected = false
			s.ConnectionLost = true
		})
		if !w.waitRetry(ctx, &attempt) {
			return
		}
	}
}

// consume processes frames until the stream closes or ctx is done.
// Returns true when the stream was dropped by a manual reconnect rather
// than by the transport.
func (w *Watcher) consume(ctx context.Context, frames <-chan sync.Frame) bool {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return false
			}
			w.apply(ctx, frame)
		case <-ctx.Done():
			return false
		case <-w.reconnectCh:
			return true
		}
	}
}

func (w *Watcher) apply(ctx context.Context, frame sync.Frame) {
	switch frame.Type {
	case sync.TypeInitialData:
		regs, err := decodeRegistrations(frame.Data)
		if err != nil {
			w.update(func(s *State) { s.Err = "malformed snapshot" })
			return
		}
		w.update(func(s *State) {
			s.Registrations = regs
			s.Loading = false
			s.Err = ""
		})
	case sync.TypeQuotaUpdate:
		w.Refetch(ctx)
	case sync.TypeError:
		// Server-side fetch failure on an open channel: fall back to a
		// direct fetch rather than showing a dead view.
		w.update(func(s *State) { s.Err = frame.Message })
		w.Refetch(ctx)
	case sync.TypePing:
		// Liveness only.
	}
}

// Refetch pulls the authoritative list and replaces local state. A
// failure sets the data-fetch error flag without touching connectivity.
func (w *Watcher) Refetch(ctx context.Context) {
	regs, err := w.client.Registrations(ctx, w.bossDate)
	if err != nil {
		w.update(func(s *State) { s.Err = err.Error() })
		return
	}
	w.update(func(s *State) {
		s.Registrations = regs
		s.Loading = false
		s.Err = ""
	})
}

// waitRetry sleeps the backoff delay for the given attempt, or parks in
// the terminal state once attempts are exhausted. Returns false only on
// shutdown. A manual reconnect resets the counter in both cases.
func (w *Watcher) waitRetry(ctx context.Context, attempt *int) bool {
	if *attempt > w.maxAttempts {
		w.update(func(s *State) {
			s.Terminal = true
			s.Connected = false
			s.ConnectionLost = true
		})
		select {
		case <-w.reconnectCh:
			*attempt = 0
			w.update(func(s *State) { s.Terminal = false })
			return true
		case <-ctx.Done():
			return false
		}
	}

	delay := w.backoffCap
	if shift := *attempt - 1; shift < 16 {
		if d := w.backoffBase << shift; d < delay {
			delay = d
		}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.reconnectCh:
		*attempt = 0
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Watcher) update(mutate func(*State)) {
	w.mu.Lock()
	mutate(&w.state)
	snapshot := w.state
	cb := w.onState
	w.mu.Unlock()
	if cb != nil {
		cb(snapshot)
	}
}

// decodeRegistrations converts a frame's generic data payload back into
// typed rows. Frames arrive as decoded JSON, so the payload is
// round-tripped through the encoder.
func decodeRegistrations(data interface{}) ([]model.RegistrationWithGuild, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	regs := make([]model.RegistrationWithGuild, 0)
	if err := json.Unmarshal(raw, &regs); err != nil {
		return nil, err
	}
	return regs, nil
}
