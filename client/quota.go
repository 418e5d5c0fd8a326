package client

import (
	"context"
	stdsync "sync"
	"time"
)

// Apply phases for a quota adjustment. The speculative phase is the
// immediate local transition that keeps the UI responsive; the
// reconciled phase replaces it with server truth after a short delay,
// absorbing any correction (push delivery plus refetch has real
// latency, typically 100ms or more).
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSpeculative
	PhaseReconciled
)

func (p Phase) String() string {
	switch p {
	case PhaseSpeculative:
		return "speculative"
	case PhaseReconciled:
		return "reconciled"
	default:
		return "idle"
	}
}

// QuotaAdjuster runs mercenary add/remove mutations as an explicit
// two-phase state machine over a Watcher: mutate, apply the expected
// result locally at once, then refetch authoritative state after
// ReconcileDelay. Each phase transition is observable, so both phases
// can be asserted deterministically.
type QuotaAdjuster struct {
	client  *Client
	watcher *Watcher

	// ReconcileDelay is how long after the speculative apply the
	// authoritative refetch runs.
	ReconcileDelay time.Duration

	mu      stdsync.Mutex
	phase   Phase
	onPhase func(Phase)
	pending stdsync.WaitGroup
}

// NewQuotaAdjuster creates an adjuster bound to a watcher's state.
func NewQuotaAdjuster(c *Client, w *Watcher) *QuotaAdjuster {
	return &QuotaAdjuster{
		client:         c,
		watcher:        w,
		ReconcileDelay: 500 * time.Millisecond,
	}
}

// OnPhase registers a callback invoked on every phase transition.
func (a *QuotaAdjuster) OnPhase(fn func(Phase)) {
	a.mu.Lock()
	a.onPhase = fn
	a.mu.Unlock()
}

// Phase returns the current phase.
func (a *QuotaAdjuster) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// AddMercenary mutates, bumps the local quota count speculatively, and
// schedules reconciliation. A failed mutation skips the speculative
// phase and triggers an immediate resync instead of surfacing a modal
// error.
func (a *QuotaAdjuster) AddMercenary(ctx context.Context, registrationID, name string) error {
	if _, err := a.client.AddMercenary(ctx, registrationID, name); err != nil {
		a.watcher.Refetch(ctx)
		return err
	}
	a.speculate(registrationID, +1)
	a.scheduleReconcile(ctx)
	return nil
}

// RemoveMercenary mirrors AddMercenary for the removal path.
func (a *QuotaAdjuster) RemoveMercenary(ctx context.Context, mercenaryID, registrationID string) error {
	if err := a.client.RemoveMercenary(ctx, mercenaryID); err != nil {
		a.watcher.Refetch(ctx)
		return err
	}
	a.speculate(registrationID, -1)
	a.scheduleReconcile(ctx)
	return nil
}

// AdjustQuota sets the quota through the compare-and-swap endpoint. A
// conflict means another dashboard won the race; the resync then shows
// the winner's value, so the caller only needs to surface the error.
func (a *QuotaAdjuster) AdjustQuota(ctx context.Context, registrationID string, expected, value int) error {
	if _, err := a.client.CASUsedQuota(ctx, registrationID, expected, value); err != nil {
		a.watcher.Refetch(ctx)
		return err
	}
	a.speculateSet(registrationID, value)
	a.scheduleReconcile(ctx)
	return nil
}

// Wait blocks until every scheduled reconciliation has run.
func (a *QuotaAdjuster) Wait() {
	a.pending.Wait()
}

func (a *QuotaAdjuster) speculate(registrationID string, delta int) {
	a.watcher.update(func(s *State) {
		for i := range s.Registrations {
			if s.Registrations[i].ID == registrationID {
				v := s.Registrations[i].UsedQuotas + delta
				if v < 0 {
					v = 0
				}
				s.Registrations[i].UsedQuotas = v
			}
		}
	})
	a.setPhase(PhaseSpeculative)
}

func (a *QuotaAdjuster) speculateSet(registrationID string, value int) {
	a.watcher.update(func(s *State) {
		for i := range s.Registrations {
			if s.Registrations[i].ID == registrationID {
				s.Registrations[i].UsedQuotas = value
			}
		}
	})
	a.setPhase(PhaseSpeculative)
}

func (a *QuotaAdjuster) scheduleReconcile(ctx context.Context) {
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		select {
		case <-time.After(a.ReconcileDelay):
		case <-ctx.Done():
			return
		}
		a.watcher.Refetch(ctx)
		a.setPhase(PhaseReconciled)
	}()
}

func (a *QuotaAdjuster) setPhase(p Phase) {
	a.mu.Lock()
	a.phase = p
	cb := a.onPhase
	a.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}
