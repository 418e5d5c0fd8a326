package sync

import (
	"context"
	"strconv"
	stdsync "sync"
	"time"

	"github.com/heimchen/bossboard/cache"
	"go.uber.org/zap"
)

// EventChannel is the pub/sub channel carrying quota change frames.
// Routing every publish through the bus gives cross-process delivery for
// free when Redis is configured; the default local bus stays in-memory.
const EventChannel = "quota_events"

// versionKey is the cache key holding the last-change marker for one
// boss date, read by the polling fallback.
func versionKey(bossDate string) string {
	return "quota_ver:" + bossDate
}

// Sink is one live connection's write capability. Write must not block
// indefinitely; an error marks the connection dead and detaches it.
type Sink interface {
	Write(Frame) error
	Close()
}

type sinkEntry struct {
	sink Sink
	// bossDate filters quota_update delivery; empty receives all dates.
	bossDate string
}

// Hub owns the process-wide set of live sinks. It is the only shared
// mutable structure in the server: mutated on attach, detach, and
// write-failure removal during fan-out. Publish failures for one sink
// never affect the others and never reach the mutation that triggered
// the event.
type Hub struct {
	mu     stdsync.Mutex
	sinks  map[Sink]sinkEntry
	pubsub cache.PubSub
	cache  cache.Cache
	logger *zap.Logger
	unsub  func()
}

// NewHub creates a Hub and starts ingesting frames from the event bus.
func NewHub(ps cache.PubSub, c cache.Cache, logger *zap.Logger) (*Hub, error) {
	h := &Hub{
		sinks:  make(map[Sink]sinkEntry),
		pubsub: ps,
		cache:  c,
		logger: logger,
	}
	msgCh, unsub, err := ps.Subscribe(context.Background(), EventChannel)
	if err != nil {
		return nil, err
	}
	h.unsub = unsub
	go h.run(msgCh)
	return h, nil
}

func (h *Hub) run(msgCh <-chan *cache.Message) {
	for msg := range msgCh {
		frame, err := DecodeFrame([]byte(msg.Payload))
		if err != nil {
			h.logger.Warn("dropping malformed event frame", zap.Error(err))
			continue
		}
		h.fanout(frame)
	}
}

// Attach registers a sink filtered by boss date (empty = all dates).
func (h *Hub) Attach(bossDate string, s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[s] = sinkEntry{sink: s, bossDate: bossDate}
}

// Detach removes a sink. Safe to call for a sink already removed by a
// fan-out failure.
func (h *Hub) Detach(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sinks, s)
}

// Count returns the number of attached sinks.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sinks)
}

// fanout delivers a frame to every matching sink. The sink set is
// snapshotted under the lock and written outside it, so a slow write
// cannot stall concurrent attach/detach; failed sinks are removed
// afterwards (self-healing membership, no separate garbage collector).
func (h *Hub) fanout(frame Frame) {
	h.mu.Lock()
	targets := make([]sinkEntry, 0, len(h.sinks))
	for _, e := range h.sinks {
		if frame.BossDate != "" && e.bossDate != "" && e.bossDate != frame.BossDate {
			continue
		}
		targets = append(targets, e)
	}
	h.mu.Unlock()

	var dead []Sink
	for _, e := range targets {
		if err := e.sink.Write(frame); err != nil {
			h.logger.Debug("detaching dead sink",
				zap.String("boss_date", e.bossDate), zap.Error(err))
			dead = append(dead, e.sink)
		}
	}
	if len(dead) > 0 {
		h.mu.Lock()
		for _, s := range dead {
			delete(h.sinks, s)
		}
		h.mu.Unlock()
		for _, s := range dead {
			s.Close()
		}
	}
}

// Publish routes a frame through the event bus to every hub instance.
// Returns the bus error; callers on the mutation path use
// NotifyQuotaChange instead, which swallows it.
func (h *Hub) Publish(ctx context.Context, frame Frame) error {
	payload, err := frame.Encode()
	if err != nil {
		return err
	}
	return h.pubsub.Publish(ctx, EventChannel, string(payload))
}

// NotifyQuotaChange publishes a quota_update hint for one boss date and
// bumps the date's change-version key for polling clients. Best-effort:
// failures are logged and swallowed so broadcasting can never fail the
// mutating request that triggered it.
func (h *Hub) NotifyQuotaChange(ctx context.Context, bossDate string) {
	if err := h.Publish(ctx, QuotaUpdate(bossDate)); err != nil {
		h.logger.Error("quota change broadcast failed",
			zap.String("boss_date", bossDate), zap.Error(err))
	}
	ver := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := h.cache.Set(ctx, versionKey(bossDate), ver, 48*time.Hour); err != nil {
		h.logger.Error("quota version bump failed",
			zap.String("boss_date", bossDate), zap.Error(err))
	}
}

// Version returns the change-version marker for one boss date, or ""
// when no change has been recorded. Polling clients compare successive
// values to decide whether a refetch is worthwhile.
func (h *Hub) Version(ctx context.Context, bossDate string) string {
	v, err := h.cache.Get(ctx, versionKey(bossDate))
	if err != nil {
		return ""
	}
	return v
}

// Close stops bus ingestion and closes every attached sink.
func (h *Hub) Close() {
	if h.unsub != nil {
		h.unsub()
	}
	h.mu.Lock()
	sinks := make([]Sink, 0, len(h.sinks))
	for s := range h.sinks {
		sinks = append(sinks, s)
	}
	h.sinks = make(map[Sink]sinkEntry)
	h.mu.Unlock()
	for _, s := range sinks {
		s.Close()
	}
}
