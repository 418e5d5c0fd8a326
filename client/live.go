package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/heimchen/bossboard/apperror"
	"github.com/heimchen/bossboard/sync"
)

// LiveUpdates is the single abstraction over both update strategies:
// the push stream and the polling fallback. The watcher consumes frames
// through this interface and never branches on the transport.
type LiveUpdates interface {
	// Subscribe opens an update stream for one boss date. The returned
	// stop function tears the stream down deterministically; after stop
	// returns no further frames are delivered and the channel is closed.
	Subscribe(ctx context.Context, bossDate string) (<-chan sync.Frame, func(), error)
}

// StreamUpdates is the push-driven LiveUpdates implementation over the
// server's SSE endpoint.
type StreamUpdates struct {
	client *Client
}

// NewStreamUpdates creates the SSE-backed strategy.
func NewStreamUpdates(c *Client) *StreamUpdates {
	return &StreamUpdates{client: c}
}

// Subscribe opens the event stream and decodes one frame per SSE data
// line. Transport failure closes the frame channel; reconnecting is the
// watcher's job, not this layer's.
func (s *StreamUpdates) Subscribe(ctx context.Context, bossDate string) (<-chan sync.Frame, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.client.BaseURL()+"/api/events?bossDate="+bossDate, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout: the stream is long-lived by design.
	hc := &http.Client{Transport: s.client.http.Transport}
	resp, err := hc.Do(req)
	if err != nil {
		cancel()
		return nil, nil, apperror.ChannelError(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, nil, apperror.ChannelError(fmt.Errorf("stream open: http %d", resp.StatusCode))
	}

	frames := make(chan sync.Frame)
	go func() {
		defer close(frames)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			frame, err := sync.DecodeFrame(bytes.TrimPrefix(line, []byte("data: ")))
			if err != nil {
				continue
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, cancel, nil
}

// PollUpdates is the fallback LiveUpdates implementation: it refetches
// the registration list on a fixed interval and synthesizes frames so
// the watcher sees the same contract as the push stream. An unchanged
// payload produces a ping (connectivity proof) instead of data, so the
// consumer only re-renders on real change.
type PollUpdates struct {
	client   *Client
	interval time.Duration
}

// NewPollUpdates creates the polling strategy. interval <= 0 defaults
// to 2 seconds.
func NewPollUpdates(c *Client, interval time.Duration) *PollUpdates {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollUpdates{client: c, interval: interval}
}

// Subscribe runs the first fetch synchronously, so a subscription only
// exists while the server is reachable. A transport failure mid-loop
// closes the frame channel, which the watcher handles exactly like a
// dropped push stream; a non-transport failure (the server answered,
// connectivity is fine) surfaces as an error frame and polling goes on.
func (p *PollUpdates) Subscribe(ctx context.Context, bossDate string) (<-chan sync.Frame, func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	regs, err := p.client.Registrations(ctx, bossDate)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	last, err := json.Marshal(regs)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	frames := make(chan sync.Frame)
	go func() {
		defer close(frames)
		emit := func(f sync.Frame) bool {
			select {
			case frames <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit(sync.InitialData(regs)) {
			return
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
			cur, err := p.client.Registrations(ctx, bossDate)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if apperror.CodeOf(err) == apperror.CodeChannelError {
					return
				}
				if !emit(sync.ErrorFrame(err.Error())) {
					return
				}
				continue
			}
			payload, err := json.Marshal(cur)
			if err != nil {
				continue
			}
			if bytes.Equal(payload, last) {
				if !emit(sync.Ping()) {
					return
				}
				continue
			}
			last = payload
			if !emit(sync.InitialData(cur)) {
				return
			}
		}
	}()
	return frames, cancel, nil
}

// Detect probes the server's stream endpoint once and picks the best
// available strategy: the push stream when the server answers with an
// event stream, the poller otherwise. The duality lives here, not in
// the consumer.
func Detect(ctx context.Context, c *Client, pollInterval time.Duration) LiveUpdates {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet,
		c.BaseURL()+"/api/events?bossDate="+probeDate(), nil)
	if err != nil {
		return NewPollUpdates(c, pollInterval)
	}
	req.Header.Set("Accept", "text/event-stream")
	hc := &http.Client{Transport: c.http.Transport}
	resp, err := hc.Do(req)
	if err != nil {
		return NewPollUpdates(c, pollInterval)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK &&
		strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return NewStreamUpdates(c)
	}
	return NewPollUpdates(c, pollInterval)
}

func probeDate() string {
	return time.Now().UTC().Format("2006-01-02")
}
