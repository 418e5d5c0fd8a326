package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"testing"
	"time"

	"github.com/heimchen/bossboard/apperror"
	"github.com/heimchen/bossboard/model"
	"github.com/heimchen/bossboard/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectFrame(t *testing.T, frames <-chan sync.Frame) sync.Frame {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "stream closed early")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame arrived")
		return sync.Frame{}
	}
}

func TestPollUpdates_InitialThenPingThenChange(t *testing.T) {
	f := newFakeServer(t)
	f.setRegs([]model.RegistrationWithGuild{seedRow(1)})

	p := NewPollUpdates(New(f.srv.URL), 10*time.Millisecond)
	frames, stop, err := p.Subscribe(context.Background(), "2024-01-15")
	require.NoError(t, err)
	defer stop()

	first := collectFrame(t, frames)
	assert.Equal(t, sync.TypeInitialData, first.Type)

	// Unchanged payload: connectivity proof only, no re-render trigger.
	next := collectFrame(t, frames)
	assert.Equal(t, sync.TypePing, next.Type)

	f.setRegs([]model.RegistrationWithGuild{seedRow(2)})
	deadline := time.After(2 * time.Second)
	for {
		select {
		case fr := <-frames:
			if fr.Type == sync.TypeInitialData {
				return
			}
			require.Equal(t, sync.TypePing, fr.Type)
		case <-deadline:
			t.Fatal("changed payload never produced a data frame")
		}
	}
}

func TestPollUpdates_UnreachableServerFailsSubscribe(t *testing.T) {
	p := NewPollUpdates(New("http://127.0.0.1:1"), 10*time.Millisecond)
	_, _, err := p.Subscribe(context.Background(), "2024-01-15")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeChannelError, apperror.CodeOf(err))
}

func TestPollUpdates_DataErrorIsErrorFrame(t *testing.T) {
	var mu stdsync.Mutex
	failing := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fail := failing
		mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "db gone", "code": apperror.CodeStoreUnavailable,
			})
			return
		}
		json.NewEncoder(w).Encode([]model.RegistrationWithGuild{seedRow(1)})
	}))
	t.Cleanup(srv.Close)

	p := NewPollUpdates(New(srv.URL), 10*time.Millisecond)
	frames, stop, err := p.Subscribe(context.Background(), "2024-01-15")
	require.NoError(t, err)
	defer stop()

	assert.Equal(t, sync.TypeInitialData, collectFrame(t, frames).Type)

	mu.Lock()
	failing = true
	mu.Unlock()
	assert.Equal(t, sync.TypeError, collectFrame(t, frames).Type)

	// The server answered, so the subscription survives; recovery is a
	// plain data frame, not a reconnect.
	mu.Lock()
	failing = false
	mu.Unlock()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case fr, ok := <-frames:
			require.True(t, ok, "data error must not end the stream")
			if fr.Type == sync.TypePing || fr.Type == sync.TypeInitialData {
				return
			}
		case <-deadline:
			t.Fatal("stream never recovered from the data error")
		}
	}
}

func TestPollUpdates_TransportLossClosesStream(t *testing.T) {
	f := newFakeServer(t)
	f.setRegs([]model.RegistrationWithGuild{seedRow(1)})

	p := NewPollUpdates(New(f.srv.URL), 10*time.Millisecond)
	frames, stop, err := p.Subscribe(context.Background(), "2024-01-15")
	require.NoError(t, err)
	defer stop()

	assert.Equal(t, sync.TypeInitialData, collectFrame(t, frames).Type)

	f.srv.Close()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("transport loss never closed the stream")
		}
	}
}

func TestPollUpdates_StopClosesStream(t *testing.T) {
	f := newFakeServer(t)
	p := NewPollUpdates(New(f.srv.URL), 10*time.Millisecond)
	frames, stop, err := p.Subscribe(context.Background(), "2024-01-15")
	require.NoError(t, err)

	collectFrame(t, frames)
	stop()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-frames:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

// sseTestServer speaks just enough of the stream protocol for the
// client side: one frame per data line.
func sseTestServer(t *testing.T, frames ...sync.Frame) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, f := range frames {
			payload, err := f.Encode()
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			fl.Flush()
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamUpdates_DecodesFrames(t *testing.T) {
	srv := sseTestServer(t,
		sync.InitialData([]model.RegistrationWithGuild{seedRow(1)}),
		sync.QuotaUpdate("2024-01-15"))

	s := NewStreamUpdates(New(srv.URL))
	frames, stop, err := s.Subscribe(context.Background(), "2024-01-15")
	require.NoError(t, err)
	defer stop()

	assert.Equal(t, sync.TypeInitialData, collectFrame(t, frames).Type)
	got := collectFrame(t, frames)
	assert.Equal(t, sync.TypeQuotaUpdate, got.Type)
	assert.Equal(t, "2024-01-15", got.BossDate)
}

func TestStreamUpdates_StopEndsStream(t *testing.T) {
	srv := sseTestServer(t, sync.Ping())
	s := NewStreamUpdates(New(srv.URL))
	frames, stop, err := s.Subscribe(context.Background(), "2024-01-15")
	require.NoError(t, err)

	collectFrame(t, frames)
	stop()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-frames:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestStreamUpdates_RejectedOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	s := NewStreamUpdates(New(srv.URL))
	_, _, err := s.Subscribe(context.Background(), "bad-date")
	assert.Error(t, err)
}

func TestDetect_PicksStreamWhenAvailable(t *testing.T) {
	srv := sseTestServer(t, sync.Ping())
	live := Detect(context.Background(), New(srv.URL), time.Second)
	assert.IsType(t, &StreamUpdates{}, live)
}

func TestDetect_FallsBackToPolling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	live := Detect(context.Background(), New(srv.URL), time.Second)
	assert.IsType(t, &PollUpdates{}, live)

	live = Detect(context.Background(), New("http://127.0.0.1:1"), time.Second)
	assert.IsType(t, &PollUpdates{}, live)
}
