package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend is a liveness endpoint whose status can be switched
type backend struct {
	*httptest.Server
	status atomic.Int32
	delay  atomic.Int64
	hits   atomic.Int32
	method atomic.Value
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	b.status.Store(http.StatusOK)
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		b.method.Store(r.Method)
		if d := time.Duration(b.delay.Load()); d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(int(b.status.Load()))
	}))
	t.Cleanup(b.Close)
	return b
}

type fakeSignal struct {
	online, known bool
	events        chan bool
}

func (f *fakeSignal) Current() (bool, bool) { return f.online, f.known }

func (f *fakeSignal) Watch(context.Context) <-chan bool { return f.events }

func TestNewMonitorInitialState(t *testing.T) {
	cfg := DefaultConfig("http://127.0.0.1:1/health")

	assert.True(t, NewMonitor(cfg, nil, nil).Online(), "optimistic without a signal")
	assert.True(t, NewMonitor(cfg, &fakeSignal{known: false}, nil).Online(), "optimistic when unknown")
	assert.False(t, NewMonitor(cfg, &fakeSignal{online: false, known: true}, nil).Online())
	assert.True(t, NewMonitor(cfg, &fakeSignal{online: true, known: true}, nil).Online())
}

func TestCheckNow(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected bool
	}{
		{"ok", http.StatusOK, true},
		{"no content", http.StatusNoContent, true},
		{"server error", http.StatusServiceUnavailable, false},
		{"not found", http.StatusNotFound, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			b.status.Store(int32(tt.status))

			m := NewMonitor(DefaultConfig(b.URL), nil, nil)
			assert.Equal(t, tt.expected, m.CheckNow(context.Background()))
			assert.Equal(t, tt.expected, m.Online())
			assert.Equal(t, http.MethodHead, b.method.Load())
		})
	}
}

func TestCheckNowUnreachable(t *testing.T) {
	b := newBackend(t)
	url := b.URL
	b.Close()

	m := NewMonitor(DefaultConfig(url), nil, nil)
	assert.False(t, m.CheckNow(context.Background()))
	assert.False(t, m.Online())
}

func TestProbeTimeout(t *testing.T) {
	b := newBackend(t)
	b.delay.Store(int64(2 * time.Second))

	cfg := DefaultConfig(b.URL)
	cfg.Timeout = 50 * time.Millisecond
	m := NewMonitor(cfg, nil, nil)

	start := time.Now()
	assert.False(t, m.CheckNow(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandleOfflineDoesNotProbe(t *testing.T) {
	b := newBackend(t)
	m := NewMonitor(DefaultConfig(b.URL), nil, nil)

	m.HandleOffline()
	assert.False(t, m.Online())
	assert.Zero(t, b.hits.Load())
}

func TestHandleOnlineRequiresProbe(t *testing.T) {
	b := newBackend(t)
	b.status.Store(http.StatusBadGateway)
	m := NewMonitor(DefaultConfig(b.URL), &fakeSignal{online: false, known: true}, nil)

	assert.False(t, m.HandleOnline(context.Background()))
	assert.False(t, m.Online())
	assert.Equal(t, int32(1), b.hits.Load())

	b.status.Store(http.StatusOK)
	assert.True(t, m.HandleOnline(context.Background()))
	assert.True(t, m.Online())
}

func TestSubscribeNotifiesChangesOnly(t *testing.T) {
	b := newBackend(t)
	m := NewMonitor(DefaultConfig(b.URL), nil, nil)

	var mu sync.Mutex
	var got []bool
	unsubscribe := m.Subscribe(func(online bool) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, online)
	})

	m.CheckNow(context.Background()) // still online
	m.HandleOffline()
	m.HandleOffline()
	m.CheckNow(context.Background())

	unsubscribe()
	m.HandleOffline()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, got)
}

func TestStartProbesPeriodically(t *testing.T) {
	b := newBackend(t)
	cfg := DefaultConfig(b.URL)
	cfg.Interval = 20 * time.Millisecond
	m := NewMonitor(cfg, nil, nil)

	m.Start(context.Background())
	defer m.Stop()

	b.status.Store(http.StatusInternalServerError)
	assert.Eventually(t, func() bool { return !m.Online() }, 2*time.Second, 10*time.Millisecond)

	b.status.Store(http.StatusOK)
	assert.Eventually(t, m.Online, 2*time.Second, 10*time.Millisecond)
}

func TestStartConsumesSignalEvents(t *testing.T) {
	b := newBackend(t)
	cfg := DefaultConfig(b.URL)
	cfg.Interval = time.Hour
	signal := &fakeSignal{online: true, known: true, events: make(chan bool)}
	m := NewMonitor(cfg, signal, nil)

	m.Start(context.Background())
	defer m.Stop()

	signal.events <- false
	assert.Eventually(t, func() bool { return !m.Online() }, time.Second, 5*time.Millisecond)
	assert.Zero(t, b.hits.Load())

	signal.events <- true
	assert.Eventually(t, m.Online, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), b.hits.Load())
}

func TestStopWithoutStart(t *testing.T) {
	m := NewMonitor(DefaultConfig("http://127.0.0.1:1"), nil, nil)
	require.NotPanics(t, m.Stop)
}

func TestInterfaceSignal(t *testing.T) {
	states := make(chan bool, 8)
	for _, s := range []bool{true, true, false, false, true} {
		states <- s
	}
	first := true
	s := &InterfaceSignal{
		interval: 5 * time.Millisecond,
		detect: func() (bool, error) {
			if first {
				first = false
				return true, nil
			}
			select {
			case v := <-states:
				return v, nil
			default:
				return true, nil
			}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := s.Watch(ctx)

	var got []bool
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case v := <-events:
			got = append(got, v)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []bool{false, true}, got)

	cancel()
	for range events {
	}
}

func TestInterfaceSignalUnknown(t *testing.T) {
	s := &InterfaceSignal{interval: time.Second, detect: func() (bool, error) {
		return false, errors.New("netlink unavailable")
	}}
	_, known := s.Current()
	assert.False(t, known)
}
