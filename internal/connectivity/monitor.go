// Package connectivity tracks whether the backend is reachable.
//
// The platform network flag is only a hint: transitions to online are
// confirmed by a probe against the backend before they are trusted, and the
// probe also runs on a fixed interval to catch captive portals and backend
// outages while the interface stays up.
package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chmdznr/caracterizacion-sync/pkg/utils"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Config holds probe settings
type Config struct {
	// URL is a cheap liveness endpoint of the backend
	URL      string
	Method   string
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultConfig returns the probe defaults for url
func DefaultConfig(url string) Config {
	return Config{
		URL:      url,
		Method:   http.MethodHead,
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
	}
}

// Signal is the platform view of the network. Current reports the state and
// whether it is known at all; Watch streams transitions until ctx is done.
type Signal interface {
	Current() (online bool, known bool)
	Watch(ctx context.Context) <-chan bool
}

// Monitor holds the online flag
type Monitor struct {
	cfg    Config
	client *http.Client
	signal Signal
	logger *slog.Logger

	online atomic.Bool

	mu          sync.Mutex
	subscribers map[int]func(bool)
	nextID      int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor. signal may be nil, in which case the monitor
// starts optimistically online.
func NewMonitor(cfg Config, signal Signal, logger *slog.Logger) *Monitor {
	if cfg.Method == "" {
		cfg.Method = http.MethodHead
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Monitor{
		cfg: cfg,
		client: &http.Client{
			Transport: utils.NewTransport(),
			Timeout:   cfg.Timeout,
		},
		signal:      signal,
		logger:      logger.With(slog.String("component", "connectivity")),
		subscribers: make(map[int]func(bool)),
	}

	initial := true
	if signal != nil {
		if online, known := signal.Current(); known {
			initial = online
		}
	}
	m.online.Store(initial)
	return m
}

// Online returns the last known state
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// CheckNow probes the backend, records the result and returns it
func (m *Monitor) CheckNow(ctx context.Context) bool {
	ok := m.probe(ctx)
	m.set(ok)
	return ok
}

// HandleOnline reacts to a platform online event. The state only becomes
// online when the probe confirms it.
func (m *Monitor) HandleOnline(ctx context.Context) bool {
	return m.CheckNow(ctx)
}

// HandleOffline reacts to a platform offline event without probing
func (m *Monitor) HandleOffline() {
	m.set(false)
}

// Subscribe registers fn to be called on every state change. The returned
// function removes the subscription.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Start runs the periodic probe and consumes platform events until Stop is
// called or ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	var events <-chan bool
	if m.signal != nil {
		events = m.signal.Watch(ctx)
	}

	go func() {
		defer close(m.done)

		m.logger.Info("Connectivity monitor started",
			slog.String("url", m.cfg.URL),
			slog.String("interval", m.cfg.Interval.String()),
		)

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("Connectivity monitor stopped")
				return
			case <-ticker.C:
				m.CheckNow(ctx)
			case online, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if online {
					m.HandleOnline(ctx)
				} else {
					m.HandleOffline()
				}
			}
		}
	}()
}

// Stop stops the loop and waits for it to exit
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
}

// probe reports whether the liveness endpoint answered 2xx in time. Every
// failure mode is reported the same way.
func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, m.cfg.Method, m.cfg.URL, nil)
	if err != nil {
		m.logger.Debug("Probe request invalid", slog.String("error", err.Error()))
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("Probe failed", slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func (m *Monitor) set(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	if online {
		m.logger.Info("Backend reachable")
	} else {
		m.logger.Warn("Backend unreachable")
	}

	m.mu.Lock()
	fns := make([]func(bool), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}
