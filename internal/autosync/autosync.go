// Package autosync runs one sync pass when a session becomes authenticated
// while records are waiting.
package autosync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chmdznr/caracterizacion-sync/internal/session"
	syncer "github.com/chmdznr/caracterizacion-sync/internal/sync"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

// Pender lists the records waiting to be synced
type Pender interface {
	Pending(ctx context.Context) ([]models.Characterization, error)
}

// Runner runs sync passes
type Runner interface {
	Sync(ctx context.Context) syncer.Result
	Running() bool
}

// Notifier receives the result of an automatic pass
type Notifier interface {
	Notify(result syncer.Result)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(result syncer.Result)

// Notify implements Notifier
func (f NotifierFunc) Notify(result syncer.Result) { f(result) }

// Sessions is the session source the trigger observes
type Sessions interface {
	Current() session.State
	Subscribe(fn func(session.State)) func()
}

// Trigger fires at most one pass per session ID
type Trigger struct {
	records  Pender
	runner   Runner
	notifier Notifier
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	fired       map[string]struct{}
	unsubscribe func()
}

// New creates a trigger. notifier may be nil.
func New(ctx context.Context, records Pender, runner Runner, notifier Notifier, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Trigger{
		records:  records,
		runner:   runner,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "autosync")),
		ctx:      ctx,
		cancel:   cancel,
		fired:    make(map[string]struct{}),
	}
}

// Attach observes sessions, including the state it is in right now
func (t *Trigger) Attach(sessions Sessions) {
	unsubscribe := sessions.Subscribe(t.Observe)
	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()
	t.Observe(sessions.Current())
}

// Observe handles one session state. The guard for the session ID is taken
// before the pass is scheduled, so concurrent observers of the same sign-in
// start at most one pass.
func (t *Trigger) Observe(st session.State) {
	if !st.Authenticated || st.ID == "" {
		return
	}

	t.mu.Lock()
	if _, done := t.fired[st.ID]; done {
		t.mu.Unlock()
		return
	}
	t.fired[st.ID] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(st.ID)
}

// Wait blocks until scheduled passes have finished
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// Stop detaches from the session and waits for a running pass
func (t *Trigger) Stop() {
	t.mu.Lock()
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	t.cancel()
	t.wg.Wait()
}

func (t *Trigger) run(sessionID string) {
	defer t.wg.Done()
	logger := t.logger.With(slog.String("session_id", sessionID))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Automatic sync aborted", slog.Any("panic", r))
		}
	}()

	pending, err := t.records.Pending(t.ctx)
	if err != nil {
		logger.Warn("Automatic sync skipped, pending records unavailable", slog.String("error", err.Error()))
		return
	}
	if len(pending) == 0 {
		logger.Debug("Automatic sync skipped, nothing pending")
		return
	}
	if t.runner.Running() {
		logger.Info("Automatic sync skipped, a pass is already running")
		return
	}

	result := t.runner.Sync(t.ctx)
	if result.Busy {
		logger.Info("Automatic sync skipped, a pass is already running")
		return
	}

	if result.Success {
		logger.Info("Automatic sync finished", slog.Int("synced", result.Synced))
	} else {
		logger.Warn("Automatic sync finished with failures",
			slog.Int("synced", result.Synced),
			slog.Int("failed", result.Failed),
			slog.String("reason", result.Reason),
		)
	}
	if t.notifier != nil {
		t.notifier.Notify(result)
	}
}
