package autosync

import (
	"context"
	"errors"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/caracterizacion-sync/internal/session"
	syncer "github.com/chmdznr/caracterizacion-sync/internal/sync"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

type fakePender struct {
	count int
	err   error
}

func (f fakePender) Pending(context.Context) ([]models.Characterization, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]models.Characterization, f.count), nil
}

type fakeRunner struct {
	running atomic.Bool
	calls   atomic.Int32
	result  syncer.Result
}

func (f *fakeRunner) Running() bool { return f.running.Load() }

func (f *fakeRunner) Sync(context.Context) syncer.Result {
	f.calls.Add(1)
	return f.result
}

type recorder struct {
	mu      stdsync.Mutex
	results []syncer.Result
}

func (r *recorder) Notify(result syncer.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func TestTriggerFiresOncePerSession(t *testing.T) {
	runner := &fakeRunner{result: syncer.Result{Success: true, Synced: 2}}
	notes := &recorder{}
	trigger := New(context.Background(), fakePender{count: 2}, runner, notes, nil)
	defer trigger.Stop()

	sess := session.New(nil)
	trigger.Attach(sess)

	sess.SignIn(models.Owner{ID: "u-1"}, "tok", time.Time{})
	trigger.Wait()
	assert.Equal(t, int32(1), runner.calls.Load())
	require.Equal(t, 1, notes.len())
	assert.Equal(t, 2, notes.results[0].Synced)

	// token refreshes keep the session ID
	require.NoError(t, sess.Refresh("tok-2", time.Time{}))
	require.NoError(t, sess.Refresh("tok-3", time.Time{}))
	trigger.Wait()
	assert.Equal(t, int32(1), runner.calls.Load())

	// a new sign-in is a new session
	sess.SignOut()
	sess.SignIn(models.Owner{ID: "u-1"}, "tok", time.Time{})
	trigger.Wait()
	assert.Equal(t, int32(2), runner.calls.Load())
}

func TestTriggerConcurrentObservers(t *testing.T) {
	runner := &fakeRunner{result: syncer.Result{Success: true}}
	trigger := New(context.Background(), fakePender{count: 1}, runner, nil, nil)
	defer trigger.Stop()

	st := session.State{ID: "s-1", Authenticated: true}
	var wg stdsync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trigger.Observe(st)
		}()
	}
	wg.Wait()
	trigger.Wait()

	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestTriggerAttachToAuthenticatedSession(t *testing.T) {
	runner := &fakeRunner{result: syncer.Result{Success: true}}
	trigger := New(context.Background(), fakePender{count: 1}, runner, nil, nil)
	defer trigger.Stop()

	sess := session.New(nil)
	sess.SignIn(models.Owner{ID: "u-1"}, "tok", time.Time{})
	trigger.Attach(sess)
	trigger.Wait()

	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestTriggerSkips(t *testing.T) {
	tests := []struct {
		name    string
		pender  fakePender
		running bool
		state   session.State
	}{
		{
			name:   "not authenticated",
			pender: fakePender{count: 3},
			state:  session.State{ID: "s-1"},
		},
		{
			name:   "nothing pending",
			pender: fakePender{count: 0},
			state:  session.State{ID: "s-1", Authenticated: true},
		},
		{
			name:    "pass already running",
			pender:  fakePender{count: 3},
			running: true,
			state:   session.State{ID: "s-1", Authenticated: true},
		},
		{
			name:   "store failure",
			pender: fakePender{err: errors.New("database is locked")},
			state:  session.State{ID: "s-1", Authenticated: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			runner.running.Store(tt.running)
			notes := &recorder{}
			trigger := New(context.Background(), tt.pender, runner, notes, nil)

			trigger.Observe(tt.state)
			trigger.Stop()

			assert.Zero(t, runner.calls.Load())
			assert.Zero(t, notes.len())
		})
	}
}

func TestTriggerBusyResultIsNotNotified(t *testing.T) {
	runner := &fakeRunner{result: syncer.Result{Busy: true, Reason: syncer.ReasonBusy}}
	notes := &recorder{}
	trigger := New(context.Background(), fakePender{count: 1}, runner, notes, nil)

	trigger.Observe(session.State{ID: "s-1", Authenticated: true})
	trigger.Stop()

	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Zero(t, notes.len())
}

func TestTriggerFailureIsNotified(t *testing.T) {
	runner := &fakeRunner{result: syncer.Result{Failed: 1, Errors: []string{"RAD-LOCAL-1: documento invalido"}}}
	var got syncer.Result
	trigger := New(context.Background(), fakePender{count: 1}, runner, NotifierFunc(func(r syncer.Result) { got = r }), nil)

	trigger.Observe(session.State{ID: "s-1", Authenticated: true})
	trigger.Stop()

	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, "Synced 0 record(s), 1 failed", got.Summary())
}

func TestStopDetaches(t *testing.T) {
	runner := &fakeRunner{result: syncer.Result{Success: true}}
	trigger := New(context.Background(), fakePender{count: 1}, runner, nil, nil)

	sess := session.New(nil)
	trigger.Attach(sess)
	trigger.Stop()

	sess.SignIn(models.Owner{ID: "u-1"}, "tok", time.Time{})
	trigger.Wait()
	assert.Zero(t, runner.calls.Load())
}
