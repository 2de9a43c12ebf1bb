// Package sync runs batch sync passes of pending records against the remote
// ingestion endpoint and reconciles the per-record outcomes locally.
//
// Prometheus metrics:
//   - csync_sync_passes_total: finished passes by result
//   - csync_sync_records_total: reconciled records by outcome
//   - csync_sync_pass_duration_seconds: pass duration
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

var (
	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csync_sync_passes_total",
		Help: "Finished sync passes",
	}, []string{"result"}) // result: success, partial, failed, skipped, busy

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csync_sync_records_total",
		Help: "Records reconciled by sync passes",
	}, []string{"outcome"}) // outcome: synced, rejected, missing

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "csync_sync_pass_duration_seconds",
		Help:    "Duration of sync passes that reached the ingestion endpoint",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// Reasons reported when a pass does not run or fails as a whole
const (
	ReasonBusy             = "a sync pass is already running"
	ReasonNotAuthenticated = "not authenticated: sign in to sync"
	ReasonOffline          = "offline: the ingestion endpoint is not reachable"

	// MissingOutcomeMessage is stored on records the server response omitted
	MissingOutcomeMessage = "no outcome returned by the server for this record"

	rejectedMessage        = "rejected by the server"
	missingOfficialMessage = "server reported success without an official reference"
)

// State is the orchestrator state
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// Lifecycle is the subset of the record lifecycle a pass needs
type Lifecycle interface {
	Pending(ctx context.Context) ([]models.Characterization, error)
	MarkSynced(ctx context.Context, id int64, officialReference string) error
	MarkError(ctx context.Context, id int64, message string) error
	LogSync(ctx context.Context, entry models.SyncLogEntry) error
}

// Submitter sends one batch to the ingestion endpoint
type Submitter interface {
	SubmitBatch(ctx context.Context, records []models.Characterization) ([]models.Outcome, error)
}

// Connectivity reports whether the backend is reachable
type Connectivity interface {
	Online() bool
	CheckNow(ctx context.Context) bool
}

// Authenticator reports whether a user is signed in
type Authenticator interface {
	Authenticated() bool
}

// SyncerConfig holds configuration for the syncer
type SyncerConfig struct {
	// VerifyConnectivity probes the backend before a pass instead of
	// trusting the last known state
	VerifyConnectivity bool
	// OnStart is called with the number of records about to be submitted
	OnStart func(total int)
	// OnOutcome is called once per reconciled record
	OnOutcome func(localReference string, synced bool)
}

// DefaultSyncerConfig returns default syncer configuration
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		VerifyConnectivity: true,
	}
}

// Result is the consolidated outcome of one pass. It is the only thing a
// pass reports to its caller.
type Result struct {
	PassID   string        `json:"passId,omitempty"`
	Success  bool          `json:"success"`
	Synced   int           `json:"synced"`
	Failed   int           `json:"failed"`
	Errors   []string      `json:"errors,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Busy     bool          `json:"busy,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Summary renders the result as a single user notification
func (r Result) Summary() string {
	switch {
	case r.Busy:
		return "Sync skipped: " + r.Reason
	case r.Reason != "":
		return "Sync not completed: " + r.Reason
	case r.Synced == 0 && r.Failed == 0:
		return "Nothing to sync"
	case r.Failed == 0:
		return fmt.Sprintf("Synced %d record(s)", r.Synced)
	default:
		return fmt.Sprintf("Synced %d record(s), %d failed", r.Synced, r.Failed)
	}
}

func (r Result) label() string {
	switch {
	case r.Busy:
		return "busy"
	case r.Reason != "" && r.PassID == "":
		return "skipped"
	case r.Reason != "":
		return "failed"
	case r.Failed > 0:
		return "partial"
	default:
		return "success"
	}
}

// Syncer is the only component that calls the ingestion endpoint
type Syncer struct {
	lifecycle Lifecycle
	submitter Submitter
	conn      Connectivity
	auth      Authenticator
	config    SyncerConfig
	logger    *slog.Logger

	state atomic.Int32
}

// NewSyncer creates a new syncer instance. conn and auth may be nil, in which
// case the corresponding precondition always holds.
func NewSyncer(lifecycle Lifecycle, submitter Submitter, conn Connectivity, auth Authenticator, config *SyncerConfig, logger *slog.Logger) *Syncer {
	if config == nil {
		defaultConfig := DefaultSyncerConfig()
		config = &defaultConfig
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		lifecycle: lifecycle,
		submitter: submitter,
		conn:      conn,
		auth:      auth,
		config:    *config,
		logger:    logger.With(slog.String("component", "syncer")),
	}
}

// State returns the current orchestrator state
func (s *Syncer) State() State {
	return State(s.state.Load())
}

// Running reports whether a pass is in progress
func (s *Syncer) Running() bool {
	return s.State() == StateRunning
}

// Sync runs one pass. Concurrent calls while a pass is running return a Busy
// result without touching the endpoint. Sync never panics and never returns
// an error; failures are described by the Result.
func (s *Syncer) Sync(ctx context.Context) (result Result) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		passesTotal.WithLabelValues("busy").Inc()
		return Result{Busy: true, Reason: ReasonBusy}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sync pass aborted", slog.Any("panic", r))
			result.Success = false
			result.Reason = fmt.Sprintf("sync pass aborted: %v", r)
		}
		result.Duration = time.Since(start)
		s.state.Store(int32(StateIdle))
		passesTotal.WithLabelValues(result.label()).Inc()
	}()

	if s.auth != nil && !s.auth.Authenticated() {
		result.Reason = ReasonNotAuthenticated
		return result
	}
	if !s.online(ctx) {
		result.Reason = ReasonOffline
		return result
	}

	pending, err := s.lifecycle.Pending(ctx)
	if err != nil {
		s.logger.Error("Failed to read pending records", slog.String("error", err.Error()))
		result.Reason = err.Error()
		return result
	}
	if len(pending) == 0 {
		result.Success = true
		return result
	}

	result.PassID = uuid.NewString()
	logger := s.logger.With(slog.String("pass_id", result.PassID))
	logger.Info("Starting sync pass", slog.Int("pending", len(pending)))
	if s.config.OnStart != nil {
		s.config.OnStart(len(pending))
	}

	outcomes, err := s.submitter.SubmitBatch(ctx, pending)
	passDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// state of every record is unknown; they stay pending for the next pass
		logger.Warn("Batch submission failed", slog.String("error", err.Error()))
		result.Reason = err.Error()
		result.Errors = []string{err.Error()}
		return result
	}

	// the server has acted on the batch; local state must follow even if the
	// caller gave up
	s.reconcile(context.WithoutCancel(ctx), logger, result.PassID, pending, outcomes, &result)
	result.Success = result.Failed == 0

	logger.Info("Sync pass finished",
		slog.Int("synced", result.Synced),
		slog.Int("failed", result.Failed),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result
}

func (s *Syncer) online(ctx context.Context) bool {
	if s.conn == nil {
		return true
	}
	if !s.conn.Online() {
		return false
	}
	if s.config.VerifyConnectivity {
		return s.conn.CheckNow(ctx)
	}
	return true
}

// reconcile applies exactly one outcome to every record of the pending set
func (s *Syncer) reconcile(ctx context.Context, logger *slog.Logger, passID string, pending []models.Characterization, outcomes []models.Outcome, result *Result) {
	submitted := make(map[string]struct{}, len(pending))
	for _, record := range pending {
		submitted[record.LocalReference] = struct{}{}
	}

	byReference := make(map[string]models.Outcome, len(outcomes))
	for _, outcome := range outcomes {
		if _, ok := submitted[outcome.LocalReference]; !ok {
			logger.Warn("Ignoring outcome for a record that was not submitted",
				slog.String("local_reference", outcome.LocalReference))
			continue
		}
		if _, dup := byReference[outcome.LocalReference]; dup {
			logger.Warn("Ignoring duplicate outcome",
				slog.String("local_reference", outcome.LocalReference))
			continue
		}
		byReference[outcome.LocalReference] = outcome
	}

	for _, record := range pending {
		outcome, ok := byReference[record.LocalReference]
		switch {
		case !ok:
			recordsTotal.WithLabelValues("missing").Inc()
			s.fail(ctx, logger, passID, record, MissingOutcomeMessage, result)
		case outcome.Accepted() && outcome.OfficialReference == "":
			recordsTotal.WithLabelValues("rejected").Inc()
			s.fail(ctx, logger, passID, record, missingOfficialMessage, result)
		case outcome.Accepted():
			s.succeed(ctx, logger, passID, record, outcome.OfficialReference, result)
		default:
			recordsTotal.WithLabelValues("rejected").Inc()
			message := outcome.Message
			if message == "" {
				message = rejectedMessage
			}
			s.fail(ctx, logger, passID, record, message, result)
		}
	}
}

func (s *Syncer) succeed(ctx context.Context, logger *slog.Logger, passID string, record models.Characterization, official string, result *Result) {
	if err := s.lifecycle.MarkSynced(ctx, record.ID, official); err != nil {
		logger.Error("Failed to mark record synced",
			slog.String("local_reference", record.LocalReference),
			slog.String("official_reference", official),
			slog.String("error", err.Error()),
		)
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", record.LocalReference, err))
		// the server already holds the record; the log keeps its reference
		s.appendLog(ctx, logger, models.SyncLogEntry{
			PassID:            passID,
			LocalReference:    record.LocalReference,
			OfficialReference: official,
			Success:           false,
			Message:           fmt.Sprintf("accepted as %s but not stored locally: %v", official, err),
		})
		s.notify(record.LocalReference, false)
		return
	}

	recordsTotal.WithLabelValues("synced").Inc()
	result.Synced++
	s.appendLog(ctx, logger, models.SyncLogEntry{
		PassID:            passID,
		LocalReference:    record.LocalReference,
		OfficialReference: official,
		Success:           true,
		Message:           "synced",
	})
	s.notify(record.LocalReference, true)
}

func (s *Syncer) fail(ctx context.Context, logger *slog.Logger, passID string, record models.Characterization, message string, result *Result) {
	result.Failed++
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", record.LocalReference, message))

	if err := s.lifecycle.MarkError(ctx, record.ID, message); err != nil {
		logger.Error("Failed to mark record failed",
			slog.String("local_reference", record.LocalReference),
			slog.String("error", err.Error()),
		)
	}
	s.appendLog(ctx, logger, models.SyncLogEntry{
		PassID:         passID,
		LocalReference: record.LocalReference,
		Success:        false,
		Message:        message,
	})
	s.notify(record.LocalReference, false)
}

func (s *Syncer) appendLog(ctx context.Context, logger *slog.Logger, entry models.SyncLogEntry) {
	if err := s.lifecycle.LogSync(ctx, entry); err != nil {
		logger.Warn("Failed to append sync log",
			slog.String("local_reference", entry.LocalReference),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Syncer) notify(localReference string, synced bool) {
	if s.config.OnOutcome != nil {
		s.config.OnOutcome(localReference, synced)
	}
}
