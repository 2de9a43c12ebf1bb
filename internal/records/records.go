// Package records encodes the characterization record lifecycle on top of
// the local store:
//
//	PENDING_SYNC -> SYNCED       (terminal)
//	PENDING_SYNC -> SYNC_ERROR   (until retried)
//	SYNC_ERROR   -> PENDING_SYNC (explicit retry only)
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/chmdznr/caracterizacion-sync/internal/db"
	apperrors "github.com/chmdznr/caracterizacion-sync/internal/errors"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

// Store is the persistence the lifecycle runs on. *db.DB implements it.
type Store interface {
	Insert(ctx context.Context, record *models.Characterization) (*models.Characterization, error)
	Update(ctx context.Context, id int64, update db.RecordUpdate) error
	UpdateIf(ctx context.Context, id int64, expected models.Status, update db.RecordUpdate) (bool, error)
	Get(ctx context.Context, id int64) (*models.Characterization, error)
	FindByStatus(ctx context.Context, status models.Status) ([]models.Characterization, error)
	FindByReference(ctx context.Context, ref string) (*models.Characterization, error)
	FindByOwnerDocument(ctx context.Context, doc string) ([]models.Characterization, error)
	List(ctx context.Context) ([]models.Characterization, error)
	Remove(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*models.Stats, error)
	AppendSyncLog(ctx context.Context, entry models.SyncLogEntry) error
	SyncLog(ctx context.Context, limit int) ([]models.SyncLogEntry, error)
	CreateBackup(ctx context.Context, kind models.BackupKind) (*models.BackupSnapshot, error)
	ListBackups(ctx context.Context) ([]models.BackupSnapshot, error)
	GetBackup(ctx context.Context, id int64) (*models.BackupSnapshot, error)
}

// Service is the record lifecycle API
type Service struct {
	store        Store
	newReference ReferenceGenerator
	now          func() time.Time
	logger       *slog.Logger
}

// Option customizes a Service
type Option func(*Service)

// WithReferenceGenerator replaces the local reference scheme
func WithReferenceGenerator(gen ReferenceGenerator) Option {
	return func(s *Service) { s.newReference = gen }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a lifecycle service over store
func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:        store,
		newReference: NewLocalReference,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "records")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new pending record and returns it with its id and local
// reference. When the store is unavailable the unsaved record is returned
// together with a StorageUnavailable error so the caller can still hand the
// local reference out as a receipt.
func (s *Service) Create(ctx context.Context, payload models.Payload, owner models.Owner) (*models.Characterization, error) {
	if !isJSONObject(payload) {
		return nil, apperrors.New(apperrors.ErrInvalid, "payload must be a JSON object")
	}

	now := s.now().UTC()
	record := &models.Characterization{
		LocalReference: s.newReference(now),
		Status:         models.StatusPendingSync,
		Payload:        payload,
		Owner:          owner,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, err := s.store.Insert(ctx, record)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrStorageUnavailable) {
			s.logger.Warn("Record not persisted, operating without local storage",
				slog.String("local_reference", record.LocalReference),
				slog.String("error", err.Error()),
			)
			return record, err
		}
		return nil, err
	}

	s.logger.Info("Record created",
		slog.Int64("id", stored.ID),
		slog.String("local_reference", stored.LocalReference),
	)
	return stored, nil
}

// MarkSynced moves a pending record to SYNCED with the server-issued
// reference. Repeating the call with the same reference is a no-op.
func (s *Service) MarkSynced(ctx context.Context, id int64, officialReference string) error {
	if officialReference == "" {
		return apperrors.New(apperrors.ErrInvalid, "official reference is required")
	}

	record, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch record.Status {
	case models.StatusSynced:
		if record.OfficialReference == officialReference {
			return nil
		}
		return apperrors.Newf(apperrors.ErrInvalidTransition,
			"record %s already synced as %s", record.LocalReference, record.OfficialReference)
	case models.StatusSyncError:
		return apperrors.Newf(apperrors.ErrInvalidTransition,
			"record %s is %s and must be retried first", record.LocalReference, record.Status)
	}

	now := s.now().UTC()
	status := models.StatusSynced
	cleared := ""
	applied, err := s.store.UpdateIf(ctx, id, models.StatusPendingSync, db.RecordUpdate{
		Status:            &status,
		OfficialReference: &officialReference,
		SyncedAt:          &now,
		LastSyncError:     &cleared,
	})
	if err != nil {
		return err
	}
	if !applied {
		return apperrors.Newf(apperrors.ErrInvalidTransition, "record %s changed while being marked synced", record.LocalReference)
	}
	return nil
}

// MarkError moves a pending record to SYNC_ERROR, counting the failed attempt
// and keeping the message verbatim.
func (s *Service) MarkError(ctx context.Context, id int64, message string) error {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.Status != models.StatusPendingSync {
		return apperrors.Newf(apperrors.ErrInvalidTransition,
			"record %s is %s, only pending records can fail", record.LocalReference, record.Status)
	}

	status := models.StatusSyncError
	applied, err := s.store.UpdateIf(ctx, id, models.StatusPendingSync, db.RecordUpdate{
		Status:            &status,
		LastSyncError:     &message,
		IncrementAttempts: true,
	})
	if err != nil {
		return err
	}
	if !applied {
		return apperrors.Newf(apperrors.ErrInvalidTransition, "record %s changed while being marked failed", record.LocalReference)
	}
	return nil
}

// Retry re-arms a failed record for the next sync pass. The attempt counter
// is kept. Retrying a pending record does nothing.
func (s *Service) Retry(ctx context.Context, id int64) error {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch record.Status {
	case models.StatusPendingSync:
		return nil
	case models.StatusSynced:
		return apperrors.Newf(apperrors.ErrInvalidTransition, "record %s is already synced", record.LocalReference)
	}

	status := models.StatusPendingSync
	cleared := ""
	applied, err := s.store.UpdateIf(ctx, id, models.StatusSyncError, db.RecordUpdate{
		Status:        &status,
		LastSyncError: &cleared,
	})
	if err != nil {
		return err
	}
	if !applied {
		return apperrors.Newf(apperrors.ErrInvalidTransition, "record %s changed while being retried", record.LocalReference)
	}

	s.logger.Info("Record re-armed for sync",
		slog.String("local_reference", record.LocalReference),
		slog.Int("attempts", record.SyncAttemptCount),
	)
	return nil
}

// Pending returns every record waiting to be synced
func (s *Service) Pending(ctx context.Context) ([]models.Characterization, error) {
	return s.store.FindByStatus(ctx, models.StatusPendingSync)
}

// Stats returns live counts from the store
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	return s.store.GetStats(ctx)
}

// ErrorList returns the failed records, most recently failed first
func (s *Service) ErrorList(ctx context.Context) ([]models.Characterization, error) {
	failed, err := s.store.FindByStatus(ctx, models.StatusSyncError)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(failed, func(i, j int) bool {
		return failed[i].UpdatedAt.After(failed[j].UpdatedAt)
	})
	return failed, nil
}

// List returns the records in status, or all of them when status is empty,
// newest first
func (s *Service) List(ctx context.Context, status models.Status) ([]models.Characterization, error) {
	if status == "" {
		return s.store.List(ctx)
	}
	if !status.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown status %q", status)
	}
	list, err := s.store.FindByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

// Get returns a record by storage id
func (s *Service) Get(ctx context.Context, id int64) (*models.Characterization, error) {
	return s.store.Get(ctx, id)
}

// FindByReference looks a record up by local or official reference
func (s *Service) FindByReference(ctx context.Context, ref string) (*models.Characterization, error) {
	return s.store.FindByReference(ctx, ref)
}

// FindByOwnerDocument returns the records of one beneficiary
func (s *Service) FindByOwnerDocument(ctx context.Context, doc string) ([]models.Characterization, error) {
	return s.store.FindByOwnerDocument(ctx, doc)
}

// Delete removes a record
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Remove(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Record deleted", slog.Int64("id", id))
	return nil
}

// LogSync appends a sync attempt to the log
func (s *Service) LogSync(ctx context.Context, entry models.SyncLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	return s.store.AppendSyncLog(ctx, entry)
}

// SyncLog returns the latest sync attempts
func (s *Service) SyncLog(ctx context.Context, limit int) ([]models.SyncLogEntry, error) {
	return s.store.SyncLog(ctx, limit)
}

// CreateBackup takes a snapshot of all records
func (s *Service) CreateBackup(ctx context.Context, kind models.BackupKind) (*models.BackupSnapshot, error) {
	return s.store.CreateBackup(ctx, kind)
}

// Backups lists snapshot metadata
func (s *Service) Backups(ctx context.Context) ([]models.BackupSnapshot, error) {
	return s.store.ListBackups(ctx)
}

// Backup loads one snapshot with its data
func (s *Service) Backup(ctx context.Context, id int64) (*models.BackupSnapshot, error) {
	return s.store.GetBackup(ctx, id)
}

func isJSONObject(payload models.Payload) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
