package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	apperrors "github.com/chmdznr/caracterizacion-sync/internal/errors"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

// timeLayout is fixed-width so stored timestamps sort lexically
const timeLayout = "2006-01-02 15:04:05.000000"

// DB represents the local record store
type DB struct {
	*sql.DB
	logger *slog.Logger
}

// New opens (creating if needed) the SQLite store at path
func New(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "store"))
	logger.Debug("Opening local store", slog.String("path", path))

	sqlDB, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "open local store", err)
	}
	// SQLite serializes writers; one connection keeps transactions ordered
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db := &DB{DB: sqlDB, logger: logger}
	if err := db.initialize(); err != nil {
		sqlDB.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "initialize local store", err)
	}

	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA temp_store=MEMORY;
		CREATE TABLE IF NOT EXISTS caracterizaciones (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			local_reference TEXT NOT NULL UNIQUE,
			official_reference TEXT UNIQUE,
			status TEXT NOT NULL CHECK (status IN ('PENDING_SYNC', 'SYNCED', 'SYNC_ERROR')),
			payload TEXT NOT NULL,
			owner_id TEXT,
			owner_email TEXT,
			owner_document TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			synced_at TEXT,
			sync_attempt_count INTEGER NOT NULL DEFAULT 0,
			last_sync_error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_caracterizaciones_status ON caracterizaciones(status, created_at);
		CREATE INDEX IF NOT EXISTS idx_caracterizaciones_document ON caracterizaciones(owner_document);
		CREATE TABLE IF NOT EXISTS backups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL CHECK (kind IN ('auto', 'manual')),
			created_at TEXT NOT NULL,
			record_count INTEGER NOT NULL,
			size INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			data BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_backups_kind_date ON backups(kind, created_at);
		CREATE TABLE IF NOT EXISTS sync_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			pass_id TEXT NOT NULL,
			local_reference TEXT NOT NULL,
			official_reference TEXT,
			success INTEGER NOT NULL,
			message TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_sync_log_date ON sync_log(created_at);
	`)
	return err
}

const recordColumns = `id, local_reference, official_reference, status, payload,
	owner_id, owner_email, created_at, updated_at, synced_at,
	sync_attempt_count, last_sync_error`

// RecordUpdate lists the fields to merge into a stored record. Nil fields are
// left untouched; updated_at is always refreshed.
type RecordUpdate struct {
	Status            *models.Status
	OfficialReference *string
	SyncedAt          *time.Time
	// LastSyncError set to "" clears the stored message
	LastSyncError     *string
	IncrementAttempts bool
	Payload           models.Payload
}

func (u RecordUpdate) assignments(now time.Time) (string, []any) {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(now)}

	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*u.Status))
	}
	if u.OfficialReference != nil {
		// the official reference is written once and never replaced
		sets = append(sets, "official_reference = COALESCE(official_reference, ?)")
		args = append(args, nullString(*u.OfficialReference))
	}
	if u.SyncedAt != nil {
		sets = append(sets, "synced_at = ?")
		args = append(args, formatTime(*u.SyncedAt))
	}
	if u.LastSyncError != nil {
		sets = append(sets, "last_sync_error = ?")
		args = append(args, nullString(*u.LastSyncError))
	}
	if u.IncrementAttempts {
		sets = append(sets, "sync_attempt_count = sync_attempt_count + 1")
	}
	if u.Payload != nil {
		sets = append(sets, "payload = ?", "owner_document = ?")
		args = append(args, string(u.Payload), nullString(models.DocumentNumber(u.Payload)))
	}
	return strings.Join(sets, ", "), args
}

// Insert stores a new record and returns it with its storage id populated.
// Every insert also takes an automatic backup snapshot; a failed snapshot is
// logged and does not fail the insert.
func (db *DB) Insert(ctx context.Context, record *models.Characterization) (*models.Characterization, error) {
	stored := *record
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	if stored.Status == "" {
		stored.Status = models.StatusPendingSync
	}

	var syncedAt any
	if stored.SyncedAt != nil {
		syncedAt = formatTime(*stored.SyncedAt)
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO caracterizaciones (
			local_reference, official_reference, status, payload,
			owner_id, owner_email, owner_document, created_at, updated_at,
			synced_at, sync_attempt_count, last_sync_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		stored.LocalReference,
		nullString(stored.OfficialReference),
		string(stored.Status),
		string(stored.Payload),
		nullString(stored.Owner.ID),
		nullString(stored.Owner.Email),
		nullString(stored.DocumentNumber()),
		formatTime(stored.CreatedAt),
		formatTime(stored.UpdatedAt),
		syncedAt,
		stored.SyncAttemptCount,
		nullString(stored.LastSyncError),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "duplicate reference "+stored.LocalReference, err)
		}
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "insert record", err)
	}

	stored.ID, err = res.LastInsertId()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "read inserted id", err)
	}

	if _, err := db.CreateBackup(ctx, models.BackupAuto); err != nil {
		db.logger.Warn("Automatic backup failed",
			slog.String("local_reference", stored.LocalReference),
			slog.String("error", err.Error()),
		)
	}

	return &stored, nil
}

// Update merges fields into the record with the given id. An unknown id is a no-op.
func (db *DB) Update(ctx context.Context, id int64, update RecordUpdate) error {
	sets, args := update.assignments(time.Now().UTC())
	args = append(args, id)

	if _, err := db.ExecContext(ctx, "UPDATE caracterizaciones SET "+sets+" WHERE id = ?", args...); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, fmt.Sprintf("update record %d", id), err)
	}
	return nil
}

// UpdateIf merges fields only while the record is in the expected status and
// reports whether the update was applied.
func (db *DB) UpdateIf(ctx context.Context, id int64, expected models.Status, update RecordUpdate) (bool, error) {
	sets, args := update.assignments(time.Now().UTC())
	args = append(args, id, string(expected))

	res, err := db.ExecContext(ctx, "UPDATE caracterizaciones SET "+sets+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorageUnavailable, fmt.Sprintf("update record %d", id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorageUnavailable, fmt.Sprintf("update record %d", id), err)
	}
	return n == 1, nil
}

// Get retrieves a record by storage id
func (db *DB) Get(ctx context.Context, id int64) (*models.Characterization, error) {
	row := db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM caracterizaciones WHERE id = ?", id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "record %d not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, fmt.Sprintf("get record %d", id), err)
	}
	return record, nil
}

// FindByStatus returns every record in the given status
func (db *DB) FindByStatus(ctx context.Context, status models.Status) ([]models.Characterization, error) {
	return db.queryRecords(ctx, "find by status",
		"SELECT "+recordColumns+" FROM caracterizaciones WHERE status = ? ORDER BY created_at, id", string(status))
}

// FindByReference matches either the local or the official reference
func (db *DB) FindByReference(ctx context.Context, ref string) (*models.Characterization, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM caracterizaciones
		WHERE local_reference = ? OR official_reference = ?
		ORDER BY id
		LIMIT 1
	`, ref, ref)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "no record with reference %s", ref)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "find by reference", err)
	}
	return record, nil
}

// FindByOwnerDocument returns the records whose beneficiary document number equals doc
func (db *DB) FindByOwnerDocument(ctx context.Context, doc string) ([]models.Characterization, error) {
	return db.queryRecords(ctx, "find by document",
		"SELECT "+recordColumns+" FROM caracterizaciones WHERE owner_document = ? ORDER BY created_at DESC, id DESC", doc)
}

// List returns every record, newest first
func (db *DB) List(ctx context.Context) ([]models.Characterization, error) {
	return db.queryRecords(ctx, "list records",
		"SELECT "+recordColumns+" FROM caracterizaciones ORDER BY created_at DESC, id DESC")
}

// Remove deletes a record
func (db *DB) Remove(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, "DELETE FROM caracterizaciones WHERE id = ?", id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, fmt.Sprintf("remove record %d", id), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "record %d not found", id)
	}
	return nil
}

// GetStats returns record counts per status and the last successful sync time
func (db *DB) GetStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	err := db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN status = 'PENDING_SYNC' THEN 1 END) as pending,
			COUNT(CASE WHEN status = 'SYNCED' THEN 1 END) as synced,
			COUNT(CASE WHEN status = 'SYNC_ERROR' THEN 1 END) as errors
		FROM caracterizaciones
	`).Scan(&stats.Total, &stats.Pending, &stats.Synced, &stats.Errors)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "get stats", err)
	}

	var lastSync sql.NullString
	err = db.QueryRowContext(ctx, "SELECT MAX(created_at) FROM sync_log WHERE success = 1").Scan(&lastSync)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "get last sync", err)
	}
	if lastSync.Valid {
		t := parseTime(lastSync.String)
		stats.LastSyncAt = &t
	}
	return &stats, nil
}

func (db *DB) queryRecords(ctx context.Context, op, query string, args ...any) ([]models.Characterization, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, op, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, op, err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Characterization, error) {
	var record models.Characterization
	var official, ownerID, ownerEmail, syncedAt, lastError sql.NullString
	var status, payload, createdAt, updatedAt string
	err := row.Scan(
		&record.ID,
		&record.LocalReference,
		&official,
		&status,
		&payload,
		&ownerID,
		&ownerEmail,
		&createdAt,
		&updatedAt,
		&syncedAt,
		&record.SyncAttemptCount,
		&lastError,
	)
	if err != nil {
		return nil, err
	}

	record.OfficialReference = official.String
	record.Status = models.Status(status)
	if payload != "" {
		record.Payload = models.Payload(payload)
	}
	record.Owner = models.Owner{ID: ownerID.String, Email: ownerEmail.String}
	record.CreatedAt = parseTime(createdAt)
	record.UpdatedAt = parseTime(updatedAt)
	record.LastSyncError = lastError.String
	if syncedAt.Valid {
		t := parseTime(syncedAt.String)
		record.SyncedAt = &t
	}
	return &record, nil
}

func scanRecords(rows *sql.Rows) ([]models.Characterization, error) {
	defer rows.Close()

	records := []models.Characterization{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
