package db

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/chmdznr/caracterizacion-sync/internal/errors"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

// DefaultLogLimit is used when SyncLog is called without a positive limit
const DefaultLogLimit = 50

// AppendSyncLog appends one entry to the sync log
func (db *DB) AppendSyncLog(ctx context.Context, entry models.SyncLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_log (created_at, pass_id, local_reference, official_reference, success, message)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		formatTime(entry.CreatedAt),
		entry.PassID,
		entry.LocalReference,
		nullString(entry.OfficialReference),
		entry.Success,
		entry.Message,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "append sync log", err)
	}
	return nil
}

// SyncLog returns the most recent entries, newest first
func (db *DB) SyncLog(ctx context.Context, limit int) ([]models.SyncLogEntry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, created_at, pass_id, local_reference, official_reference, success, message
		FROM sync_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "read sync log", err)
	}
	defer rows.Close()

	entries := []models.SyncLogEntry{}
	for rows.Next() {
		var e models.SyncLogEntry
		var createdAt string
		var official, message sql.NullString
		if err := rows.Scan(&e.ID, &createdAt, &e.PassID, &e.LocalReference, &official, &e.Success, &message); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "read sync log", err)
		}
		e.CreatedAt = parseTime(createdAt)
		e.OfficialReference = official.String
		e.Message = message.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "read sync log", err)
	}
	return entries, nil
}
