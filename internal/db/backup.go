package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	apperrors "github.com/chmdznr/caracterizacion-sync/internal/errors"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

// MaxAutoBackups is how many automatic snapshots are retained
const MaxAutoBackups = 5

// Checksum returns the hex BLAKE2b-256 digest of snapshot data
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CreateBackup snapshots every record in a single transaction. Automatic
// snapshots beyond MaxAutoBackups are pruned, oldest first.
func (db *DB) CreateBackup(ctx context.Context, kind models.BackupKind) (*models.BackupSnapshot, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "begin backup", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT "+recordColumns+" FROM caracterizaciones ORDER BY id")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "read records for backup", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "read records for backup", err)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}

	snapshot := &models.BackupSnapshot{
		Kind:        kind,
		CreatedAt:   time.Now().UTC(),
		RecordCount: len(records),
		Size:        int64(len(data)),
		Checksum:    Checksum(data),
		Data:        data,
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO backups (kind, created_at, record_count, size, checksum, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(kind), formatTime(snapshot.CreatedAt), snapshot.RecordCount, snapshot.Size, snapshot.Checksum, data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "insert backup", err)
	}
	if snapshot.ID, err = res.LastInsertId(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "read backup id", err)
	}

	if kind == models.BackupAuto {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM backups
			WHERE kind = 'auto' AND id NOT IN (
				SELECT id FROM backups WHERE kind = 'auto'
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)
		`, MaxAutoBackups)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "prune automatic backups", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "commit backup", err)
	}
	return snapshot, nil
}

// ListBackups returns snapshot metadata, newest first. Data is not loaded.
func (db *DB) ListBackups(ctx context.Context) ([]models.BackupSnapshot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, created_at, record_count, size, checksum
		FROM backups
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "list backups", err)
	}
	defer rows.Close()

	backups := []models.BackupSnapshot{}
	for rows.Next() {
		var b models.BackupSnapshot
		var kind, createdAt string
		if err := rows.Scan(&b.ID, &kind, &createdAt, &b.RecordCount, &b.Size, &b.Checksum); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "list backups", err)
		}
		b.Kind = models.BackupKind(kind)
		b.CreatedAt = parseTime(createdAt)
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "list backups", err)
	}
	return backups, nil
}

// GetBackup loads one snapshot including its data
func (db *DB) GetBackup(ctx context.Context, id int64) (*models.BackupSnapshot, error) {
	var b models.BackupSnapshot
	var kind, createdAt string
	err := db.QueryRowContext(ctx, `
		SELECT id, kind, created_at, record_count, size, checksum, data
		FROM backups WHERE id = ?
	`, id).Scan(&b.ID, &kind, &createdAt, &b.RecordCount, &b.Size, &b.Checksum, &b.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "backup %d not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, fmt.Sprintf("get backup %d", id), err)
	}
	b.Kind = models.BackupKind(kind)
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}
