// Package backup copies local backup snapshots to S3-compatible storage so a
// lost or wiped device does not take the unsynced records with it.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chmdznr/caracterizacion-sync/internal/db"
	apperrors "github.com/chmdznr/caracterizacion-sync/internal/errors"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
	"github.com/chmdznr/caracterizacion-sync/pkg/utils"
)

// Config holds the destination settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Folder    string
	Region    string
	UseSSL    bool
}

// Enabled reports whether a destination is configured
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// Validate checks the destination settings
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return apperrors.New(apperrors.ErrInvalid, "backup endpoint is required")
	}
	if c.Bucket == "" {
		return apperrors.New(apperrors.ErrInvalid, "backup bucket is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return apperrors.New(apperrors.ErrInvalid, "backup access key and secret key are required")
	}
	return nil
}

// ObjectStore is the part of the MinIO client the uploader uses
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader pushes snapshots to a bucket
type Uploader struct {
	store  ObjectStore
	bucket string
	folder string
	logger *slog.Logger
}

// NewUploader creates an uploader backed by a MinIO client
func NewUploader(cfg Config, logger *slog.Logger) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Transport:    utils.NewTransport(),
		Region:       region,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	return newUploader(client, cfg, logger), nil
}

func newUploader(store ObjectStore, cfg Config, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		store:  store,
		bucket: cfg.Bucket,
		folder: strings.Trim(cfg.Folder, "/"),
		logger: logger.With(slog.String("component", "backup")),
	}
}

// Check verifies the bucket exists and is reachable
func (u *Uploader) Check(ctx context.Context) error {
	ok, err := u.store.BucketExists(ctx, u.bucket)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransportFailure, "check backup bucket", err)
	}
	if !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "bucket %s does not exist", u.bucket)
	}
	return nil
}

// ObjectKey returns where a snapshot is stored
func (u *Uploader) ObjectKey(snapshot *models.BackupSnapshot) string {
	name := fmt.Sprintf("%s-%d-%s.json",
		snapshot.Kind, snapshot.ID, snapshot.CreatedAt.UTC().Format("20060102T150405Z"))
	if u.folder == "" {
		return sanitizePath(name)
	}
	return sanitizePath(u.folder + "/" + name)
}

// Push uploads a snapshot loaded with its data and returns the object key
func (u *Uploader) Push(ctx context.Context, snapshot *models.BackupSnapshot) (string, error) {
	if len(snapshot.Data) == 0 {
		return "", apperrors.Newf(apperrors.ErrInvalid, "backup %d has no data loaded", snapshot.ID)
	}
	if sum := db.Checksum(snapshot.Data); sum != snapshot.Checksum {
		return "", apperrors.Newf(apperrors.ErrInvalid, "backup %d checksum mismatch: stored %s, computed %s",
			snapshot.ID, snapshot.Checksum, sum)
	}

	key := u.ObjectKey(snapshot)
	size := int64(len(snapshot.Data))
	info, err := u.store.PutObject(ctx, u.bucket, key, bytes.NewReader(snapshot.Data), size, minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"checksum":     snapshot.Checksum,
			"record-count": strconv.Itoa(snapshot.RecordCount),
			"kind":         string(snapshot.Kind),
		},
	})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		u.logger.Error("Failed to upload backup",
			slog.Int64("backup_id", snapshot.ID),
			slog.String("destination", u.bucket+"/"+key),
			slog.String("code", resp.Code),
			slog.String("error", err.Error()),
		)
		return "", apperrors.Wrap(apperrors.ErrTransportFailure, "upload backup", err)
	}

	// verify upload was complete
	if info.Size != size {
		return "", apperrors.Newf(apperrors.ErrTransportFailure,
			"uploaded backup size mismatch: expected %d bytes, stored %d", size, info.Size)
	}

	u.logger.Info("Backup uploaded",
		slog.Int64("backup_id", snapshot.ID),
		slog.String("destination", u.bucket+"/"+key),
		slog.String("size", utils.FormatSize(size)),
	)
	return key, nil
}

// sanitizePath makes every segment of an object key URL-safe
func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		// decode first so already-encoded segments are not encoded twice
		if decoded, err := url.QueryUnescape(segment); err == nil {
			segment = decoded
		}
		segment = strings.ReplaceAll(segment, "&", "and")
		segment = strings.ReplaceAll(segment, "+", "plus")
		segments[i] = url.QueryEscape(segment)
	}

	sanitized := strings.Join(segments, "/")
	for strings.Contains(sanitized, "//") {
		sanitized = strings.ReplaceAll(sanitized, "//", "/")
	}
	return sanitized
}
