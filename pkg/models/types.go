package models

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// Status is the sync state of a local characterization record
type Status string

const (
	StatusPendingSync Status = "PENDING_SYNC"
	StatusSynced      Status = "SYNCED"
	StatusSyncError   Status = "SYNC_ERROR"
)

// Valid reports whether s is one of the known states
func (s Status) Valid() bool {
	switch s {
	case StatusPendingSync, StatusSynced, StatusSyncError:
		return true
	}
	return false
}

// Payload is the survey form content. The sync core forwards it verbatim
// and only ever reads the beneficiary document number out of it.
type Payload = json.RawMessage

// documentPaths are tried in order when indexing a payload by document number.
var documentPaths = []string{
	"beneficiario.numeroDocumento",
	"beneficiario.numero_documento",
	"numeroDocumento",
}

// DocumentNumber extracts the beneficiary document number from a payload.
func DocumentNumber(p Payload) string {
	if len(p) == 0 {
		return ""
	}
	for _, path := range documentPaths {
		if v := gjson.GetBytes(p, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// Owner identifies the advisor who captured the record. It is attribution
// only, never used for access control.
type Owner struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
}

// Characterization is a land-characterization survey record as held on the device
type Characterization struct {
	ID                int64      `json:"id"`
	LocalReference    string     `json:"radicadoLocal"`
	OfficialReference string     `json:"radicadoOficial,omitempty"`
	Status            Status     `json:"estadoSincronizacion"`
	Payload           Payload    `json:"datos"`
	Owner             Owner      `json:"asesor"`
	CreatedAt         time.Time  `json:"creadoEn"`
	UpdatedAt         time.Time  `json:"actualizadoEn"`
	SyncedAt          *time.Time `json:"sincronizadoEn,omitempty"`
	SyncAttemptCount  int        `json:"intentosSincronizacion"`
	LastSyncError     string     `json:"ultimoErrorSincronizacion,omitempty"`
}

// DocumentNumber returns the beneficiary document number of the record payload
func (c *Characterization) DocumentNumber() string {
	return DocumentNumber(c.Payload)
}

// BackupKind tells automatic snapshots from user-requested ones
type BackupKind string

const (
	BackupAuto   BackupKind = "auto"
	BackupManual BackupKind = "manual"
)

// BackupSnapshot is a point-in-time copy of every local record
type BackupSnapshot struct {
	ID          int64      `json:"id"`
	Kind        BackupKind `json:"kind"`
	CreatedAt   time.Time  `json:"createdAt"`
	RecordCount int        `json:"recordCount"`
	Size        int64      `json:"size"`
	Checksum    string     `json:"checksum"`
	Data        []byte     `json:"-"`
}

// SyncLogEntry records one sync attempt for one record
type SyncLogEntry struct {
	ID                int64     `json:"id"`
	CreatedAt         time.Time `json:"createdAt"`
	PassID            string    `json:"passId"`
	LocalReference    string    `json:"localReference"`
	OfficialReference string    `json:"officialReference,omitempty"`
	Success           bool      `json:"success"`
	Message           string    `json:"message"`
}
