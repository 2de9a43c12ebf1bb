package models

import "time"

// Stats represents record counts per sync state
type Stats struct {
	Total      int64      `json:"total"`
	Pending    int64      `json:"pending"`
	Synced     int64      `json:"synced"`
	Errors     int64      `json:"errors"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
}
