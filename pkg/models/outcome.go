package models

// Outcome states reported by the remote ingestion endpoint
const (
	OutcomeSynced = "SINCRONIZADO"
	OutcomeError  = "ERROR"
)

// Outcome is the server verdict for one submitted record, matched back to the
// local record by LocalReference.
type Outcome struct {
	LocalReference    string `json:"radicadoLocal"`
	OfficialReference string `json:"radicadoOficial,omitempty"`
	State             string `json:"estado"`
	Message           string `json:"mensaje"`
}

// Accepted reports whether the server persisted the record
func (o Outcome) Accepted() bool {
	return o.State == OutcomeSynced
}
