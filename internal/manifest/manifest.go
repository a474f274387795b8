// Package manifest defines the fetch manifest: a per-expiry ledger of what
// each year run attempted and how it went. The files on disk stay the source
// of truth for dedup (paths are deterministic); the manifest exists so reruns
// and audits have a queryable history of outcomes.
package manifest

import "time"

type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped" // output file already present (resume mode)
)

// Fetch is one per-expiry retrieval attempt.
type Fetch struct {
	ID         int64
	Year       int
	Symbol     string
	Instrument string
	Expiry     string
	StartDate  string
	EndDate    string
	Status     Status
	Path       string
	Bytes      int64
	Error      string
	CreatedAt  time.Time
}
