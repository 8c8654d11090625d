package migrator

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// RunReport describes the outcome of one Apply call. It is returned on
// failure as well as on success.
type RunReport struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	DryRun     bool              `json:"dry_run,omitempty"`
	Applied    []string          `json:"applied"`
	Skipped    []string          `json:"skipped"`
	Failed     string            `json:"failed,omitempty"`
	Error      string            `json:"error,omitempty"`
	Unknown    []string          `json:"unknown,omitempty"`
	Ledger     []MigrationRecord `json:"ledger"`
}

// Succeeded reports whether the run completed without error.
func (r *RunReport) Succeeded() bool {
	return r.Error == ""
}

// Duration returns how long the run took.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Plan is the comparison of a migration set against the ledger.
type Plan struct {
	Applied []Migration       `json:"applied"`
	Pending []Migration       `json:"pending"`
	Unknown []string          `json:"unknown,omitempty"`
	Ledger  []MigrationRecord `json:"ledger"`
}

// NewRunID returns a new ULID-based run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func migrationIDs(migs []Migration) []string {
	ids := make([]string, 0, len(migs))
	for _, mig := range migs {
		ids = append(ids, mig.ID)
	}
	return ids
}
