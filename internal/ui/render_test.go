package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gearguard/migrator"
	"github.com/gearguard/migrator/internal/inspect"
)

func TestReportSuccess(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	Report(&buf, &migrator.RunReport{
		RunID:      "01HRUN",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Applied:    []string{"0002"},
		Skipped:    []string{"0001"},
		Unknown:    []string{"0000"},
	}, nil)

	out := buf.String()
	assert.Contains(t, out, "MIGRATE")
	assert.Contains(t, out, "0001 already applied")
	assert.Contains(t, out, "0002 applied")
	assert.Contains(t, out, "0000 in ledger but not defined")
	assert.Contains(t, out, "applied 1, skipped 1 1.5s")
}

func TestReportUpToDate(t *testing.T) {
	var buf bytes.Buffer
	Report(&buf, &migrator.RunReport{Skipped: []string{"0001", "0002"}}, nil)
	assert.Contains(t, buf.String(), "up to date (2 applied)")
}

func TestReportFailure(t *testing.T) {
	var buf bytes.Buffer
	err := errors.New("migration 0002 (bad) failed at statement 1: syntax error")
	Report(&buf, &migrator.RunReport{Skipped: []string{"0001"}, Failed: "0002"}, err)

	out := buf.String()
	assert.Contains(t, out, "0002 failed, rolled back")
	assert.Contains(t, out, err.Error())
}

func TestReportDryRun(t *testing.T) {
	var buf bytes.Buffer
	Report(&buf, &migrator.RunReport{DryRun: true, Applied: []string{"0003"}}, nil)

	out := buf.String()
	assert.Contains(t, out, "MIGRATE (DRY RUN)")
	assert.Contains(t, out, "0003 would apply")
	assert.Contains(t, out, "1 pending, 0 applied")
}

func TestPlan(t *testing.T) {
	var buf bytes.Buffer
	Plan(&buf, &migrator.Plan{
		Applied: []migrator.Migration{{ID: "0001", Name: "create_users"}},
		Pending: []migrator.Migration{{ID: "0002", Name: "add_role"}},
		Ledger:  []migrator.MigrationRecord{{MigrationID: "0001", AppliedAt: time.Now()}},
	})

	out := buf.String()
	assert.Contains(t, out, "0001 create_users")
	assert.Contains(t, out, "0002 add_role pending")
	assert.Contains(t, out, "1 applied, 1 pending")
}

func TestTables(t *testing.T) {
	var buf bytes.Buffer
	Tables(&buf, []inspect.Table{{Name: "users", Rows: 3}}, []string{"equipment"})

	out := buf.String()
	assert.Contains(t, out, "3 users")
	assert.Contains(t, out, "- equipment")
	assert.Contains(t, out, "1 tables, 1 missing")
}
