// Package schema embeds the GearGuard maintenance schema as an ordered
// migration set for PostgreSQL.
//
// The set is written to adopt databases that were bootstrapped by hand
// before the ledger existed: object creation is guarded with IF NOT EXISTS
// or duplicate_object handlers, and varchar status columns are converted to
// their enum types in place.
package schema

import (
	"embed"
	"fmt"

	"github.com/gearguard/migrator"
)

//go:embed sql/*.sql
var files embed.FS

// Source returns a migration source over the embedded SQL files.
func Source() migrator.MigrationSource {
	return migrator.NewFSMigrationSource(files, "sql")
}

// Migrations returns the built-in migrations sorted by id.
func Migrations() ([]migrator.Migration, error) {
	migs, err := migrator.LoadAll(Source())
	if err != nil {
		return nil, fmt.Errorf("load built-in schema: %w", err)
	}
	return migs, nil
}

// Tables lists the tables the built-in schema creates, in creation order.
var Tables = []string{
	"users",
	"maintenance_teams",
	"team_members",
	"equipment_categories",
	"work_centers",
	"equipment",
	"maintenance_requests",
}
