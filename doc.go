// Package migrator applies ordered, checksummed schema migrations to a
// database. Each pending migration runs in its own transaction together with
// its ledger record, applied migrations are verified against their recorded
// checksums, and every run returns a RunReport describing what happened.
//
// Migrations can be loaded from a directory, an fs.FS, a YAML manifest, or
// inline values. Ledgers exist for PostgreSQL, MySQL and SQLite.
package migrator
