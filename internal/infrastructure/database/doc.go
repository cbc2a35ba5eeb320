// Package database provides the SQLite connection used by the engine event
// journal.
//
// Open creates the database file and its directory with owner-only
// permissions, sets WAL mode and the busy timeout in the go-sqlite3
// connection string, then applies pending migrations. HealthCheck runs
// SQLite's quick integrity check.
//
// Schema changes are plain SQL files named
//
//	YYYYMMDD_HHMMSS_description.up.sql
//
// and are applied in version order by Open (through Migrate), each in its own
// transaction, with applied versions recorded in schema_migrations. The
// migration files are supplied by the caller as an fs.FS, normally the
// embedded filesystem of the top-level migrations package.
package database
