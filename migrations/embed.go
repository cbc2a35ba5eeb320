// Package migrations embeds the journal schema into the binary.
package migrations

import "embed"

// FS holds the *.up.sql files applied by database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
