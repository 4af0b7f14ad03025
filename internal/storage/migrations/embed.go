// Package migrations holds the SQL schema for the database drivers.
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql
var Files embed.FS
