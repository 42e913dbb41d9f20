package migrations

import "embed"

// FS holds the snapshot database migrations.
//
//go:embed *.sql
var FS embed.FS
