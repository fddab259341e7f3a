// Package migrations embeds the SQLite kitchen schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
