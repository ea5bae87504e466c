// Package migrations embeds the status store schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
