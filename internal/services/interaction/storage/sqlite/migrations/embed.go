// Package migrations embeds the interaction service schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
