// Package migrations embeds the goose migrations of every supported dialect.
package migrations

import "embed"

// FS holds one directory per dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
