// Package migrations embeds the Postgres schema migrations so the
// migrate subcommand works from a bare binary.
package migrations

import "embed"

//go:embed pg/*.sql
var PG embed.FS
