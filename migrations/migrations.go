// Package migrations embeds the PostgreSQL schema for the operator record store.
package migrations

import "embed"

// FS holds every *.up.sql file, applied in lexical order.
//
//go:embed *.up.sql
var FS embed.FS
