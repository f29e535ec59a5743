package database

import "embed"

// EmbeddedMigrations holds migrations/*.sql. Use Open, or
// fs.Sub(EmbeddedMigrations, "migrations") with New.
//
//go:embed migrations/*.sql
var EmbeddedMigrations embed.FS
