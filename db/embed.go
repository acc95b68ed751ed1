package db

import "embed"

// Migrations holds the goose SQL migrations so the binary can migrate
// without a working-directory dependency.
//
//go:embed migrations/*.sql
var Migrations embed.FS
