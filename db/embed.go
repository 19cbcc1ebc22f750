// Package db carries the SQL migrations compiled into the server binary so a
// deployment needs nothing beside the executable.
package db

import "embed"

// Migrations holds every file under migrations/. Pass it to
// database.RunMigrations together with the "migrations" directory name.
//
//go:embed migrations/*.sql
var Migrations embed.FS
