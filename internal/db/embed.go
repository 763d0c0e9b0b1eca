package db

import (
	"embed"
	"io/fs"
	"os"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DevMode reads migrations from the working tree instead of the binary.
var DevMode = false

// devMigrationsDir is relative to the repository root.
const devMigrationsDir = "internal/db/migrations"

// getMigrationsFS returns the migration files rooted at the migrations
// directory.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS(devMigrationsDir), nil
	}
	return fs.Sub(migrationsFS, "migrations")
}
