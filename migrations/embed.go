// Package migrations embeds the SQL migration files into the binary.
//
// Importing this package (blank import from main) registers the files
// with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.Migrations = migrationsFS
}
