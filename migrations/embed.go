// Package migrations embeds the SQLite schema into the binary so the
// journal can be created without SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/speechlink/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
