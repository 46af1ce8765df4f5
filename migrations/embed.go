// Package migrations embeds the SQL schema into the binary.
//
// Importing this package (usually as a blank import) registers the files
// with the database package, so Migrate works without the SQL on disk.
package migrations

import (
	"embed"

	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}
