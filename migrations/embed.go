// Package migrations ships the schema migration SQL inside the binary,
// so a deployed bridge needs no loose files next to the executable.
// Importing it for side effects registers the files with the database
// package.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-pi/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
