// Package migrations embeds the SQL schema so the binary can migrate the
// SQLite database without the files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Source returns the embedded migrations. Files sit at the root of the FS.
func Source() database.Source {
	return database.Source{FS: files, Dir: "."}
}
