// Package migrations holds the option journal schema. Importing it
// registers the schema with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/database"
)

//go:embed *.up.sql
var schema embed.FS

func init() {
	database.UseMigrations(schema)
}
