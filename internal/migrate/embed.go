package migrate

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// Embedded returns the schema migrations and demo seeds compiled into the binary.
func Embedded() (migrations, seeds fs.FS) {
	migrations, _ = fs.Sub(migrationFiles, "sql")
	seeds, _ = fs.Sub(seedFiles, "seeds")
	return migrations, seeds
}
