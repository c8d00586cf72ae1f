package migrate

import (
	"database/sql"
	"embed"
)

// Files holds the status database migrations.
//
//go:embed sql/*.sql
var Files embed.FS

// NewEmbedded returns a Manager over the embedded migrations.
func NewEmbedded(db *sql.DB, opts ...Option) (*Manager, error) {
	migrations, err := Load(Files, "sql")
	if err != nil {
		return nil, err
	}
	return New(db, migrations, opts...), nil
}
