// Package migrate manages the status database schema and its subsystem seed.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"saltapi/internal/status"
)

const defaultTable = "schema_migrations"

// ErrNothingApplied is returned by Down when no migration has been applied.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Migration is one versioned schema change with its rollback.
type Migration struct {
	Version string
	Up      string
	Down    string
}

// Applied is a migration recorded in the bookkeeping table.
type Applied struct {
	Version   string    `json:"version" yaml:"version"`
	AppliedAt time.Time `json:"applied_at" yaml:"applied_at"`
}

// Load reads <version>.up.sql / <version>.down.sql pairs from dir, ordered by
// version. Every up file needs a down file.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var out []Migration
	for _, e := range entries {
		version, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if e.IsDir() || !ok {
			continue
		}
		up, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		down, err := fs.ReadFile(fsys, path.Join(dir, version+".down.sql"))
		if err != nil {
			return nil, fmt.Errorf("migration %s has no down file: %w", version, err)
		}
		out = append(out, Migration{Version: version, Up: string(up), Down: string(down)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Manager applies migrations and seeds the subsystem rows.
type Manager struct {
	db         *sql.DB
	migrations []Migration
	table      string
	now        func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithTable overrides the bookkeeping table name.
func WithTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithClock sets the time used for bookkeeping and seeded records.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// New returns a manager over the given migrations.
func New(db *sql.DB, migrations []Migration, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		migrations: migrations,
		table:      defaultTable,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations in version order. Each migration and its
// bookkeeping row commit together.
func (m *Manager) Up(ctx context.Context) error {
	applied, err := m.Status(ctx)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}
	for _, mig := range m.migrations {
		if done[mig.Version] {
			continue
		}
		err := m.inTx(ctx, func(tx *sql.Tx) error {
			if err := execScript(ctx, tx, mig.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf(`insert into %s(version, applied_at) values ($1, $2)`, m.table),
				mig.Version, m.now())
			return err
		})
		if err != nil {
			return fmt.Errorf("apply %s: %w", mig.Version, err)
		}
	}
	return nil
}

// Down rolls back the newest applied migration.
func (m *Manager) Down(ctx context.Context) error {
	applied, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNothingApplied
	}
	last := applied[len(applied)-1].Version
	mig, ok := m.find(last)
	if !ok {
		return fmt.Errorf("applied migration %s is unknown to this build", last)
	}
	err = m.inTx(ctx, func(tx *sql.Tx) error {
		if err := execScript(ctx, tx, mig.Down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where version = $1`, m.table), last)
		return err
	})
	if err != nil {
		return fmt.Errorf("roll back %s: %w", last, err)
	}
	return nil
}

// Status lists applied migrations, oldest version first.
func (m *Manager) Status(ctx context.Context) ([]Applied, error) {
	ddl := fmt.Sprintf(`create table if not exists %s (
		version text primary key,
		applied_at timestamptz not null
	)`, m.table)
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create %s: %w", m.table, err)
	}
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select version, applied_at from %s order by version`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Version, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Seed inserts every known subsystem and gives each one without history an
// Available record. Existing rows are left alone, so it can run repeatedly.
func (m *Manager) Seed(ctx context.Context) error {
	at := m.now()
	return m.inTx(ctx, func(tx *sql.Tx) error {
		for _, sub := range status.Subsystems() {
			if _, err := tx.ExecContext(ctx,
				`insert into subsystems(name) values ($1) on conflict (name) do nothing`, string(sub)); err != nil {
				return fmt.Errorf("seed subsystem %s: %w", sub, err)
			}
			if _, err := tx.ExecContext(ctx, `
				insert into subsystem_status(subsystem_id, status, status_changed_at, reporting_user)
				select s.id, $2, $3, 'system' from subsystems s
				where s.name = $1
				  and not exists (select 1 from subsystem_status st where st.subsystem_id = s.id)`,
				string(sub), string(status.Available), at); err != nil {
				return fmt.Errorf("seed status %s: %w", sub, err)
			}
		}
		return nil
	})
}

func (m *Manager) find(version string) (Migration, bool) {
	for _, mig := range m.migrations {
		if mig.Version == version {
			return mig, true
		}
	}
	return Migration{}, false
}

func (m *Manager) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func execScript(ctx context.Context, tx *sql.Tx, script string) error {
	for _, stmt := range statements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// statements splits a script on semicolons outside single-quoted strings and
// drops "--" line comments and empty statements.
func statements(script string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case comment:
			if c == '\n' {
				comment = false
				cur.WriteByte(c)
			}
		case !quoted && c == '-' && i+1 < len(script) && script[i+1] == '-':
			comment = true
		case c == '\'':
			quoted = !quoted
			cur.WriteByte(c)
		case c == ';' && !quoted:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}
