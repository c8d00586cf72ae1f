// Package pg stores subsystem status history in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"saltapi/internal/status"
)

// Store is a status.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ status.Store = (*Store)(nil)

// Open connects using driver "pgx" (default) or "postgres" (lib/pq).
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "":
		driver = "pgx"
	case "pgx", "postgres":
	default:
		return nil, fmt.Errorf("unsupported status database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const recordColumns = `sub.name, st.status, st.status_changed_at, st.reason, st.expected_available_again_at, st.reporting_user`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (status.Record, error) {
	var (
		rec      status.Record
		name     string
		state    string
		changed  sql.NullTime
		reason   sql.NullString
		expected sql.NullTime
	)
	if err := row.Scan(&name, &state, &changed, &reason, &expected, &rec.ReportingUser); err != nil {
		return status.Record{}, err
	}
	rec.Subsystem = status.Subsystem(name)
	rec.Status = status.Status(state)
	if changed.Valid {
		t := changed.Time.UTC()
		rec.StatusChangedAt = &t
	}
	if reason.Valid {
		r := reason.String
		rec.Reason = &r
	}
	if expected.Valid {
		t := expected.Time.UTC()
		rec.ExpectedAvailableAgainAt = &t
	}
	return rec, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func current(ctx context.Context, q queryer, subsystem status.Subsystem) (status.Record, error) {
	rec, err := scanRecord(q.QueryRowContext(ctx, `
		select `+recordColumns+`
		from subsystem_status st
		join subsystems sub on sub.id = st.subsystem_id
		where sub.name = $1
		order by st.id desc
		limit 1
	`, string(subsystem)))
	if errors.Is(err, sql.ErrNoRows) {
		return status.Record{}, status.ErrNotFound
	}
	if err != nil {
		return status.Record{}, classify(err)
	}
	return rec, nil
}

func insert(ctx context.Context, q queryer, rec status.Record) error {
	res, err := q.ExecContext(ctx, `
		insert into subsystem_status(subsystem_id, status, status_changed_at, reason, expected_available_again_at, reporting_user)
		select id, $2, $3, $4, $5, $6 from subsystems where name = $1
	`, string(rec.Subsystem), string(rec.Status), nullTime(rec.StatusChangedAt), nullString(rec.Reason), nullTime(rec.ExpectedAvailableAgainAt), rec.ReportingUser)
	if err != nil {
		return classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return status.ErrNotFound
	}
	return nil
}

func (s *Store) Current(ctx context.Context, subsystem status.Subsystem) (status.Record, error) {
	return current(ctx, s.db, subsystem)
}

func (s *Store) List(ctx context.Context) ([]status.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct on (sub.name) `+recordColumns+`
		from subsystem_status st
		join subsystems sub on sub.id = st.subsystem_id
		order by sub.name, st.id desc
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var res []status.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	sort.SliceStable(res, func(i, j int) bool {
		return position(res[i].Subsystem) < position(res[j].Subsystem)
	})
	return res, nil
}

func (s *Store) Insert(ctx context.Context, rec status.Record) error {
	return insert(ctx, s.db, rec)
}

// Transition locks the subsystem row for the duration of the transaction so
// concurrent updates of one subsystem are applied one after the other.
func (s *Store) Transition(ctx context.Context, subsystem status.Subsystem, fn func(status.Record) (status.Record, error)) (status.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return status.Record{}, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx, `select id from subsystems where name = $1 for update`, string(subsystem)).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return status.Record{}, status.ErrNotFound
		}
		return status.Record{}, classify(err)
	}

	cur, err := current(ctx, tx, subsystem)
	if errors.Is(err, status.ErrNotFound) {
		cur = status.Record{}
	} else if err != nil {
		return status.Record{}, err
	}

	next, err := fn(cur)
	if err != nil {
		return status.Record{}, err
	}
	if err := insert(ctx, tx, next); err != nil {
		return status.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return status.Record{}, classify(err)
	}
	return next, nil
}

// classify maps serialization failures and deadlocks to status.ErrConflict.
func classify(err error) error {
	var code string
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Code
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	}
	switch code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %v", status.ErrConflict, err)
	}
	return err
}

func position(s status.Subsystem) int {
	for i, known := range status.Subsystems() {
		if s == known {
			return i
		}
	}
	return len(status.Subsystems())
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
