package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"saltapi/internal/status"
)

var columns = []string{"name", "status", "status_changed_at", "reason", "expected_available_again_at", "reporting_user"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCurrent(t *testing.T) {
	store, mock := newMock(t)
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("select sub.name, st.status.*from subsystem_status").
		WithArgs("RSS").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("RSS", "Unavailable", t0, "slit mask jam", nil, "op"))
	mock.ExpectQuery("select sub.name, st.status.*from subsystem_status").
		WithArgs("NIR").
		WillReturnRows(sqlmock.NewRows(columns))

	rec, err := store.Current(context.Background(), status.RSS)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if rec.Status != status.Unavailable || rec.Reason == nil || *rec.Reason != "slit mask jam" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.StatusChangedAt == nil || !rec.StatusChangedAt.Equal(t0) || rec.ExpectedAvailableAgainAt != nil {
		t.Fatalf("unexpected times: %+v", rec)
	}

	if _, err := store.Current(context.Background(), status.NIR); !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListOrdersBySubsystem(t *testing.T) {
	store, mock := newMock(t)
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select distinct on \\(sub.name\\)").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("HRS", "Available", t0, nil, nil, "seed").
			AddRow("RSS", "Available", t0, nil, nil, "seed").
			AddRow("Telescope", "Available with restrictions", t0, "wind", nil, "seed"))

	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []status.Subsystem{status.Telescope, status.RSS, status.HRS}
	if len(list) != len(want) {
		t.Fatalf("List returned %d records", len(list))
	}
	for i, s := range want {
		if list[i].Subsystem != s {
			t.Fatalf("List[%d] = %s, want %s", i, list[i].Subsystem, s)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionLocksAndInserts(t *testing.T) {
	store, mock := newMock(t)
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("select id from subsystems where name = \\$1 for update").
		WithArgs("RSS").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectQuery("select sub.name, st.status.*from subsystem_status").
		WithArgs("RSS").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("RSS", "Available", t0, nil, nil, "seed"))
	mock.ExpectExec("insert into subsystem_status").
		WithArgs("RSS", "Available", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "op").
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectCommit()

	rec, err := store.Transition(context.Background(), status.RSS, func(cur status.Record) (status.Record, error) {
		return status.Apply(cur, status.Update{Subsystem: status.RSS, Status: status.Available, ReportingUser: "op"})
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if rec.StatusChangedAt == nil || !rec.StatusChangedAt.Equal(t0) {
		t.Fatalf("status_changed_at not carried forward: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionRollsBackOnValidationError(t *testing.T) {
	store, mock := newMock(t)
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("select id from subsystems").WithArgs("RSS").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectQuery("select sub.name, st.status").WithArgs("RSS").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("RSS", "Available", t0, nil, nil, "seed"))
	mock.ExpectRollback()

	_, err := store.Transition(context.Background(), status.RSS, func(cur status.Record) (status.Record, error) {
		return status.Apply(cur, status.Update{Subsystem: status.RSS, Status: status.Unavailable})
	})
	if !errors.Is(err, status.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionUnknownSubsystem(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select id from subsystems").WithArgs("Dome").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := store.Transition(context.Background(), status.Subsystem("Dome"), func(cur status.Record) (status.Record, error) {
		t.Fatalf("fn must not be called")
		return cur, nil
	})
	if !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionMapsSerializationFailure(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select id from subsystems").WithArgs("HRS").
		WillReturnError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()

	_, err := store.Transition(context.Background(), status.HRS, func(cur status.Record) (status.Record, error) {
		return cur, nil
	})
	if !errors.Is(err, status.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	if err := classify(&pq.Error{Code: "40001"}); !errors.Is(err, status.ErrConflict) {
		t.Fatalf("pq serialization failure should map to ErrConflict, got %v", err)
	}
	if err := classify(&pgconn.PgError{Code: "40001"}); !errors.Is(err, status.ErrConflict) {
		t.Fatalf("pgx serialization failure should map to ErrConflict, got %v", err)
	}
	other := &pgconn.PgError{Code: "23505"}
	if err := classify(other); err != other {
		t.Fatalf("unrelated errors must pass through, got %v", err)
	}
}

func TestInsertUnknownSubsystem(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("insert into subsystem_status").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Insert(context.Background(), status.Record{Subsystem: "Dome", Status: status.Available}); !errors.Is(err, status.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "dsn"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
