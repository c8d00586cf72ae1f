// Package backend opens the identity and status stores selected by the
// configuration. Empty DSNs select the in-process development stores.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"saltapi/internal/config"
	"saltapi/internal/httpapi"
	"saltapi/internal/identity"
	"saltapi/internal/obs"
	"saltapi/internal/status"
	"saltapi/internal/store/pg"
	"saltapi/internal/store/sdb"
)

// Backend holds the opened stores and their readiness checks.
type Backend struct {
	Identity identity.Store
	Status   status.Store

	// Set only for database-backed stores.
	Science   *sdb.Store
	StatusSQL *pg.Store
}

// Open opens both stores. On error nothing is left open.
func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	b := &Backend{}

	if cfg.ScienceDB.DSN != "" {
		st, err := sdb.Open(ctx, cfg.ScienceDB.DSN)
		if err != nil {
			return nil, err
		}
		b.Science, b.Identity = st, st
	} else {
		if cfg.FixturePath == "" {
			return nil, errors.New("science_db.dsn or fixture_path is required")
		}
		st, err := identity.LoadFixtureFile(cfg.FixturePath)
		if err != nil {
			return nil, fmt.Errorf("load identity fixture: %w", err)
		}
		obs.Warn("science database not configured, serving identities from fixture", map[string]any{
			"fixture_path": cfg.FixturePath,
		})
		b.Identity = st
	}

	if cfg.StatusDB.DSN != "" {
		st, err := pg.Open(cfg.StatusDB.Driver, cfg.StatusDB.DSN)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.StatusSQL, b.Status = st, st
	} else {
		obs.Warn("status database not configured, keeping status history in memory", nil)
		b.Status = status.NewMemoryStore(InitialRecords(time.Now().UTC())...)
	}
	return b, nil
}

// InitialRecords marks every subsystem available as of at.
func InitialRecords(at time.Time) []status.Record {
	records := make([]status.Record, 0, len(status.Subsystems()))
	for _, sub := range status.Subsystems() {
		changed := at
		records = append(records, status.Record{
			Subsystem:       sub,
			Status:          status.Available,
			StatusChangedAt: &changed,
			ReportingUser:   "system",
		})
	}
	return records
}

// Dependencies lists the readiness checks of the database-backed stores.
func (b *Backend) Dependencies() []httpapi.Dependency {
	var deps []httpapi.Dependency
	if b.Science != nil {
		deps = append(deps, httpapi.Dependency{Name: "science_db", Ping: b.Science.Ping})
	}
	if b.StatusSQL != nil {
		deps = append(deps, httpapi.Dependency{Name: "status_db", Ping: b.StatusSQL.DB().PingContext})
	}
	return deps
}

// Close releases the database handles.
func (b *Backend) Close() error {
	var errs []error
	if b.Science != nil {
		errs = append(errs, b.Science.Close())
	}
	if b.StatusSQL != nil {
		errs = append(errs, b.StatusSQL.Close())
	}
	return errors.Join(errs...)
}
