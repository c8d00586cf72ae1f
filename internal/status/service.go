package status

import (
	"context"
	"errors"

	"saltapi/internal/audit"
	"saltapi/internal/obs"
)

// Publisher receives every record stored by a successful update.
type Publisher interface {
	Publish(Record)
}

// Service validates and records status updates.
type Service struct {
	store     Store
	publisher Publisher
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublisher announces stored records to p.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// NewService returns a service over store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the current status of all subsystems.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	return s.store.List(ctx)
}

// Update applies u to the subsystem's current record and appends the result.
func (s *Service) Update(ctx context.Context, u Update) (Record, error) {
	if u.Subsystem == "" || u.Status == "" {
		// Apply reports which field is missing.
		_, err := Apply(Record{}, u)
		return Record{}, err
	}
	if !u.Subsystem.Valid() {
		obs.ObserveStatusUpdate("unknown", "invalid")
		return Record{}, invalid("subsystem", "unknown subsystem %q", u.Subsystem)
	}

	rec, err := s.store.Transition(ctx, u.Subsystem, func(current Record) (Record, error) {
		return Apply(current, u)
	})
	switch {
	case err == nil:
		obs.ObserveStatusUpdate(string(u.Subsystem), "ok")
	case errors.Is(err, ErrValidation):
		obs.ObserveStatusUpdate(string(u.Subsystem), "invalid")
		return Record{}, err
	case errors.Is(err, ErrConflict):
		obs.ObserveStatusUpdate(string(u.Subsystem), "conflict")
		return Record{}, err
	default:
		obs.ObserveStatusUpdate(string(u.Subsystem), "error")
		return Record{}, err
	}

	_ = audit.LogEvent(ctx, "status.updated", map[string]any{
		"subsystem": string(rec.Subsystem),
		"status":    string(rec.Status),
	})
	if s.publisher != nil {
		s.publisher.Publish(rec)
	}
	return rec, nil
}
