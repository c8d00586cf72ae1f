package status

import "context"

// Store persists the append-only status history.
type Store interface {
	// Current returns the newest record for subsystem or ErrNotFound.
	Current(ctx context.Context, subsystem Subsystem) (Record, error)
	// List returns the current record of every subsystem that has one.
	List(ctx context.Context) ([]Record, error)
	// Insert appends rec to the history.
	Insert(ctx context.Context, rec Record) error
	// Transition reads the current record, passes it to fn and appends the
	// result, with no other transition of the same subsystem in between. A
	// subsystem without history is passed as a zero Record.
	Transition(ctx context.Context, subsystem Subsystem, fn func(current Record) (Record, error)) (Record, error)
}
