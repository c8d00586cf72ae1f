package status

import "time"

// Apply validates update against the current record and returns the record to
// store. When the status is unchanged, unspecified optional fields keep their
// current values; when it changes, nothing is carried over. A failed update
// returns a *ValidationError and no record.
func Apply(current Record, update Update) (Record, error) {
	if update.Subsystem == "" {
		return Record{}, &ValidationError{Field: "subsystem", Message: "missing field", Missing: true}
	}
	if update.Status == "" {
		return Record{}, &ValidationError{Field: "status", Message: "missing field", Missing: true}
	}
	if !update.Subsystem.Valid() {
		return Record{}, invalid("subsystem", "unknown subsystem %q", update.Subsystem)
	}
	if !update.Status.Valid() {
		return Record{}, invalid("status", "unknown status %q", update.Status)
	}
	if current.Subsystem != "" && current.Subsystem != update.Subsystem {
		return Record{}, invalid("subsystem", "update for %s applied to %s", update.Subsystem, current.Subsystem)
	}

	unchanged := update.Status == current.Status

	var changedAt *time.Time
	if update.StatusChangedAt != nil {
		t, ok := update.StatusChangedAt.Aware()
		if !ok {
			return Record{}, invalid("status_changed_at", "status change time must include a timezone")
		}
		changedAt = &t
	} else if !unchanged {
		return Record{}, invalid("status_changed_at", "status change time is required when the status changes")
	}

	var expected *time.Time
	if update.ExpectedAvailableAgainAt != nil {
		t, ok := update.ExpectedAvailableAgainAt.Aware()
		if !ok {
			return Record{}, invalid("expected_available_again_at", "expected available again time must include a timezone")
		}
		expected = &t
	}

	if update.Status == Available {
		if update.Reason != nil {
			return Record{}, invalid("reason", "no reason may be given for an available subsystem")
		}
		if expected != nil {
			return Record{}, invalid("expected_available_again_at", "no expected available again time may be given for an available subsystem")
		}
	}

	reason := copyString(update.Reason)
	expectedCarried := false
	if unchanged {
		if changedAt == nil {
			changedAt = copyTime(current.StatusChangedAt)
		}
		if expected == nil {
			expected = copyTime(current.ExpectedAvailableAgainAt)
			expectedCarried = expected != nil
		}
		if reason == nil {
			reason = copyString(current.Reason)
		}
	}

	if expected != nil && changedAt != nil && !expected.After(*changedAt) {
		if expectedCarried {
			return Record{}, invalid("expected_available_again_at",
				"current expected available again time %s is not later than the new status change time; supply expected_available_again_at",
				expected.Format(time.RFC3339))
		}
		return Record{}, invalid("expected_available_again_at", "expected available again time must be later than the status change time")
	}

	return Record{
		Subsystem:                update.Subsystem,
		Status:                   update.Status,
		StatusChangedAt:          changedAt,
		Reason:                   reason,
		ExpectedAvailableAgainAt: expected,
		ReportingUser:            update.ReportingUser,
	}, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
