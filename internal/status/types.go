// Package status tracks the availability of the telescope's subsystems.
package status

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a subsystem has no recorded status.
	ErrNotFound = errors.New("status: not found")
	// ErrConflict is returned when a concurrent update prevented the transition; it may be retried.
	ErrConflict = errors.New("status: concurrent update")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("status: invalid update")
)

// Subsystem is a facility component with its own availability status.
type Subsystem string

const (
	Telescope Subsystem = "Telescope"
	Salticam  Subsystem = "Salticam"
	RSS       Subsystem = "RSS"
	HRS       Subsystem = "HRS"
	BVIT      Subsystem = "BVIT"
	NIR       Subsystem = "NIR"
)

var subsystems = []Subsystem{Telescope, Salticam, RSS, HRS, BVIT, NIR}

// Subsystems lists all subsystems in display order.
func Subsystems() []Subsystem {
	return append([]Subsystem(nil), subsystems...)
}

// Valid reports whether s is a known subsystem.
func (s Subsystem) Valid() bool {
	for _, known := range subsystems {
		if s == known {
			return true
		}
	}
	return false
}

// Status is a subsystem's availability.
type Status string

const (
	Available                 Status = "Available"
	AvailableWithRestrictions Status = "Available with restrictions"
	Unavailable               Status = "Unavailable"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case Available, AvailableWithRestrictions, Unavailable:
		return true
	}
	return false
}

// Record is one entry in a subsystem's status history. The newest record is
// the current status.
type Record struct {
	Subsystem                Subsystem  `json:"subsystem"`
	Status                   Status     `json:"status"`
	StatusChangedAt          *time.Time `json:"status_changed_at"`
	Reason                   *string    `json:"reason"`
	ExpectedAvailableAgainAt *time.Time `json:"expected_available_again_at"`
	ReportingUser            string     `json:"reporting_user"`
}

// Update is a requested status change. Nil optional fields are unspecified.
type Update struct {
	Subsystem                Subsystem  `json:"subsystem"`
	Status                   Status     `json:"status"`
	StatusChangedAt          *Timestamp `json:"status_changed_at"`
	Reason                   *string    `json:"reason"`
	ExpectedAvailableAgainAt *Timestamp `json:"expected_available_again_at"`
	ReportingUser            string     `json:"-"`
}

// ValidationError describes a rejected update. Missing is set when a required
// field was not supplied at all.
type ValidationError struct {
	Field   string
	Message string
	Missing bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
