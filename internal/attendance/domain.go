// internal/attendance/domain.go
package attendance

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("attendance: check-in not found")
	ErrNoCurrentMembership = errors.New("attendance: no current membership")
	ErrOutstandingBalance  = errors.New("attendance: outstanding balance")
	ErrAlreadyCheckedOut   = errors.New("attendance: already checked out")
)

// CheckIn is one visit to a facility, admitted against the membership current at entry.
type CheckIn struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	MemberID     uuid.UUID  `json:"member_id" db:"member_id"`
	MembershipID uuid.UUID  `json:"membership_id" db:"membership_id"`
	FacilityID   *uuid.UUID `json:"facility_id,omitempty" db:"facility_id"`
	CheckedInAt  time.Time  `json:"checked_in_at" db:"checked_in_at"`
	CheckedOutAt *time.Time `json:"checked_out_at,omitempty" db:"checked_out_at"`
}

// MemberCheckedInEvent is journaled against the member on entry.
type MemberCheckedInEvent struct {
	CheckInID    uuid.UUID  `json:"check_in_id"`
	MembershipID uuid.UUID  `json:"membership_id"`
	FacilityID   *uuid.UUID `json:"facility_id,omitempty"`
	At           time.Time  `json:"at"`
}

// MemberCheckedOutEvent is journaled against the member on exit.
type MemberCheckedOutEvent struct {
	CheckInID uuid.UUID `json:"check_in_id"`
	At        time.Time `json:"at"`
}
