package membership

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound                = errors.New("membership: not found")
	ErrInvalidMember           = errors.New("membership: invalid member")
	ErrInvalidPlanSelection    = errors.New("membership: invalid plan selection")
	ErrInvalidMembershipRecord = errors.New("membership: invalid membership record")
	ErrPartialSupersession     = errors.New("membership: partial supersession")
	ErrNoCurrentMembership     = errors.New("membership: no current membership")
)

// PartialSupersessionError reports a supersession batch that disabled fewer rows than it
// targeted. The renewal that hit it was rolled back.
type PartialSupersessionError struct {
	MemberID  uuid.UUID
	Requested int
	Disabled  int
}

func (e *PartialSupersessionError) Error() string {
	return fmt.Sprintf("membership: superseded %d of %d memberships for member %s", e.Disabled, e.Requested, e.MemberID)
}

func (e *PartialSupersessionError) Unwrap() error {
	return ErrPartialSupersession
}
