package membership

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Transition is a status write the resolver wants applied.
type Transition struct {
	MembershipID uuid.UUID `json:"membership_id"`
	From         Status    `json:"from"`
	To           Status    `json:"to"`
}

// Resolution is the resolver's view of a member's memberships at one instant.
type Resolution struct {
	// Current is the canonical active membership, or nil.
	Current *Membership
	// Targets holds the resolved status of every well-formed membership.
	Targets map[uuid.UUID]Status
	// Transitions lists only the records whose stored status differs from the target.
	Transitions []Transition
	// Rejected holds one ErrInvalidMembershipRecord per malformed record.
	Rejected []error
}

// Classify places m on the timeline at now, ignoring what is stored.
// The end date is inclusive.
func Classify(now time.Time, m *Membership) Status {
	switch {
	case m.IsDisabled || m.EndDate.Before(now):
		return StatusExpired
	case m.StartDate.After(now):
		return StatusPending
	default:
		return StatusActive
	}
}

func validateRecord(m *Membership) error {
	switch {
	case m.StartDate.IsZero():
		return fmt.Errorf("%w: %s has no start date", ErrInvalidMembershipRecord, m.ID)
	case m.EndDate.IsZero():
		return fmt.Errorf("%w: %s has no end date", ErrInvalidMembershipRecord, m.ID)
	case m.EndDate.Before(m.StartDate):
		return fmt.Errorf("%w: %s ends before it starts", ErrInvalidMembershipRecord, m.ID)
	}
	return nil
}

// Resolve decides the status of every membership at now without mutating anything.
//
// Stored statuses never regress: the target is the later of the stored and classified status.
// When more than one record is active the latest start wins, then the latest creation, then the
// larger id; the others are forced to expired. Disabled records are never current, but their
// stored status is left as it is so history still shows what they were when superseded.
func Resolve(now time.Time, memberships []*Membership) Resolution {
	res := Resolution{Targets: make(map[uuid.UUID]Status, len(memberships))}

	var active []*Membership
	for _, m := range memberships {
		if err := validateRecord(m); err != nil {
			res.Rejected = append(res.Rejected, err)
			continue
		}
		if m.IsDisabled {
			res.Targets[m.ID] = StatusExpired
			continue
		}

		target := Classify(now, m)
		if m.Status.rank() > target.rank() {
			target = m.Status
		}
		res.Targets[m.ID] = target
		if target == StatusActive {
			active = append(active, m)
		}
	}

	if len(active) > 0 {
		sort.Slice(active, func(i, j int) bool { return outranks(active[i], active[j]) })
		res.Current = active[0]
		for _, m := range active[1:] {
			res.Targets[m.ID] = StatusExpired
		}
	}

	for _, m := range memberships {
		target, ok := res.Targets[m.ID]
		if !ok || m.IsDisabled || target == m.Status {
			continue
		}
		res.Transitions = append(res.Transitions, Transition{MembershipID: m.ID, From: m.Status, To: target})
	}
	return res
}

func outranks(a, b *Membership) bool {
	if !a.StartDate.Equal(b.StartDate) {
		return a.StartDate.After(b.StartDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}

// Apply returns a copy of memberships with the resolution's transitions applied.
func (r Resolution) Apply(memberships []*Membership) []*Membership {
	out := make([]*Membership, len(memberships))
	for i, m := range memberships {
		cp := *m
		if target, ok := r.Targets[m.ID]; ok && !m.IsDisabled {
			cp.Status = target
		}
		out[i] = &cp
	}
	return out
}
