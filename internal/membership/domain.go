// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"

	"gymledger/internal/billing"
	"gymledger/pkg/money"
)

// Member is a gym member. Balance is what the member owes and is written only by billing.
type Member struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	Name       string      `json:"name" db:"name"`
	Email      string      `json:"email" db:"email"`
	Phone      string      `json:"phone" db:"phone"`
	FacilityID *uuid.UUID  `json:"facility_id,omitempty" db:"facility_id"`
	Balance    money.Money `json:"balance" db:"balance"`
	Version    int         `json:"version" db:"version"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

// Status is the lifecycle position of a membership. It only ever moves forward.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusActive:
		return 1
	case StatusExpired:
		return 2
	}
	return -1
}

// Membership is one purchased term. Plan fields are copied at purchase so later catalog
// changes never rewrite history.
type Membership struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	MemberID      uuid.UUID   `json:"member_id" db:"member_id"`
	PlanID        uuid.UUID   `json:"plan_id" db:"plan_id"`
	PlanName      string      `json:"plan_name" db:"plan_name"`
	DurationDays  int         `json:"duration_days" db:"duration_days"`
	StartDate     time.Time   `json:"start_date" db:"start_date"`
	EndDate       time.Time   `json:"end_date" db:"end_date"`
	Status        Status      `json:"status" db:"status"`
	IsDisabled    bool        `json:"is_disabled" db:"is_disabled"`
	Price         money.Money `json:"price" db:"price"`
	Discount      money.Money `json:"discount" db:"discount"`
	PaymentAmount money.Money `json:"payment_amount" db:"payment_amount"`
	RequestID     *string     `json:"request_id,omitempty" db:"request_id"`
	RequestHash   *string     `json:"-" db:"request_hash"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// NetPrice is the price after discount.
func (m *Membership) NetPrice() money.Money {
	return m.Price.Sub(m.Discount)
}

// RegisterRequest creates a member.
type RegisterRequest struct {
	Name       string
	Email      string
	Phone      string
	FacilityID *uuid.UUID
}

// RenewRequest buys a plan for a member. A zero StartDate means now.
type RenewRequest struct {
	MemberID      uuid.UUID
	PlanID        uuid.UUID
	StartDate     time.Time
	PaymentMethod billing.PaymentMethod
	Discount      money.Money
	IsFullPayment bool
	PaidAmount    money.Money
	RequestID     string
}

// RenewResult is everything a renewal produced. Transaction is nil when nothing was collected.
type RenewResult struct {
	Membership  *Membership          `json:"membership"`
	Transaction *billing.Transaction `json:"transaction"`
	Member      *Member              `json:"member"`
	Superseded  []*Membership        `json:"superseded"`
	Replayed    bool                 `json:"replayed"`
}

// RenewalNotice is handed to the notifier after a renewal commits.
type RenewalNotice struct {
	Member        *Member
	Membership    *Membership
	TransactionID *uuid.UUID
}

// MemberRegisteredEvent is journaled when a member registers.
type MemberRegisteredEvent struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// MembershipPurchasedEvent is journaled against the member for every renewal.
type MembershipPurchasedEvent struct {
	MembershipID  uuid.UUID   `json:"membership_id"`
	PlanID        uuid.UUID   `json:"plan_id"`
	PlanName      string      `json:"plan_name"`
	StartDate     time.Time   `json:"start_date"`
	EndDate       time.Time   `json:"end_date"`
	Status        Status      `json:"status"`
	NetPrice      money.Money `json:"net_price"`
	PaymentAmount money.Money `json:"payment_amount"`
}

// MembershipSupersededEvent lists the records a renewal disabled.
type MembershipSupersededEvent struct {
	SupersededBy uuid.UUID   `json:"superseded_by"`
	Memberships  []uuid.UUID `json:"memberships"`
}

// MembershipStatusesReconciledEvent records the transitions a reconciliation wrote.
type MembershipStatusesReconciledEvent struct {
	Transitions []Transition `json:"transitions"`
}
