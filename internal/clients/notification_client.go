// internal/clients/notification_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"gymledger/internal/billing"
	"gymledger/internal/membership"
	"gymledger/pkg/money"
)

// statusError is a non-2xx reply from the notification service.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// NotificationClient posts renewal and payment notices to the messaging service that fans
// them out over SMS or WhatsApp. Calls go through a circuit breaker and are retried with
// exponential backoff while the breaker is closed.
type NotificationClient struct {
	baseURL  string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	maxTries uint
	logger   *zap.Logger
}

func NewNotificationClient(baseURL string, logger *zap.Logger) *NotificationClient {
	logger = logger.Named("notifications")
	settings := gobreaker.Settings{
		Name:        "notifications",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var se *statusError
			// a rejected payload says nothing about the service's health
			return err == nil || (errors.As(err, &se) && se.code < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	}
	return &NotificationClient{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 5 * time.Second},
		breaker:  gobreaker.NewCircuitBreaker(settings),
		maxTries: 3,
		logger:   logger,
	}
}

type renewalNotice struct {
	MemberID      uuid.UUID   `json:"member_id"`
	Name          string      `json:"name"`
	Email         string      `json:"email,omitempty"`
	Phone         string      `json:"phone,omitempty"`
	MembershipID  uuid.UUID   `json:"membership_id"`
	PlanName      string      `json:"plan_name"`
	StartDate     time.Time   `json:"start_date"`
	EndDate       time.Time   `json:"end_date"`
	TransactionID *uuid.UUID  `json:"transaction_id,omitempty"`
	Balance       money.Money `json:"balance"`
}

type paymentNotice struct {
	MemberID      uuid.UUID             `json:"member_id"`
	TransactionID uuid.UUID             `json:"transaction_id"`
	Amount        money.Money           `json:"amount"`
	Method        billing.PaymentMethod `json:"payment_method"`
	Balance       money.Money           `json:"balance"`
}

// NotifyRenewal implements membership.Notifier.
func (c *NotificationClient) NotifyRenewal(ctx context.Context, notice membership.RenewalNotice) error {
	return c.post(ctx, "/renewals", renewalNotice{
		MemberID:      notice.Member.ID,
		Name:          notice.Member.Name,
		Email:         notice.Member.Email,
		Phone:         notice.Member.Phone,
		MembershipID:  notice.Membership.ID,
		PlanName:      notice.Membership.PlanName,
		StartDate:     notice.Membership.StartDate,
		EndDate:       notice.Membership.EndDate,
		TransactionID: notice.TransactionID,
		Balance:       notice.Member.Balance,
	})
}

// NotifyPayment implements billing.Notifier.
func (c *NotificationClient) NotifyPayment(ctx context.Context, tx *billing.Transaction, balance money.Money) error {
	return c.post(ctx, "/payments", paymentNotice{
		MemberID:      tx.MemberID,
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Method:        tx.PaymentMethod,
		Balance:       balance,
	})
}

func (c *NotificationClient) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.send(ctx, path, body)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return struct{}{}, backoff.Permanent(err)
		}
		var se *statusError
		if errors.As(err, &se) && se.code < 500 {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		return fmt.Errorf("failed to deliver notification to %s: %w", path, err)
	}
	return nil
}

func (c *NotificationClient) send(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

var (
	_ membership.Notifier = (*NotificationClient)(nil)
	_ billing.Notifier    = (*NotificationClient)(nil)
)
