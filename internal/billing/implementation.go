// internal/billing/implementation.go
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gymledger/internal/clock"
	"gymledger/internal/lock"
	"gymledger/internal/telemetry"
	"gymledger/pkg/eventstore"
	"gymledger/pkg/money"
)

const maxBalanceAttempts = 3

// service implements the Service interface.
type service struct {
	store      Store
	eventStore eventstore.Store
	locker     lock.Locker
	notifier   Notifier
	clock      clock.Clock
	logger     *zap.Logger
	tracer     trace.Tracer

	payments     metric.Int64Counter
	syncFailures metric.Int64Counter
}

// NewService creates a new billing ledger. notifier may be nil.
func NewService(store Store, es eventstore.Store, locker lock.Locker, notifier Notifier, clk clock.Clock, logger *zap.Logger) Service {
	meter := otel.Meter("gymledger/billing")
	return &service{
		store:        store,
		eventStore:   es,
		locker:       locker,
		notifier:     notifier,
		clock:        clk,
		logger:       logger.Named("billing"),
		tracer:       otel.Tracer("gymledger/billing"),
		payments:     telemetry.Counter(meter, "gymledger.billing.payments", "Completed payment transactions"),
		syncFailures: telemetry.Counter(meter, "gymledger.billing.balance_sync_failures", "Transactions stored without a balance update"),
	}
}

// RecordPayment books a payment and pays the member's balance down by its amount, never below zero.
func (s *service) RecordPayment(ctx context.Context, req PaymentRequest) (*Transaction, error) {
	if err := validatePayment(req, ErrInvalidAmount); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.MemberKey(req.MemberID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock member: %w", err)
	}
	defer unlock()

	return s.recordPayment(ctx, req)
}

// PayOutstandingBalance settles part or all of what a member owes. Unlike a renewal, an
// amount above the current balance is rejected rather than clamped.
func (s *service) PayOutstandingBalance(ctx context.Context, req PaymentRequest) (*Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "billing.pay_outstanding",
		trace.WithAttributes(
			attribute.String("member.id", req.MemberID.String()),
			attribute.Int64("amount.minor", req.Amount.Minor()),
		),
	)
	defer span.End()

	if err := validatePayment(req, ErrInvalidPaymentAmount); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.MemberKey(req.MemberID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock member: %w", err)
	}
	defer unlock()

	// a retried request must replay even though the balance has since dropped
	if existing, err := s.replay(ctx, req.RequestID, paymentFingerprint(req)); existing != nil || err != nil {
		return existing, err
	}

	balance, err := s.store.GetBalance(ctx, req.MemberID)
	if err != nil {
		return nil, s.wrapLookup("balance", err)
	}
	if req.Amount > balance.Amount {
		span.SetAttributes(attribute.Bool("payment.rejected", true))
		return nil, fmt.Errorf("%w: paying %s against a balance of %s", ErrInvalidPaymentAmount, req.Amount, balance.Amount)
	}

	return s.recordPayment(ctx, req)
}

// recordPayment assumes the member lock is held and req is valid.
func (s *service) recordPayment(ctx context.Context, req PaymentRequest) (*Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "billing.record_payment",
		trace.WithAttributes(attribute.String("member.id", req.MemberID.String())),
	)
	defer span.End()

	hash := paymentFingerprint(req)
	if existing, err := s.replay(ctx, req.RequestID, hash); existing != nil || err != nil {
		return existing, err
	}

	tx := s.newPayment(req.MemberID, req.MembershipID, req.Amount, req.Method, req.RequestID, hash)
	if err := s.store.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}
	span.SetAttributes(attribute.String("transaction.id", tx.ID.String()))

	after, err := s.adjustBalance(ctx, req.MemberID, func(current money.Money) money.Money {
		return money.Max(money.Zero, current.Sub(req.Amount))
	})
	if err != nil {
		return tx, s.syncFailure(ctx, tx, err)
	}

	s.afterPayment(ctx, tx, after)
	return tx, nil
}

// RecordRenewalPayment books what a renewal collected now and adds what it left owing to the
// member's balance. The caller holds the member lock.
func (s *service) RecordRenewalPayment(ctx context.Context, charge RenewalCharge) (*Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "billing.record_renewal_payment",
		trace.WithAttributes(
			attribute.String("member.id", charge.MemberID.String()),
			attribute.String("membership.id", charge.MembershipID.String()),
			attribute.Int64("charge.minor", charge.Amount.Minor()),
			attribute.Int64("balance.minor", charge.ResultingBalance.Minor()),
		),
	)
	defer span.End()

	if charge.Amount.IsNegative() || charge.ResultingBalance.IsNegative() {
		return nil, fmt.Errorf("%w: negative renewal charge", ErrInvalidAmount)
	}
	if !charge.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, charge.Method)
	}

	if existing, err := s.replay(ctx, charge.RequestID, charge.RequestHash); existing != nil || err != nil {
		return existing, err
	}

	var tx *Transaction
	if charge.Amount.IsPositive() {
		membershipID := charge.MembershipID
		tx = s.newPayment(charge.MemberID, &membershipID, charge.Amount, charge.Method, charge.RequestID, charge.RequestHash)
		if err := s.store.InsertTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("failed to insert transaction: %w", err)
		}
	}

	after := money.Zero
	if charge.ResultingBalance.IsPositive() {
		var err error
		after, err = s.adjustBalance(ctx, charge.MemberID, func(current money.Money) money.Money {
			return current.Add(charge.ResultingBalance)
		})
		if err != nil {
			failed := tx
			if failed == nil {
				failed = &Transaction{MemberID: charge.MemberID}
			}
			return tx, s.syncFailure(ctx, failed, err)
		}
	} else if tx != nil {
		if balance, err := s.store.GetBalance(ctx, charge.MemberID); err == nil {
			after = balance.Amount
		}
	}

	if tx != nil {
		s.afterPayment(ctx, tx, after)
	}
	return tx, nil
}

// ReconcileBalance recomputes the balance as charges minus completed payments plus completed
// refunds, floored at zero, and stores it if it drifted.
func (s *service) ReconcileBalance(ctx context.Context, memberID uuid.UUID, charges money.Money) (*Reconciliation, error) {
	ctx, span := s.tracer.Start(ctx, "billing.reconcile_balance",
		trace.WithAttributes(attribute.String("member.id", memberID.String())),
	)
	defer span.End()

	current, err := s.store.GetBalance(ctx, memberID)
	if err != nil {
		return nil, s.wrapLookup("balance", err)
	}

	txs, err := s.store.ListTransactions(ctx, TransactionFilter{MemberID: &memberID, Status: StatusCompleted})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	rec := &Reconciliation{MemberID: memberID, Charges: charges, Previous: current.Amount}
	for _, tx := range txs {
		switch tx.Type {
		case TypePayment:
			rec.Paid = rec.Paid.Add(tx.Amount)
		case TypeRefund:
			rec.Refunded = rec.Refunded.Add(tx.Amount)
		}
	}
	rec.Reconciled = money.Max(money.Zero, charges.Sub(rec.Paid).Add(rec.Refunded))

	if rec.Reconciled == rec.Previous {
		return rec, nil
	}

	if _, err := s.adjustBalance(ctx, memberID, func(money.Money) money.Money { return rec.Reconciled }); err != nil {
		return nil, fmt.Errorf("failed to store reconciled balance: %w", err)
	}
	span.SetAttributes(attribute.Bool("balance.drifted", true))
	s.logger.Info("balance reconciled",
		zap.Stringer("member_id", memberID),
		zap.Stringer("previous", rec.Previous),
		zap.Stringer("reconciled", rec.Reconciled),
	)

	event := BalanceReconciledEvent{Previous: rec.Previous, Reconciled: rec.Reconciled}
	if err := eventstore.Record(ctx, s.eventStore, memberID, "member", "BalanceReconciled", event); err != nil {
		s.logger.Warn("journal append failed", zap.Stringer("member_id", memberID), zap.Error(err))
	}
	return rec, nil
}

func (s *service) GetBalance(ctx context.Context, memberID uuid.UUID) (*Balance, error) {
	balance, err := s.store.GetBalance(ctx, memberID)
	if err != nil {
		return nil, s.wrapLookup("balance", err)
	}
	return balance, nil
}

func (s *service) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, s.wrapLookup("transaction", err)
	}
	return tx, nil
}

// FindByRequestID returns the transaction booked under an idempotency key.
func (s *service) FindByRequestID(ctx context.Context, requestID string) (*Transaction, error) {
	tx, err := s.store.GetTransactionByRequestID(ctx, requestID)
	if err != nil {
		return nil, s.wrapLookup("transaction", err)
	}
	return tx, nil
}

func (s *service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*Transaction, error) {
	txs, err := s.store.ListTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// adjustBalance is the only path that writes Member.balance. It retries on a stale version.
func (s *service) adjustBalance(ctx context.Context, memberID uuid.UUID, next func(money.Money) money.Money) (money.Money, error) {
	var lastErr error
	for attempt := 0; attempt < maxBalanceAttempts; attempt++ {
		current, err := s.store.GetBalance(ctx, memberID)
		if err != nil {
			return 0, err
		}

		updated := next(current.Amount)
		err = s.store.UpdateBalance(ctx, memberID, updated, current.Version)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (s *service) replay(ctx context.Context, requestID, hash string) (*Transaction, error) {
	if requestID == "" {
		return nil, nil
	}
	existing, err := s.store.GetTransactionByRequestID(ctx, requestID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up request id: %w", err)
	}
	if existing.RequestHash == nil || *existing.RequestHash != hash {
		return nil, fmt.Errorf("%w: %s", ErrIdempotencyConflict, requestID)
	}
	s.logger.Info("replaying idempotent payment", zap.String("request_id", requestID), zap.Stringer("transaction_id", existing.ID))
	replayed := *existing
	replayed.Replayed = true
	return &replayed, nil
}

func (s *service) newPayment(memberID uuid.UUID, membershipID *uuid.UUID, amount money.Money, method PaymentMethod, requestID, hash string) *Transaction {
	tx := &Transaction{
		ID:            uuid.New(),
		MemberID:      memberID,
		MembershipID:  membershipID,
		Amount:        amount,
		Type:          TypePayment,
		PaymentMethod: method,
		Status:        StatusCompleted,
		CreatedAt:     s.clock.Now(),
	}
	if requestID != "" {
		tx.RequestID = &requestID
		tx.RequestHash = &hash
	}
	return tx
}

func (s *service) syncFailure(ctx context.Context, tx *Transaction, cause error) error {
	s.syncFailures.Add(ctx, 1)
	s.logger.Error("balance sync failure",
		zap.Stringer("member_id", tx.MemberID),
		zap.Stringer("transaction_id", tx.ID),
		zap.Error(cause),
	)
	return &BalanceSyncError{MemberID: tx.MemberID, TransactionID: tx.ID, Err: cause}
}

func (s *service) afterPayment(ctx context.Context, tx *Transaction, balance money.Money) {
	s.payments.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(tx.PaymentMethod))))

	event := PaymentRecordedEvent{
		TransactionID: tx.ID,
		MembershipID:  tx.MembershipID,
		Amount:        tx.Amount,
		Method:        tx.PaymentMethod,
		BalanceAfter:  balance,
	}
	if err := eventstore.Record(ctx, s.eventStore, tx.MemberID, "member", "PaymentRecorded", event); err != nil {
		s.logger.Warn("journal append failed", zap.Stringer("transaction_id", tx.ID), zap.Error(err))
	}

	if s.notifier == nil {
		return
	}
	go func(ctx context.Context) {
		if err := s.notifier.NotifyPayment(ctx, tx, balance); err != nil {
			s.logger.Warn("payment notification failed", zap.Stringer("transaction_id", tx.ID), zap.Error(err))
		}
	}(context.WithoutCancel(ctx))
}

func (s *service) wrapLookup(what string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func validatePayment(req PaymentRequest, invalid error) error {
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", invalid, req.Amount)
	}
	if !req.Method.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, req.Method)
	}
	return nil
}

func paymentFingerprint(req PaymentRequest) string {
	membership := ""
	if req.MembershipID != nil {
		membership = req.MembershipID.String()
	}
	return Fingerprint("payment", req.MemberID.String(), membership, req.Amount.String(), string(req.Method))
}
