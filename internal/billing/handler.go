// internal/billing/handler.go
package billing

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gymledger/internal/httpx"
	"gymledger/pkg/money"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register adds the member ledger and transaction routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/members/{memberID}/payments", h.handlePayOutstanding)
	r.Get("/members/{memberID}/transactions", h.handleListTransactions)
	r.Get("/members/{memberID}/balance", h.handleGetBalance)
	r.Get("/transactions/{transactionID}", h.handleGetTransaction)
}

type paymentBody struct {
	Amount        money.Money   `json:"amount" validate:"gt=0"`
	PaymentMethod PaymentMethod `json:"payment_method" validate:"required"`
	MembershipID  *uuid.UUID    `json:"membership_id"`
	RequestID     string        `json:"request_id" validate:"max=128"`
}

func (h *Handler) handlePayOutstanding(w http.ResponseWriter, r *http.Request) {
	memberID, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}

	var body paymentBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.BadRequest(w, err)
		return
	}
	requestID := body.RequestID
	if requestID == "" {
		requestID = r.Header.Get("Idempotency-Key")
	}

	tx, err := h.service.PayOutstandingBalance(r.Context(), PaymentRequest{
		MemberID:     memberID,
		MembershipID: body.MembershipID,
		Amount:       body.Amount,
		Method:       body.PaymentMethod,
		RequestID:    requestID,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if tx.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, tx)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	memberID, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}

	filter := TransactionFilter{
		MemberID: &memberID,
		Type:     TransactionType(r.URL.Query().Get("type")),
		Status:   TransactionStatus(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("membership_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.BadRequest(w, errors.New("invalid membership_id"))
			return
		}
		filter.MembershipID = &id
	}

	txs, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	if txs == nil {
		txs = []*Transaction{}
	}
	httpx.JSON(w, http.StatusOK, txs)
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	memberID, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	balance, err := h.service.GetBalance(r.Context(), memberID)
	if err != nil {
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "transactionID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	tx, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tx)
}

// WriteError maps billing errors onto HTTP responses. Other packages reuse it for errors that
// bubble up from the ledger.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Error(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidPaymentMethod):
		httpx.Error(w, http.StatusUnprocessableEntity, "invalid_amount", err)
	case errors.Is(err, ErrInvalidPaymentAmount):
		httpx.Error(w, http.StatusUnprocessableEntity, "invalid_payment_amount", err)
	case errors.Is(err, ErrIdempotencyConflict):
		httpx.Error(w, http.StatusConflict, "idempotency_conflict", err)
	case errors.Is(err, ErrBalanceSyncFailure):
		httpx.Error(w, http.StatusInternalServerError, "balance_sync_failure", err)
	case errors.Is(err, ErrVersionConflict):
		httpx.Error(w, http.StatusConflict, "version_conflict", err)
	default:
		httpx.Error(w, http.StatusInternalServerError, "internal", err)
	}
}
