// internal/membership/handler.go
package membership

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gymledger/internal/billing"
	"gymledger/internal/clock"
	"gymledger/internal/httpx"
	"gymledger/pkg/money"
)

type Handler struct {
	service Service
	clock   clock.Clock
}

func NewHandler(service Service, clk clock.Clock) *Handler {
	return &Handler{service: service, clock: clk}
}

// Register adds the member and membership routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/members", h.handleRegisterMember)
	r.Get("/members/{memberID}", h.handleGetMember)
	r.Get("/members/{memberID}/memberships", h.handleListMemberships)
	r.Get("/members/{memberID}/current", h.handleCurrentMembership)
	r.Post("/members/{memberID}/renewals", h.handleRenew)
	r.Post("/members/{memberID}/reconcile", h.handleReconcileStatuses)
	r.Post("/members/{memberID}/balance/reconcile", h.handleReconcileBalance)
}

func (h *Handler) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string     `json:"name" validate:"required,max=200"`
		Email      string     `json:"email" validate:"omitempty,email"`
		Phone      string     `json:"phone" validate:"omitempty,max=32"`
		FacilityID *uuid.UUID `json:"facility_id"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.BadRequest(w, err)
		return
	}

	member, err := h.service.RegisterMember(r.Context(), RegisterRequest{
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		FacilityID: req.FacilityID,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, member)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	member, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, member)
}

func (h *Handler) handleListMemberships(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	ms, err := h.service.ListMemberships(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	if ms == nil {
		ms = []*Membership{}
	}
	httpx.JSON(w, http.StatusOK, ms)
}

func (h *Handler) handleCurrentMembership(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	m, err := h.service.CurrentMembership(r.Context(), id, h.clock.Now())
	if err != nil {
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	memberID, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}

	var req struct {
		PlanID        uuid.UUID             `json:"plan_id" validate:"required"`
		StartDate     *time.Time            `json:"start_date"`
		PaymentMethod billing.PaymentMethod `json:"payment_method" validate:"required"`
		Discount      money.Money           `json:"discount"`
		IsFullPayment bool                  `json:"is_full_payment"`
		PaidAmount    money.Money           `json:"paid_amount"`
		RequestID     string                `json:"request_id" validate:"max=128"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.BadRequest(w, err)
		return
	}

	renew := RenewRequest{
		MemberID:      memberID,
		PlanID:        req.PlanID,
		PaymentMethod: req.PaymentMethod,
		Discount:      req.Discount,
		IsFullPayment: req.IsFullPayment,
		PaidAmount:    req.PaidAmount,
		RequestID:     req.RequestID,
	}
	if renew.RequestID == "" {
		renew.RequestID = r.Header.Get("Idempotency-Key")
	}
	if req.StartDate != nil {
		renew.StartDate = req.StartDate.UTC()
	}

	result, err := h.service.Renew(r.Context(), renew)
	if err != nil {
		WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleReconcileStatuses(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	transitions, err := h.service.ReconcileStatuses(r.Context(), id, h.clock.Now())
	if err != nil {
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"transitions": transitions})
}

func (h *Handler) handleReconcileBalance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	rec, err := h.service.ReconcileBalance(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

// WriteError maps membership errors, and the ledger errors a renewal can surface, onto HTTP
// responses.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Error(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ErrNoCurrentMembership):
		httpx.Error(w, http.StatusNotFound, "no_current_membership", err)
	case errors.Is(err, ErrInvalidMember):
		httpx.Error(w, http.StatusUnprocessableEntity, "invalid_member", err)
	case errors.Is(err, ErrInvalidPlanSelection):
		httpx.Error(w, http.StatusUnprocessableEntity, "invalid_plan_selection", err)
	case errors.Is(err, ErrPartialSupersession):
		httpx.Error(w, http.StatusInternalServerError, "partial_supersession", err)
	default:
		billing.WriteError(w, err)
	}
}
