// internal/attendance/handler.go
package attendance

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gymledger/internal/httpx"
	"gymledger/internal/membership"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register adds the check-in routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/checkins", h.handleCheckIn)
	r.Post("/checkins/{checkInID}/checkout", h.handleCheckOut)
	r.Get("/members/{memberID}/checkins", h.handleListCheckIns)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID   uuid.UUID  `json:"member_id" validate:"required"`
		FacilityID *uuid.UUID `json:"facility_id"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.BadRequest(w, err)
		return
	}

	checkIn, err := h.service.CheckIn(r.Context(), req.MemberID, req.FacilityID)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, checkIn)
}

func (h *Handler) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "checkInID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	checkIn, err := h.service.CheckOut(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkIn)
}

func (h *Handler) handleListCheckIns(w http.ResponseWriter, r *http.Request) {
	memberID, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	limit, err := httpx.IntQuery(r, "limit", defaultListLimit)
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	checkIns, err := h.service.ListCheckIns(r.Context(), memberID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if checkIns == nil {
		checkIns = []*CheckIn{}
	}
	httpx.JSON(w, http.StatusOK, checkIns)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, membership.ErrNotFound):
		httpx.Error(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ErrNoCurrentMembership):
		httpx.Error(w, http.StatusForbidden, "no_current_membership", err)
	case errors.Is(err, ErrOutstandingBalance):
		httpx.Error(w, http.StatusPaymentRequired, "outstanding_balance", err)
	case errors.Is(err, ErrAlreadyCheckedOut):
		httpx.Error(w, http.StatusConflict, "already_checked_out", err)
	default:
		httpx.Error(w, http.StatusInternalServerError, "internal", err)
	}
}
