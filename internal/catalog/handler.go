// internal/catalog/handler.go
package catalog

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

// Routes mounts the plan endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreatePlan)
	r.Get("/", h.handleListPlans)
	r.Get("/{planID}", h.handleGetPlan)
	r.Delete("/{planID}", h.handleRetirePlan)
	return r
}

func (h *Handler) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string      `json:"name" validate:"required,max=120"`
		Description  string      `json:"description" validate:"max=1000"`
		Price        money.Money `json:"price" validate:"gt=0"`
		DurationDays int         `json:"duration_days" validate:"gt=0"`
		FacilityID   *uuid.UUID  `json:"facility_id"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.BadRequest(w, err)
		return
	}

	plan, err := h.service.CreatePlan(r.Context(), CreatePlanRequest{
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		DurationDays: req.DurationDays,
		FacilityID:   req.FacilityID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, plan)
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	opts := ListOpts{IncludeRetired: r.URL.Query().Get("include_retired") == "true"}
	if raw := r.URL.Query().Get("facility_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.BadRequest(w, errors.New("invalid facility_id"))
			return
		}
		opts.FacilityID = &id
	}

	plans, err := h.service.ListPlans(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plans)
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "planID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	plan, err := h.service.GetPlan(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

func (h *Handler) handleRetirePlan(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "planID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	if err := h.service.RetirePlan(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPlanNotFound):
		httpx.Error(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ErrInvalidPlan):
		httpx.Error(w, http.StatusUnprocessableEntity, "invalid_plan", err)
	default:
		httpx.Error(w, http.StatusInternalServerError, "internal", err)
	}
}
