package invoice

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gymledger/internal/httpx"
)

type Handler struct {
	projector *Projector
}

func NewHandler(projector *Projector) *Handler {
	return &Handler{projector: projector}
}

// Register adds the invoice route to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/transactions/{transactionID}/invoice", h.handleInvoice)
}

func (h *Handler) handleInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "transactionID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}

	inv, err := h.projector.Project(r.Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Error(w, http.StatusNotFound, "not_found", err)
	case err != nil:
		httpx.Error(w, http.StatusInternalServerError, "internal", err)
	default:
		httpx.JSON(w, http.StatusOK, inv)
	}
}
