package server

import (
	"errors"
	"net/http"

	"gymledger/internal/httpx"
	"gymledger/internal/membership"
	"gymledger/pkg/eventstore"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

type journalHandler struct {
	journal eventstore.Store
	members membership.Service
}

// handleHistory returns every journal entry recorded against a member, oldest first.
func (h *journalHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "memberID")
	if err != nil {
		httpx.BadRequest(w, err)
		return
	}
	if _, err := h.members.GetMember(r.Context(), id); err != nil {
		membership.WriteError(w, err)
		return
	}
	events, err := h.journal.LoadEvents(r.Context(), id, 0, 0)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "journal_unavailable", err)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	httpx.JSON(w, http.StatusOK, events)
}

// handleEvents pages through the whole journal by event id.
func (h *journalHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, err := httpx.IntQuery(r, "after", 0)
	if err != nil || after < 0 {
		httpx.BadRequest(w, errors.New("invalid after"))
		return
	}
	limit, err := httpx.IntQuery(r, "limit", defaultEventPage)
	if err != nil || limit <= 0 {
		httpx.BadRequest(w, errors.New("invalid limit"))
		return
	}
	if limit > maxEventPage {
		limit = maxEventPage
	}

	events, err := h.journal.StreamEvents(r.Context(), int64(after), limit)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "journal_unavailable", err)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	next := int64(after)
	if len(events) > 0 {
		next = events[len(events)-1].ID
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"events": events, "next": next})
}
