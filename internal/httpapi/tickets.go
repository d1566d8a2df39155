package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"civicq/records-service/internal/logging"
	"civicq/records-service/internal/tickets"
)

type callRequest struct {
	CounterNumber int `json:"counter_number"`
}

func (h *Handler) callInput(w http.ResponseWriter, r *http.Request) (tickets.CallInput, bool) {
	var req callRequest
	if !decodeJSON(w, r, &req) {
		return tickets.CallInput{}, false
	}
	return tickets.CallInput{
		CounterNumber: req.CounterNumber,
		StaffID:       logging.ActorFromContext(r.Context()),
	}, true
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	in, ok := h.callInput(w, r)
	if !ok {
		return
	}
	ticket, err := h.deps.Tickets.CallNext(r.Context(), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.deps.Tickets.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request) {
	in, ok := h.callInput(w, r)
	if !ok {
		return
	}
	ticket, err := h.deps.Tickets.Call(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.deps.Tickets.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleSkip(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.deps.Tickets.Skip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "done_limit", 0)
	if !ok {
		return
	}
	display, err := h.deps.Tickets.DisplayData(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, display)
}
