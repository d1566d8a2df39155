package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"civicq/records-service/internal/duplicates"
	"civicq/records-service/internal/models"
)

func (h *Handler) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	birthdate, err := models.ParseDate(strings.TrimSpace(q.Get("birthdate")))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "birthdate must be formatted YYYY-MM-DD")
		return
	}
	matches, err := h.deps.Duplicates.Find(r.Context(), duplicates.Query{
		FirstName: q.Get("first_name"),
		LastName:  q.Get("last_name"),
		Birthdate: birthdate,
		ExcludeID: strings.TrimSpace(q.Get("exclude_id")),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Stats.Snapshot(r.Context(), chi.URLParam(r, "dimension"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Stats.Reconcile(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleChanges(w http.ResponseWriter, r *http.Request) {
	var after int64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, r, http.StatusBadRequest, "validation_error", "after must be a non-negative integer")
			return
		}
		after = parsed
	}
	limit, ok := feedLimit(w, r)
	if !ok {
		return
	}
	events, err := h.deps.Feed.Changes(r.Context(), after, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := feedLimit(w, r)
	if !ok {
		return
	}
	entries, err := h.deps.Feed.Audit(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
