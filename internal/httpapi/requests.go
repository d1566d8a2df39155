package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"civicq/records-service/internal/requests"
	"civicq/records-service/internal/residents"
)

func (h *Handler) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var in requests.SubmitInput
	if !decodeJSON(w, r, &in) {
		return
	}
	result, err := h.deps.Requests.Submit(r.Context(), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	detail, err := h.deps.Requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	request, err := h.deps.Requests.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (h *Handler) handleRequeue(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.deps.Tickets.Requeue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleItemPrinted(w http.ResponseWriter, r *http.Request) {
	item, err := h.deps.Requests.MarkItemPrinted(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	person, err := h.deps.Requests.ApprovePending(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, person)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Requests.RejectPending(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRegisterResident(w http.ResponseWriter, r *http.Request) {
	var in residents.RegisterInput
	if !decodeJSON(w, r, &in) {
		return
	}
	person, err := h.deps.Residents.Register(r.Context(), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, person)
}

func (h *Handler) handleUpdateResident(w http.ResponseWriter, r *http.Request) {
	var patch residents.Patch
	if !decodeJSON(w, r, &patch) {
		return
	}
	person, err := h.deps.Residents.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, person)
}

func (h *Handler) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	services, err := h.deps.Requests.ListCatalog(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) handleUpsertCatalog(w http.ResponseWriter, r *http.Request) {
	var in requests.CatalogInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.ServiceID = chi.URLParam(r, "id")
	svc, err := h.deps.Requests.UpsertCatalogEntry(r.Context(), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}
