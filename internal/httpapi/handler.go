package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civicq/records-service/internal/duplicates"
	"civicq/records-service/internal/logging"
	"civicq/records-service/internal/models"
	"civicq/records-service/internal/requests"
	"civicq/records-service/internal/residents"
	"civicq/records-service/internal/stats"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/tickets"
)

type RequestService interface {
	Submit(ctx context.Context, in requests.SubmitInput) (requests.SubmitResult, error)
	Get(ctx context.Context, requestID string) (requests.Detail, error)
	Cancel(ctx context.Context, requestID string) (models.Request, error)
	MarkItemPrinted(ctx context.Context, itemID string) (models.RequestItem, error)
	ApprovePending(ctx context.Context, personID string) (models.Person, error)
	RejectPending(ctx context.Context, personID string) error
	UpsertCatalogEntry(ctx context.Context, in requests.CatalogInput) (models.Service, error)
	ListCatalog(ctx context.Context, activeOnly bool) ([]models.Service, error)
}

type TicketService interface {
	Requeue(ctx context.Context, requestID string) (models.Ticket, error)
	Get(ctx context.Context, ticketID string) (models.Ticket, error)
	Call(ctx context.Context, ticketID string, in tickets.CallInput) (models.Ticket, error)
	CallNext(ctx context.Context, in tickets.CallInput) (models.Ticket, error)
	Complete(ctx context.Context, ticketID string) (models.Ticket, error)
	Skip(ctx context.Context, ticketID string) (models.Ticket, error)
	DisplayData(ctx context.Context, doneLimit int) (tickets.Display, error)
}

type ResidentService interface {
	Register(ctx context.Context, in residents.RegisterInput) (models.Person, error)
	Update(ctx context.Context, personID string, patch residents.Patch) (models.Person, error)
}

type DuplicateFinder interface {
	Find(ctx context.Context, q duplicates.Query) ([]duplicates.Match, error)
}

type StatsService interface {
	Snapshot(ctx context.Context, dimension string) (models.StatisticsSnapshot, error)
	Reconcile(ctx context.Context) (stats.Report, error)
}

type FeedReader interface {
	Changes(ctx context.Context, after int64, limit int) ([]models.ChangeEvent, error)
	Audit(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

type Dependencies struct {
	Requests   RequestService
	Tickets    TicketService
	Residents  ResidentService
	Duplicates DuplicateFinder
	Stats      StatsService
	Feed       FeedReader
	// Realtime serves the push stream under /realtime; optional.
	Realtime http.Handler
}

type Options struct {
	RateLimitPerMinute int
}

type Handler struct {
	deps      Dependencies
	rateLimit int
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	defaultFeedLimit = 100
	maxFeedLimit     = 1000
)

func NewHandler(deps Dependencies, options Options) *Handler {
	return &Handler{deps: deps, rateLimit: options.RateLimitPerMinute}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(LoggingMiddleware)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if h.deps.Realtime != nil {
		r.Handle("/realtime/*", h.deps.Realtime)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimit(h.rateLimit))

		// kiosk and public display
		r.Post("/requests", h.handleSubmitRequest)
		r.Get("/display", h.handleDisplay)
		r.Get("/catalog", h.handleListCatalog)

		r.Group(func(r chi.Router) {
			r.Use(StaffMiddleware)

			r.Get("/requests/{id}", h.handleGetRequest)
			r.Post("/requests/{id}/cancel", h.handleCancelRequest)
			r.Post("/requests/{id}/requeue", h.handleRequeue)
			r.Post("/request-items/{id}/printed", h.handleItemPrinted)

			r.Post("/persons/{id}/approve", h.handleApprove)
			r.Post("/persons/{id}/reject", h.handleReject)
			r.Post("/residents", h.handleRegisterResident)
			r.Patch("/residents/{id}", h.handleUpdateResident)
			r.Get("/duplicates", h.handleDuplicates)

			r.Post("/tickets/call-next", h.handleCallNext)
			r.Get("/tickets/{id}", h.handleGetTicket)
			r.Post("/tickets/{id}/call", h.handleCall)
			r.Post("/tickets/{id}/complete", h.handleComplete)
			r.Post("/tickets/{id}/skip", h.handleSkip)

			r.Get("/stats/{dimension}", h.handleSnapshot)
			r.Post("/stats/reconcile", h.handleReconcile)

			r.Put("/catalog/{id}", h.handleUpsertCatalog)
			r.Get("/changes", h.handleChanges)
			r.Get("/audit", h.handleAudit)
		})
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		writeError(w, r, http.StatusBadRequest, "validation_error", name+" must be a non-negative integer")
		return 0, false
	}
	return value, true
}

func feedLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, ok := queryInt(w, r, "limit", defaultFeedLimit)
	if !ok {
		return 0, false
	}
	if limit == 0 || limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	return limit, true
}

// mapError translates engine error kinds into HTTP statuses and stable codes.
func mapError(err error) (int, string, string) {
	var domainErr *store.Error
	if errors.As(err, &domainErr) {
		message := domainErr.Message
		switch domainErr.Kind {
		case store.KindValidation:
			return http.StatusBadRequest, "validation_error", message
		case store.KindNotFound:
			return http.StatusNotFound, "not_found", message
		case store.KindInvalidState:
			return http.StatusConflict, "invalid_state", message
		case store.KindConflict:
			return http.StatusConflict, "conflict", "concurrent update, retry the request"
		case store.KindNotFoundInactive:
			return http.StatusUnprocessableEntity, "not_found_or_inactive", message
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "unavailable", "request cancelled"
	}
	return http.StatusInternalServerError, "internal_error", "internal server error"
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, r, status, code, message)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: logging.RequestIDFromContext(r.Context()),
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
