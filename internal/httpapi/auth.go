package httpapi

import (
	"net/http"
	"strings"

	"civicq/records-service/internal/logging"
)

// staffHeader carries the staff identity asserted by the upstream identity
// layer. Authentication itself happens there.
const staffHeader = "X-Staff-ID"

// StaffMiddleware rejects requests without a staff identity and records the
// identity as the actor for audit entries.
func StaffMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		staffID := strings.TrimSpace(r.Header.Get(staffHeader))
		if staffID == "" {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing staff identity")
			return
		}
		ctx := logging.ContextWithActor(r.Context(), staffID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
