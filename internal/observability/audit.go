package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Audit emits one structured line per security-relevant action. The request
// id comes from the chi context slot, where the request-id middleware puts
// server-minted ids; the header only carries client-supplied ones.
func Audit(r *http.Request, event string, attrs ...any) {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", id,
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}
