package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/health"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/handler"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/middleware"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/response"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/service"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	MessageHandler   *handler.MessageHandler
	WSHandler        *handler.WSHandler
	Gate             *service.AuthGate
	AuthRateLimitRPM int
	Readiness        *health.ProbeRunner
	EnableOTelHTTP   bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)

	authLimiter := middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(authLimiter).Post("/refresh-tokens", dep.AuthHandler.Refresh)
			r.With(middleware.AuthMiddleware(dep.Gate)).Post("/logout", dep.AuthHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(dep.Gate))
			r.Post("/conversations/{conversation_id}/messages", dep.MessageHandler.SendDirect)
			r.Post("/rooms/{room_id}/messages", dep.MessageHandler.SendRoom)
		})
	})

	// The websocket route authenticates inside the handler so that browser
	// clients can pass the token as a query parameter.
	r.Get("/ws", dep.WSHandler.Serve)

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
