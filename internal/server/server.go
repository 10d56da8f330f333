package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/payline/internal/middleware"
	"github.com/dukerupert/payline/internal/payments"
)

type Server struct {
	intents     *payments.IntentService
	receiver    *payments.Receiver
	authSecret  string
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(intents *payments.IntentService, receiver *payments.Receiver, authSecret string, logger *slog.Logger) *Server {
	return &Server{
		intents:     intents,
		receiver:    receiver,
		authSecret:  authSecret,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	// Webhook endpoint is public; the shared key on the query string is the
	// auth, checked inside the receiver.
	mux.HandleFunc("POST /payments/webhook", s.handleWebhook)

	authMw := middleware.RequireAuth(s.authSecret)
	rateLimitMw := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)
	mux.Handle("POST /payments/intent", rateLimitMw(authMw(http.HandlerFunc(s.handleCreateIntent))))

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	e := payments.AsError(err)
	writeJSON(w, e.HTTPStatus(), map[string]string{"error": e.Message})
}
