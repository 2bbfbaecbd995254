package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/TheGitano/telegram-tts-bot/internal/http/handlers"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/middleware"
)

// NewRouter exposes the operations endpoints.
func NewRouter(app *handlers.App, logger *infra.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*infra.OrDiscard(logger)),
		middleware.RateLimit(120, time.Minute),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/stats", app.StatsSummary)

	return r
}
