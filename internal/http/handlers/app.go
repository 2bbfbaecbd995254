package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/metrics"
)

// App holds what the operations endpoints report on. SQL is nil when the bot
// runs without a database.
type App struct {
	SQL     infra.SQLExecutor
	Metrics *metrics.Registry
	Started time.Time
	// Active reports live per-user workers; optional.
	Active func() int
	Logger *infra.Logger
}

func NewApp(sql infra.SQLExecutor, reg *metrics.Registry, logger *infra.Logger) *App {
	return &App{SQL: sql, Metrics: reg, Started: time.Now(), Logger: infra.OrDiscard(logger)}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]any{"error": map[string]string{"code": kind, "message": message}})
}
