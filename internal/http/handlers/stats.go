package handlers

import (
	"net/http"

	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/storage/postgres"
)

// StatsSummary reports the in-process counters and, with a database, the
// persisted user totals.
func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"counters": a.Metrics.Snapshot(),
	}
	if a.Active != nil {
		body["active_users"] = a.Active()
	}
	if a.SQL != nil {
		sum, err := postgres.QuotaSummary(r.Context(), a.SQL)
		if err != nil {
			infra.OrDiscard(a.Logger).Error().Err(err).Msg("ops: stats summary")
			a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
			return
		}
		body["total_users"] = sum.Users
		body["premium_users"] = sum.PremiumUsers
	}
	a.json(w, http.StatusOK, body)
}
