// Package purchase records premium purchase requests for manual follow-up.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/sqlinline"
)

// Sink writes each request to the structured log and, when a database is
// configured, to the purchase_requests table.
type Sink struct {
	db     infra.SQLExecutor
	logger *infra.Logger
}

type Options struct {
	DB     infra.SQLExecutor
	Logger *infra.Logger
}

func NewSink(opts Options) *Sink {
	return &Sink{db: opts.DB, logger: infra.OrDiscard(opts.Logger)}
}

func validate(req domain.PurchaseRequest) error {
	var missing []string
	if strings.TrimSpace(req.FirstName) == "" {
		missing = append(missing, "first_name")
	}
	if strings.TrimSpace(req.LastName) == "" {
		missing = append(missing, "last_name")
	}
	if strings.TrimSpace(req.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(req.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		missing = append(missing, "payment_method")
	}
	if len(missing) > 0 {
		return fmt.Errorf("purchase request incomplete: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Submit records req. The request is always logged even if the insert fails.
func (s *Sink) Submit(ctx context.Context, req domain.PurchaseRequest) error {
	if err := validate(req); err != nil {
		return err
	}
	if _, err := uuid.Parse(req.ID); err != nil {
		return errors.New("purchase request id must be a uuid")
	}

	s.logger.Info().
		Str("purchase_id", req.ID).
		Str("user_id", string(req.UserID)).
		Str("first_name", req.FirstName).
		Str("last_name", req.LastName).
		Str("email", req.Email).
		Str("phone", req.Phone).
		Str("payment_method", req.PaymentMethod).
		Int("amount_usd", req.AmountUSD).
		Int("period_days", req.PeriodDays).
		Time("created_at", req.CreatedAt).
		Msg("purchase: request registered")

	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(ctx, sqlinline.QInsertPurchaseRequest,
		req.ID,
		string(req.UserID),
		req.FirstName,
		req.LastName,
		req.Email,
		req.Phone,
		req.PaymentMethod,
		req.AmountUSD,
		req.PeriodDays,
		req.CreatedAt,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("purchase_id", req.ID).Msg("purchase: store failed")
		return fmt.Errorf("store purchase request: %w", err)
	}
	return nil
}
