package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
)

// ErrNoTiers is returned by Try when it is handed an empty tier list.
var ErrNoTiers = errors.New("no tiers configured")

// Tier is one backend alternative.
type Tier[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Try runs tiers in priority order and returns the first success together with
// the winning tier's name. A rate-limited or failed tier is skipped. Each tier
// gets its own timeout when timeout is positive.
func Try[T any](ctx context.Context, timeout time.Duration, logger *infra.Logger, tiers []Tier[T]) (T, string, error) {
	var zero T
	if len(tiers) == 0 {
		return zero, "", ErrNoTiers
	}
	logger = infra.OrDiscard(logger)

	var errs []error
	for _, tier := range tiers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		out, err := runBounded(ctx, timeout, tier.Run)
		if err == nil {
			return out, tier.Name, nil
		}
		reason := "error"
		if errors.Is(err, domain.ErrRateLimited) {
			reason = "rate_limited"
		}
		logger.Warn().Err(err).Str("tier", tier.Name).Str("reason", reason).Msg("pipeline: tier skipped")
		errs = append(errs, fmt.Errorf("%s: %w", tier.Name, err))
	}
	return zero, "", errors.Join(errs...)
}

func runBounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}
