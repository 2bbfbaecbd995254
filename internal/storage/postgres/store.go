// Package postgres persists quota records and premium principals when
// DATABASE_URL is configured. Every query goes through infra.SQLExecutor so
// the marker checks of the SQL runner apply.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/quota"
	"github.com/TheGitano/telegram-tts-bot/internal/sqlinline"
)

// EnsureSchema creates the tables the bot persists into.
func EnsureSchema(ctx context.Context, db infra.SQLExecutor) error {
	if _, err := db.Exec(ctx, sqlinline.QEnsureSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// QuotaStore is a kv.Store[quota.Record] kept as one jsonb row per user.
type QuotaStore struct {
	db infra.SQLExecutor
}

func NewQuotaStore(db infra.SQLExecutor) *QuotaStore {
	return &QuotaStore{db: db}
}

func (s *QuotaStore) Get(ctx context.Context, key string) (quota.Record, bool, error) {
	var raw []byte
	if err := s.db.QueryRow(ctx, sqlinline.QSelectQuotaRecord, key).Scan(&raw); err != nil {
		if infra.IsNoRows(err) {
			return quota.Record{}, false, nil
		}
		return quota.Record{}, false, fmt.Errorf("select quota record: %w", err)
	}
	var rec quota.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return quota.Record{}, false, fmt.Errorf("decode quota record: %w", err)
	}
	return rec, true, nil
}

func (s *QuotaStore) Set(ctx context.Context, key string, rec quota.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode quota record: %w", err)
	}
	if _, err := s.db.Exec(ctx, sqlinline.QUpsertQuotaRecord, key, raw); err != nil {
		return fmt.Errorf("upsert quota record: %w", err)
	}
	return nil
}

func (s *QuotaStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, sqlinline.QDeleteQuotaRecord, key); err != nil {
		return fmt.Errorf("delete quota record: %w", err)
	}
	return nil
}

// Summary is the aggregate reported by the ops stats endpoint.
type Summary struct {
	Users        int64 `json:"users"`
	PremiumUsers int64 `json:"premium_users"`
}

// QuotaSummary counts known users and those holding a premium grant.
func QuotaSummary(ctx context.Context, db infra.SQLExecutor) (Summary, error) {
	var sum Summary
	if err := db.QueryRow(ctx, sqlinline.QQuotaSummary).Scan(&sum.Users, &sum.PremiumUsers); err != nil {
		return Summary{}, fmt.Errorf("quota summary: %w", err)
	}
	return sum, nil
}
