// Package credentials keeps provider API keys in Postgres so they can be
// rotated with premiumctl without restarting the bot.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/sqlinline"
)

const (
	ProviderGemini = "gemini"
	ProviderSpeech = "speech"
)

var ErrUnknownProvider = errors.New("unknown provider")

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// ProviderInfo describes a stored key without revealing it.
type ProviderInfo struct {
	Provider  string
	UpdatedAt time.Time
}

func (s *Store) GeminiAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderGemini)
}

func (s *Store) SpeechAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderSpeech)
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// Set stores key for provider.
func (s *Store) Set(ctx context.Context, provider, key string) error {
	switch provider {
	case ProviderGemini, ProviderSpeech:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	raw, err := json.Marshal(map[string]any{"set_by": "premiumctl"})
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, key, raw)
	return err
}

// List returns every provider with a stored key.
func (s *Store) List(ctx context.Context) ([]ProviderInfo, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListIntegrationProviders)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProviderInfo
	for rows.Next() {
		var info ProviderInfo
		if err := rows.Scan(&info.Provider, &info.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Resolve prefers the environment value and falls back to the stored key.
func (s *Store) Resolve(ctx context.Context, provider, fromEnv string) (string, error) {
	if v := strings.TrimSpace(fromEnv); v != "" {
		return v, nil
	}
	if s == nil || s.sql == nil {
		return "", nil
	}
	return s.Token(ctx, provider)
}
