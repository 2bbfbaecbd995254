// Package translate calls the Google Translate web endpoint.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
)

// Options controls how the translation client is configured.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://translate.googleapis.com"
	}
	return &Client{baseURL: baseURL, httpClient: client, logger: infra.OrDiscard(opts.Logger)}
}

// Translate returns text rendered in target. Unlike the web widget it never
// falls back to the input on failure; callers get an error instead.
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if source == "" || source == domain.LanguageUnknown {
		source = "auto"
	}

	form := url.Values{}
	form.Set("q", text)
	endpoint := fmt.Sprintf("%s/translate_a/single?client=gtx&dt=t&sl=%s&tl=%s",
		c.baseURL, url.QueryEscape(source), url.QueryEscape(target))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("invoke translate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("translate: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("translate status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var payload []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode translate response: %w", err)
	}
	out, err := joinSegments(payload)
	if err != nil {
		return "", err
	}

	c.logger.Debug().
		Str("source", source).
		Str("target", target).
		Int("chars", len(text)).
		Msg("translate: ok")
	return out, nil
}

// joinSegments reads the first element of the response, a list of
// [translated, original, ...] tuples.
func joinSegments(payload []json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("translate: empty response")
	}
	var segments [][]any
	if err := json.Unmarshal(payload[0], &segments); err != nil {
		return "", fmt.Errorf("translate: unexpected response shape: %w", err)
	}
	var b strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			b.WriteString(s)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("translate: no translated segments")
	}
	return b.String(), nil
}
