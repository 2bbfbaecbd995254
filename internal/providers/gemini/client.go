// Package gemini reads text out of images and analyses it with a Gemini model.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
)

const (
	extractPrompt = "Extrae y transcribe con precisión TODO el texto visible en esta imagen. " +
		"No agregues interpretaciones ni explicaciones. Solo el texto exacto tal como aparece."

	analyzePrompt = `Eres un experto analista. Analiza el siguiente texto y proporciona:

1. 📋 RESUMEN: Un resumen claro y conciso del contenido.
2. 🎯 PUNTOS CLAVE: Los puntos más importantes.
3. 🔍 CONTEXTO: El tipo de documento y su propósito probable.
4. ⚠️ OBSERVACIONES: Fechas, cifras, plazos o datos que requieran atención.
5. 💡 RECOMENDACIONES: Acciones sugeridas a partir del contenido.

Responde en el idioma del texto. Usa emojis para organizar.

TEXTO:
`

	minResultRunes = 4
)

// ErrEmptyResult is returned when the model answers with nothing usable.
var ErrEmptyResult = errors.New("gemini: empty result")

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client talks to a single Gemini model.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts,omitempty"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a client with defaults for anything left empty.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     infra.OrDiscard(opts.Logger),
	}
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// ExtractText transcribes the visible text of an image.
func (c *Client) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("gemini: empty image")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return c.generate(ctx, []part{
		{Text: extractPrompt},
		{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
	})
}

// Analyze produces a structured expert reading of text.
func (c *Client) Analyze(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResult
	}
	return c.generate(ctx, []part{{Text: analyzePrompt + text}})
}

func (c *Client) generate(ctx context.Context, parts []part) (string, error) {
	payload := generateRequest{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{Temperature: 0.2, MaxOutputTokens: 2048},
	}
	var response generateResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.model))
	if err := c.invokeGemini(ctx, path, payload, &response); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, cand := range response.Candidates {
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	out := strings.TrimSpace(b.String())
	if len([]rune(out)) < minResultRunes {
		return "", ErrEmptyResult
	}
	c.logger.Debug().Str("model", c.model).Int("chars", len(out)).Msg("gemini: ok")
	return out, nil
}

func (c *Client) invokeGemini(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("gemini %s: %w", c.model, domain.ErrRateLimited)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		if len(data) > 0 {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}
