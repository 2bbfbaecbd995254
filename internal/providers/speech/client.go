// Package speech recognises voice notes with the Google Cloud Speech REST API.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
)

// ErrNoSpeech is returned when the audio held no recognisable speech for the
// requested language.
var ErrNoSpeech = errors.New("speech: nothing recognised")

type Options struct {
	APIKey     string
	BaseURL    string
	Encoding   string
	SampleRate int
	HTTPClient *http.Client
	Logger     *infra.Logger
}

type Client struct {
	apiKey     string
	baseURL    string
	encoding   string
	sampleRate int
	httpClient *http.Client
	logger     *infra.Logger
}

type recognitionConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz"`
	LanguageCode               string `json:"languageCode"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
}

type recognitionAudio struct {
	Content string `json:"content"`
}

type recognizeRequest struct {
	Config recognitionConfig `json:"config"`
	Audio  recognitionAudio  `json:"audio"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://speech.googleapis.com/v1"
	}
	encoding := opts.Encoding
	if encoding == "" {
		encoding = "OGG_OPUS"
	}
	rate := opts.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		encoding:   encoding,
		sampleRate: rate,
		httpClient: client,
		logger:     infra.OrDiscard(opts.Logger),
	}
}

// Recognize transcribes audio assuming it is spoken in languageCode (BCP-47,
// e.g. "en-US").
func (c *Client) Recognize(ctx context.Context, audio []byte, languageCode string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoSpeech
	}
	payload := recognizeRequest{
		Config: recognitionConfig{
			Encoding:                   c.encoding,
			SampleRateHertz:            c.sampleRate,
			LanguageCode:               languageCode,
			EnableAutomaticPunctuation: true,
		},
		Audio: recognitionAudio{Content: base64.StdEncoding.EncodeToString(audio)},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/speech:recognize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		q := req.URL.Query()
		q.Set("key", c.apiKey)
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("invoke speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("speech: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("speech status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var decoded recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode speech response: %w", err)
	}
	var parts []string
	for _, r := range decoded.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoSpeech
	}
	text := strings.Join(parts, " ")
	c.logger.Debug().Str("language", languageCode).Int("chars", len(text)).Msg("speech: recognised")
	return text, nil
}
