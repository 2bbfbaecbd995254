// Package tts synthesizes speech through the Google Translate TTS endpoint.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
)

// segmentLimit is the longest text the endpoint accepts per request.
const segmentLimit = 180

var ErrEmptyText = errors.New("tts: empty text")

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
		baseURL = "https://translate.google.com"
	}
	return &Client{baseURL: baseURL, httpClient: client, logger: infra.OrDiscard(opts.Logger)}
}

// Synthesize returns MP3 audio for text spoken in lang. Long text is sent in
// word-aligned segments whose audio is concatenated in order.
func (c *Client) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	segments := Segment(text, segmentLimit)
	if len(segments) == 0 {
		return nil, ErrEmptyText
	}
	if lang == "" || lang == domain.LanguageUnknown {
		lang = "en"
	}

	var out bytes.Buffer
	for i, seg := range segments {
		audio, err := c.fetch(ctx, seg, lang, i, len(segments))
		if err != nil {
			return nil, fmt.Errorf("segment %d/%d: %w", i+1, len(segments), err)
		}
		out.Write(audio)
	}
	c.logger.Debug().Str("lang", lang).Int("segments", len(segments)).Int("bytes", out.Len()).Msg("tts: ok")
	return out.Bytes(), nil
}

func (c *Client) fetch(ctx context.Context, text, lang string, idx, total int) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", lang)
	q.Set("q", text)
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(len([]rune(text))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/translate_tts?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke tts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("tts: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("tts status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("tts: empty audio")
	}
	return data, nil
}

// Segment splits text into pieces of at most limit runes, cutting at
// whitespace where possible.
func Segment(text string, limit int) []string {
	words := strings.FieldsFunc(text, unicode.IsSpace)
	var (
		out []string
		cur []rune
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for _, w := range words {
		r := []rune(w)
		for len(r) > limit {
			flush()
			out = append(out, string(r[:limit]))
			r = r[limit:]
		}
		if len(cur) > 0 && len(cur)+1+len(r) > limit {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, r...)
	}
	flush()
	return out
}
