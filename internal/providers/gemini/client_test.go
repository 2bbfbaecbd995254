package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: make(http.Header)}
}

func TestExtractTextSendsInlineImage(t *testing.T) {
	var got generateRequest
	client := NewClient(Options{
		APIKey: "k",
		Model:  "gemini-test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
				t.Fatalf("unexpected path %s", r.URL.Path)
			}
			if r.URL.Query().Get("key") != "k" {
				t.Fatalf("missing api key")
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			return jsonResponse(http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"  Hola mundo  "}]}}]}`), nil
		})},
	})

	text, err := client.ExtractText(context.Background(), []byte{0xff, 0xd8}, "image/png")
	if err != nil {
		t.Fatalf("ExtractText error: %v", err)
	}
	if text != "Hola mundo" {
		t.Fatalf("text = %q", text)
	}
	parts := got.Contents[0].Parts
	if len(parts) != 2 || parts[1].InlineData == nil || parts[1].InlineData.MimeType != "image/png" {
		t.Fatalf("unexpected parts: %#v", parts)
	}
	if got.GenerationConfig.Temperature != 0.2 || got.GenerationConfig.MaxOutputTokens != 2048 {
		t.Fatalf("unexpected generation config: %#v", got.GenerationConfig)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		is     error
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, is: domain.ErrRateLimited},
		{name: "too short", status: http.StatusOK, body: `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`, is: ErrEmptyResult},
		{name: "no candidates", status: http.StatusOK, body: `{"candidates":[]}`, is: ErrEmptyResult},
		{name: "api error", status: http.StatusBadRequest, body: `{"error":{"message":"bad"}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
				return jsonResponse(tc.status, tc.body), nil
			})}})
			_, err := client.Analyze(context.Background(), "texto de prueba")
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Fatalf("expected %v, got %v", tc.is, err)
			}
		})
	}
}

func TestAnalyzeIncludesText(t *testing.T) {
	client := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !strings.HasSuffix(req.Contents[0].Parts[0].Text, "contrato de alquiler") {
			t.Fatalf("prompt does not end with the text: %q", req.Contents[0].Parts[0].Text)
		}
		return jsonResponse(http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"📋 RESUMEN: alquiler"}]}}]}`), nil
	})}})
	out, err := client.Analyze(context.Background(), "contrato de alquiler")
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if !strings.Contains(out, "RESUMEN") {
		t.Fatalf("unexpected output %q", out)
	}
	if client.Model() != "gemini-2.5-flash" {
		t.Fatalf("default model = %q", client.Model())
	}
}
