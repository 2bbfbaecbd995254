package infra

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresBotToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", " ")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when TELEGRAM_BOT_TOKEN is missing")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GEMINI_MODELS", "")
	t.Setenv("TRANSLATE_CHUNK_SIZE", "")
	t.Setenv("STAGE_TIMEOUT_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ImageAnalysisEnabled() {
		t.Fatal("image analysis should be disabled without a key")
	}
	if cfg.TranslateChunkSize != 4500 {
		t.Fatalf("TranslateChunkSize = %d, want 4500", cfg.TranslateChunkSize)
	}
	if cfg.TTSMaxChars != 5000 {
		t.Fatalf("TTSMaxChars = %d, want 5000", cfg.TTSMaxChars)
	}
	if cfg.StageTimeout != 60*time.Second {
		t.Fatalf("StageTimeout = %s", cfg.StageTimeout)
	}
	want := []string{"gemini-2.5-flash-lite", "gemini-2.5-flash", "gemini-2.5-pro"}
	if len(cfg.GeminiModels) != len(want) {
		t.Fatalf("GeminiModels mismatch: %#v", cfg.GeminiModels)
	}
	for i := range want {
		if cfg.GeminiModels[i] != want[i] {
			t.Fatalf("GeminiModels[%d] = %q, want %q", i, cfg.GeminiModels[i], want[i])
		}
	}
}

func TestLoadConfigParsesModelList(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("GEMINI_MODELS", " m1 ,, m2 ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.ImageAnalysisEnabled() {
		t.Fatal("image analysis should be enabled with a key")
	}
	if len(cfg.GeminiModels) != 2 || cfg.GeminiModels[0] != "m1" || cfg.GeminiModels[1] != "m2" {
		t.Fatalf("GeminiModels mismatch: %#v", cfg.GeminiModels)
	}
}

func TestLoadConfigRejectsSamePivot(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("PIVOT_PRIMARY", "en")
	t.Setenv("PIVOT_SECONDARY", "en")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for identical pivot languages")
	}
}
