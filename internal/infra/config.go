package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	BotToken           string
	OpsPort            string
	DatabaseURL        string
	PrincipalsFile     string
	GeminiAPIKey       string
	GeminiBaseURL      string
	GeminiModels       []string
	SpeechAPIKey       string
	SpeechBaseURL      string
	TranslateBaseURL   string
	TTSBaseURL         string
	StageTimeout       time.Duration
	TranslateChunkSize int
	TTSMaxChars        int
	DetectPrefixChars  int
	MaxArtifactBytes   int
	PivotPrimary       string
	PivotSecondary     string
	AdminEmail         string
	BotSignature       string
	EventsPerMinute    int
	PremiumPriceUSD    int
	PremiumPeriodDays  int
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		BotToken:           strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		OpsPort:            getEnv("OPS_PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		PrincipalsFile:     getEnv("PRINCIPALS_FILE", "principals.yaml"),
		GeminiAPIKey:       strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModels:       getEnvList("GEMINI_MODELS", []string{"gemini-2.5-flash-lite", "gemini-2.5-flash", "gemini-2.5-pro"}),
		SpeechAPIKey:       strings.TrimSpace(os.Getenv("SPEECH_API_KEY")),
		SpeechBaseURL:      getEnv("SPEECH_BASE_URL", "https://speech.googleapis.com/v1"),
		TranslateBaseURL:   getEnv("TRANSLATE_BASE_URL", "https://translate.googleapis.com"),
		TTSBaseURL:         getEnv("TTS_BASE_URL", "https://translate.google.com"),
		StageTimeout:       time.Second * time.Duration(getEnvInt("STAGE_TIMEOUT_SECONDS", 60)),
		TranslateChunkSize: getEnvInt("TRANSLATE_CHUNK_SIZE", 4500),
		TTSMaxChars:        getEnvInt("TTS_MAX_CHARS", 5000),
		DetectPrefixChars:  getEnvInt("DETECT_PREFIX_CHARS", 1000),
		MaxArtifactBytes:   getEnvInt("MAX_ARTIFACT_BYTES", 20<<20),
		PivotPrimary:       getEnv("PIVOT_PRIMARY", "es"),
		PivotSecondary:     getEnv("PIVOT_SECONDARY", "en"),
		AdminEmail:         getEnv("ADMIN_EMAIL", "gitanogustavo@gmail.com"),
		BotSignature:       getEnv("BOT_SIGNATURE", "Created by Gustavo Gitano 🎩"),
		EventsPerMinute:    getEnvInt("EVENTS_PER_MINUTE", 30),
		PremiumPriceUSD:    getEnvInt("PREMIUM_PRICE_USD", 27),
		PremiumPeriodDays:  getEnvInt("PREMIUM_PERIOD_DAYS", 30),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	if cfg.PivotPrimary == cfg.PivotSecondary {
		return nil, fmt.Errorf("PIVOT_PRIMARY and PIVOT_SECONDARY must differ")
	}

	if cfg.TranslateChunkSize <= 0 || cfg.TTSMaxChars <= 0 {
		return nil, fmt.Errorf("TRANSLATE_CHUNK_SIZE and TTS_MAX_CHARS must be positive")
	}

	return cfg, nil
}

// ImageAnalysisEnabled reports whether a Gemini key was configured.
func (c *Config) ImageAnalysisEnabled() bool {
	return c.GeminiAPIKey != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
