package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/TheGitano/telegram-tts-bot/internal/dialog"
	"github.com/TheGitano/telegram-tts-bot/internal/dispatch"
	"github.com/TheGitano/telegram-tts-bot/internal/document"
	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/http/handlers"
	"github.com/TheGitano/telegram-tts-bot/internal/http/httpapi"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/infra/credentials"
	"github.com/TheGitano/telegram-tts-bot/internal/kv"
	"github.com/TheGitano/telegram-tts-bot/internal/metrics"
	"github.com/TheGitano/telegram-tts-bot/internal/pipeline"
	"github.com/TheGitano/telegram-tts-bot/internal/premium"
	"github.com/TheGitano/telegram-tts-bot/internal/providers/gemini"
	"github.com/TheGitano/telegram-tts-bot/internal/providers/langdetect"
	"github.com/TheGitano/telegram-tts-bot/internal/providers/speech"
	"github.com/TheGitano/telegram-tts-bot/internal/providers/translate"
	"github.com/TheGitano/telegram-tts-bot/internal/providers/tts"
	"github.com/TheGitano/telegram-tts-bot/internal/purchase"
	"github.com/TheGitano/telegram-tts-bot/internal/quota"
	"github.com/TheGitano/telegram-tts-bot/internal/router"
	"github.com/TheGitano/telegram-tts-bot/internal/storage/postgres"
	"github.com/TheGitano/telegram-tts-bot/internal/transport/telegram"
)

const shutdownGrace = 30 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, &logger); err != nil {
		logger.Fatal().Err(err).Msg("bot: stopped with error")
	}
	logger.Info().Msg("bot: stopped")
}

func run(ctx context.Context, cfg *infra.Config, logger *infra.Logger) error {
	var db infra.SQLExecutor
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		runner := infra.NewSQLRunner(pool, logger)
		if err := postgres.EnsureSchema(ctx, runner); err != nil {
			return err
		}
		db = runner
		logger.Info().Msg("bot: postgres persistence enabled")
	}

	creds := credentials.NewStore(db)
	geminiKey, err := creds.Resolve(ctx, credentials.ProviderGemini, cfg.GeminiAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("bot: failed to load gemini api key from store")
	}
	speechKey, err := creds.Resolve(ctx, credentials.ProviderSpeech, cfg.SpeechAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("bot: failed to load speech api key from store")
	}

	httpClient := &http.Client{Timeout: cfg.StageTimeout}
	detector, err := langdetect.New(langdetect.Options{})
	if err != nil {
		return err
	}

	var recognizer pipeline.Recognizer
	if speechKey != "" {
		recognizer = speech.NewClient(speech.Options{
			APIKey:     speechKey,
			BaseURL:    cfg.SpeechBaseURL,
			HTTPClient: httpClient,
			Logger:     logger,
		})
	} else {
		logger.Warn().Msg("bot: speech api key missing, audio translation disabled")
	}

	var images []pipeline.ImageReader
	if geminiKey != "" {
		for _, model := range cfg.GeminiModels {
			images = append(images, gemini.NewClient(gemini.Options{
				APIKey:     geminiKey,
				BaseURL:    cfg.GeminiBaseURL,
				Model:      model,
				HTTPClient: httpClient,
				Logger:     logger,
			}))
		}
	} else {
		logger.Warn().Msg("bot: gemini api key missing, image capability disabled")
	}

	p := pipeline.New(pipeline.Options{
		Translator:        translate.NewClient(translate.Options{BaseURL: cfg.TranslateBaseURL, HTTPClient: httpClient, Logger: logger}),
		Synthesizer:       tts.NewClient(tts.Options{BaseURL: cfg.TTSBaseURL, HTTPClient: httpClient, Logger: logger}),
		Recognizer:        recognizer,
		Detector:          detector,
		Documents:         document.Codec{Title: "Documento traducido"},
		Images:            images,
		PivotPrimary:      cfg.PivotPrimary,
		PivotSecondary:    cfg.PivotSecondary,
		ChunkSize:         cfg.TranslateChunkSize,
		TTSMaxChars:       cfg.TTSMaxChars,
		DetectPrefixChars: cfg.DetectPrefixChars,
		MaxArtifactBytes:  cfg.MaxArtifactBytes,
		StageTimeout:      cfg.StageTimeout,
		Logger:            logger,
	})

	file, err := premium.LoadFile(cfg.PrincipalsFile)
	if err != nil {
		return err
	}
	sources := premium.Chain{file}
	var records kv.Store[quota.Record]
	if db != nil {
		sources = append(sources, postgres.NewPrincipals(db))
		records = postgres.NewQuotaStore(db)
	}
	logger.Info().Int("file_principals", len(file.List())).Msg("bot: premium directory loaded")

	ledger := quota.NewLedger(quota.Options{Store: records, Logger: logger})
	reg := metrics.New()
	engine := dialog.New(dialog.Options{
		Ledger: ledger,
		Router: router.New(router.Options{
			Entitlements: ledger,
			Available: func(c domain.Capability) bool {
				switch c {
				case domain.CapabilityImage:
					return p.ImagesEnabled()
				case domain.CapabilityAudioTranslate:
					return recognizer != nil
				}
				return true
			},
			Logger: logger,
		}),
		Directory:         premium.NewDirectory(premium.Options{Source: sources, Logger: logger}),
		Pipeline:          p,
		Purchases:         purchase.NewSink(purchase.Options{DB: db, Logger: logger}),
		Metrics:           reg,
		AdminEmail:        cfg.AdminEmail,
		Signature:         cfg.BotSignature,
		PremiumPriceUSD:   cfg.PremiumPriceUSD,
		PremiumPeriodDays: cfg.PremiumPeriodDays,
		Logger:            logger,
	})

	// Queued work outlives the signal so in-flight runs can finish.
	dispatcher := dispatch.New(context.WithoutCancel(ctx), dispatch.Options{
		EventsPerMinute: cfg.EventsPerMinute,
		Metrics:         reg,
		Logger:          logger,
	})

	api, err := telegram.Connect(cfg.BotToken, nil)
	if err != nil {
		return err
	}
	logger.Info().Str("bot", api.Self.UserName).Msg("bot: authorized")
	bot, err := telegram.New(telegram.Options{
		API:              api,
		Engine:           engine,
		Dispatcher:       dispatcher,
		HTTPClient:       httpClient,
		MaxDownloadBytes: int64(cfg.MaxArtifactBytes),
		Metrics:          reg,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	app := handlers.NewApp(db, reg, logger)
	app.Active = dispatcher.Active
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error {
		logger.Info().Str("port", cfg.OpsPort).Msg("ops: listening")
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("ops: shutdown")
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("bot: dispatcher did not drain")
		}
		return nil
	})
	return g.Wait()
}
