// Package telegram connects the dialog engine to the Telegram Bot API using
// long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/TheGitano/telegram-tts-bot/internal/dialog"
	"github.com/TheGitano/telegram-tts-bot/internal/dispatch"
	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/metrics"
	"github.com/TheGitano/telegram-tts-bot/internal/middleware"
)

// API is the part of *tgbotapi.BotAPI the adapter uses.
type API interface {
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Engine interface {
	Submit(ctx context.Context, user domain.UserID, in dialog.Input) []domain.Reply
}

type Dispatcher interface {
	Dispatch(user domain.UserID, job dispatch.Job) error
}

type Options struct {
	API        API
	Engine     Engine
	Dispatcher Dispatcher
	HTTPClient *http.Client
	// MaxDownloadBytes caps a single file download. One byte beyond the cap
	// is kept so the pipeline can reject the artifact as too large.
	MaxDownloadBytes int64
	PollTimeout      time.Duration
	Metrics          *metrics.Registry
	Logger           *infra.Logger
}

const (
	msgDownloadFailed = "❌ No pude descargar el archivo. Intenta enviarlo de nuevo."
	msgBusy           = "⏳ Todavía estoy procesando tus mensajes anteriores. Espera un momento."
)

// Bot polls updates and hands each one to the dispatcher.
type Bot struct {
	api    API
	opts   Options
	client *http.Client
	logger *infra.Logger
}

func New(opts Options) (*Bot, error) {
	if opts.API == nil {
		return nil, errors.New("telegram: api is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("telegram: engine is required")
	}
	if opts.MaxDownloadBytes <= 0 {
		opts.MaxDownloadBytes = 20 << 20
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Bot{api: opts.API, opts: opts, client: client, logger: infra.OrDiscard(opts.Logger)}, nil
}

// Connect authenticates token against the Bot API.
func Connect(token string, client *http.Client) (*tgbotapi.BotAPI, error) {
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	return api, nil
}

// Run polls until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(b.opts.PollTimeout / time.Second)
	updates := b.api.GetUpdatesChan(cfg)
	b.logger.Info().Msg("telegram: polling started")
	defer b.logger.Info().Msg("telegram: polling stopped")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case u, ok := <-updates:
			if !ok {
				return errors.New("telegram: updates channel closed")
			}
			b.HandleUpdate(ctx, u)
		}
	}
}

// HandleUpdate routes one update. Downloads and dialog work run on the
// user's dispatcher queue so a slow user never stalls polling.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	var (
		from   *tgbotapi.User
		chatID int64
		job    func(ctx context.Context) (dialog.Input, error)
	)
	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
			return
		}
		from, chatID = cq.From, cq.Message.Chat.ID
		if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			b.logger.Debug().Err(err).Msg("telegram: answer callback")
		}
		data := cq.Data
		job = func(context.Context) (dialog.Input, error) { return dialog.Choice(data), nil }
	case u.Message != nil:
		msg := u.Message
		if msg.From == nil || msg.Chat == nil {
			return
		}
		from, chatID = msg.From, msg.Chat.ID
		job = func(ctx context.Context) (dialog.Input, error) { return b.toInput(ctx, msg) }
	default:
		return
	}

	user := domain.UserID(strconv.FormatInt(from.ID, 10))
	rid := middleware.UpdateRequestID(u.UpdateID)
	run := func(ctx context.Context) {
		ctx = middleware.WithRequestID(ctx, rid)
		in, err := job(ctx)
		if err != nil {
			b.opts.Metrics.Inc(metrics.TransportFailures, "download")
			b.logger.Warn().Err(err).Str("user_id", string(user)).Str("request_id", rid).Msg("telegram: download failed")
			b.Deliver(chatID, []domain.Reply{domain.TextReply(msgDownloadFailed)})
			return
		}
		b.Deliver(chatID, b.opts.Engine.Submit(ctx, user, in))
	}

	if b.opts.Dispatcher == nil {
		run(ctx)
		return
	}
	switch err := b.opts.Dispatcher.Dispatch(user, run); {
	case err == nil, errors.Is(err, dispatch.ErrThrottled):
	case errors.Is(err, dispatch.ErrQueueFull):
		b.Deliver(chatID, []domain.Reply{domain.TextReply(msgBusy)})
	default:
		b.logger.Warn().Err(err).Str("user_id", string(user)).Str("request_id", rid).Msg("telegram: dispatch")
	}
}

func (b *Bot) toInput(ctx context.Context, msg *tgbotapi.Message) (dialog.Input, error) {
	switch {
	case msg.IsCommand():
		return dialog.Command(msg.Command()), nil
	case msg.Voice != nil:
		return b.artifact(ctx, msg.Voice.FileID, domain.ArtifactAudio, "voice.ogg", orDefault(msg.Voice.MimeType, "audio/ogg"))
	case msg.Audio != nil:
		return b.artifact(ctx, msg.Audio.FileID, domain.ArtifactAudio, orDefault(msg.Audio.FileName, "audio"), msg.Audio.MimeType)
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		return b.artifact(ctx, largest.FileID, domain.ArtifactImage, "photo.jpg", "image/jpeg")
	case msg.Document != nil:
		d := msg.Document
		return b.artifact(ctx, d.FileID, kindForMIME(d.MimeType), orDefault(d.FileName, "documento"), d.MimeType)
	}
	return dialog.Text(msg.Text), nil
}

func kindForMIME(mime string) domain.ArtifactKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return domain.ArtifactImage
	case strings.HasPrefix(mime, "audio/"):
		return domain.ArtifactAudio
	}
	return domain.ArtifactDocument
}

func (b *Bot) artifact(ctx context.Context, fileID string, kind domain.ArtifactKind, name, mime string) (dialog.Input, error) {
	data, err := b.download(ctx, fileID)
	if err != nil {
		return dialog.Input{}, err
	}
	return dialog.ArtifactInput(domain.Artifact{Kind: kind, Data: data, Filename: name, MIME: mime}), nil
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, b.opts.MaxDownloadBytes+1))
}

// Deliver sends replies in order. Failures are logged and counted; the next
// reply is still attempted.
func (b *Bot) Deliver(chatID int64, replies []domain.Reply) {
	for _, r := range replies {
		for _, c := range render(chatID, r) {
			if _, err := b.api.Send(c); err != nil {
				b.opts.Metrics.Inc(metrics.TransportFailures, "send")
				b.logger.Warn().
					Err(fmt.Errorf("%w: %v", domain.ErrTransportFailure, err)).
					Int64("chat_id", chatID).
					Msg("telegram: send failed")
			}
		}
	}
}

// render turns a reply into Bot API calls. Buttons ride on the last call.
func render(chatID int64, r domain.Reply) []tgbotapi.Chattable {
	var out []tgbotapi.Chattable
	markup := keyboard(r.Buttons)

	if strings.TrimSpace(r.Text) != "" {
		msg := tgbotapi.NewMessage(chatID, r.Text)
		msg.DisableWebPagePreview = true
		if r.Media == nil && markup != nil {
			msg.ReplyMarkup = *markup
		}
		out = append(out, msg)
	}
	if m := r.Media; m != nil {
		file := tgbotapi.FileBytes{Name: m.Filename, Bytes: m.Data}
		switch m.Kind {
		case domain.MediaVoice:
			if file.Name == "" {
				file.Name = "audio.mp3"
			}
			v := tgbotapi.NewVoice(chatID, file)
			v.Caption = m.Caption
			if markup != nil {
				v.ReplyMarkup = *markup
			}
			out = append(out, v)
		default:
			if file.Name == "" {
				file.Name = "documento"
			}
			d := tgbotapi.NewDocument(chatID, file)
			d.Caption = m.Caption
			if markup != nil {
				d.ReplyMarkup = *markup
			}
			out = append(out, d)
		}
	}
	if len(out) == 0 && markup != nil {
		msg := tgbotapi.NewMessage(chatID, "👇")
		msg.ReplyMarkup = *markup
		out = append(out, msg)
	}
	return out
}

func keyboard(rows [][]domain.Button) *tgbotapi.InlineKeyboardMarkup {
	var kb [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, btn := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Data))
		}
		if len(buttons) > 0 {
			kb = append(kb, tgbotapi.NewInlineKeyboardRow(buttons...))
		}
	}
	if len(kb) == 0 {
		return nil
	}
	m := tgbotapi.NewInlineKeyboardMarkup(kb...)
	return &m
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
