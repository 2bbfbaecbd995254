package pipeline

import (
	"context"

	"github.com/TheGitano/telegram-tts-bot/internal/document"
	"github.com/TheGitano/telegram-tts-bot/internal/domain"
)

// Translator translates text. An error means the call failed; a result equal
// to the input with a nil error is a successful no-op.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, languageCode string) (string, error)
}

type Detector interface {
	Detect(ctx context.Context, text string) (string, error)
}

type DocumentCodec interface {
	Extract(data []byte, format domain.DocumentFormat) (document.Structure, error)
	Rewrite(data []byte, format domain.DocumentFormat, fn document.ReplaceFunc) ([]byte, error)
}

// ImageReader is one image-understanding model tier.
type ImageReader interface {
	Model() string
	ExtractText(ctx context.Context, image []byte, mimeType string) (string, error)
	Analyze(ctx context.Context, text string) (string, error)
}
