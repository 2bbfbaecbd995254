// Package langdetect guesses the language of a text offline.
package langdetect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

var ErrUndetermined = errors.New("langdetect: language undetermined")

var supported = map[string]whatlanggo.Lang{
	"es": whatlanggo.Spa,
	"en": whatlanggo.Eng,
	"pt": whatlanggo.Por,
	"fr": whatlanggo.Fra,
	"it": whatlanggo.Ita,
	"de": whatlanggo.Deu,
}

type Options struct {
	// Languages restricts candidates to these ISO 639-1 codes. Empty means
	// every supported language.
	Languages     []string
	MinConfidence float64
}

type Detector struct {
	opts    whatlanggo.Options
	minConf float64
}

func New(opts Options) (*Detector, error) {
	codes := opts.Languages
	if len(codes) == 0 {
		for code := range supported {
			codes = append(codes, code)
		}
	}
	white := make(map[whatlanggo.Lang]bool, len(codes))
	for _, code := range codes {
		base, err := Normalize(code)
		if err != nil {
			return nil, err
		}
		lang, ok := supported[base]
		if !ok {
			return nil, fmt.Errorf("langdetect: unsupported language %q", code)
		}
		white[lang] = true
	}
	return &Detector{opts: whatlanggo.Options{Whitelist: white}, minConf: opts.MinConfidence}, nil
}

// Detect returns the ISO 639-1 code of text.
func (d *Detector) Detect(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrUndetermined
	}
	info := whatlanggo.DetectWithOptions(text, d.opts)
	code := info.Lang.Iso6391()
	if code == "" || info.Confidence < d.minConf {
		return "", ErrUndetermined
	}
	return Normalize(code)
}

// Normalize reduces a language tag such as "es-ES" or "EN" to its base code.
func Normalize(code string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("langdetect: parse %q: %w", code, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}
