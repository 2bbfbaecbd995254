// Package document extracts text from DOCX and PDF files and writes
// translated copies back out.
package document

import (
	"errors"
	"fmt"
	"strings"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrNoText            = errors.New("document has no extractable text")
)

// Paragraph is one structural text unit in reading order.
type Paragraph struct {
	Index  int
	Text   string
	InCell bool
}

// Structure is the extracted shape of a document.
type Structure struct {
	Format     domain.DocumentFormat
	Paragraphs []Paragraph
}

// Text joins the non-blank paragraphs with newlines.
func (s Structure) Text() string {
	parts := make([]string, 0, len(s.Paragraphs))
	for _, p := range s.Paragraphs {
		if strings.TrimSpace(p.Text) != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ReplaceFunc maps source text to its replacement.
type ReplaceFunc func(string) (string, error)

// Codec is the document parser/writer used by the pipeline.
type Codec struct {
	// Title is written at the top of synthesized PDFs when set.
	Title string
}

// Extract returns the document's paragraphs in stable reading order.
func (c Codec) Extract(data []byte, format domain.DocumentFormat) (Structure, error) {
	switch format {
	case domain.FormatDOCX:
		return extractDOCX(data)
	case domain.FormatPDF:
		return extractPDF(data)
	default:
		return Structure{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Rewrite returns a copy of data with its text replaced through fn. DOCX keeps
// every paragraph and cell boundary and calls fn once per non-blank paragraph.
// PDF carries no usable structure, so fn runs once over the flat text and a
// new document is synthesized with one paragraph per output line.
func (c Codec) Rewrite(data []byte, format domain.DocumentFormat, fn ReplaceFunc) ([]byte, error) {
	switch format {
	case domain.FormatDOCX:
		return rewriteDOCX(data, fn)
	case domain.FormatPDF:
		st, err := extractPDF(data)
		if err != nil {
			return nil, err
		}
		text := st.Text()
		if strings.TrimSpace(text) == "" {
			return nil, ErrNoText
		}
		out, err := fn(text)
		if err != nil {
			return nil, err
		}
		return SynthesizePDF(c.Title, strings.Split(out, "\n"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// OutputName is the file name used for a translated copy.
func OutputName(original, source, target string) string {
	if original == "" {
		original = "documento"
	}
	return fmt.Sprintf("traducido_%s_%s_%s", strings.ToUpper(source), strings.ToUpper(target), original)
}
