package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/ledongthuc/pdf"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
)

func extractPDF(data []byte) (st Structure, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Structure{}, fmt.Errorf("open pdf: %w", err)
	}
	st = Structure{Format: domain.FormatPDF}
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return Structure{}, fmt.Errorf("read pdf page %d: %w", i, err)
		}
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				st.Paragraphs = append(st.Paragraphs, Paragraph{Index: len(st.Paragraphs), Text: line})
			}
		}
	}
	return st, nil
}

// SynthesizePDF lays out paragraphs on Letter pages, one block per non-blank
// entry.
func SynthesizePDF(title string, paragraphs []string) ([]byte, error) {
	doc := fpdf.New("P", "mm", "Letter", "")
	doc.SetMargins(20, 20, 20)
	doc.SetAutoPageBreak(true, 20)
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.AddPage()

	if title != "" {
		doc.SetFont("Helvetica", "B", 14)
		doc.MultiCell(0, 8, tr(title), "", "L", false)
		doc.Ln(4)
	}
	doc.SetFont("Helvetica", "", 11)
	for _, p := range paragraphs {
		if strings.TrimSpace(p) == "" {
			continue
		}
		doc.MultiCell(0, 6, tr(p), "", "L", false)
		doc.Ln(3)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
