package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk is a piece of a longer text. Sep is the whitespace that followed it in
// the source; joining every Text+Sep reproduces the input.
type Chunk struct {
	Text string
	Sep  string
}

var boundaries = []string{"\n\n", "\n", ". ", " "}

// SplitChunks cuts text into the fewest chunks of at most max runes. Within
// that count it prefers paragraph breaks, then line breaks, then sentence
// ends, then spaces, and falls back to a hard cut.
func SplitChunks(text string, max int) []Chunk {
	if text == "" {
		return nil
	}
	total := utf8.RuneCountInString(text)
	if max <= 0 || total <= max {
		return []Chunk{{Text: text}}
	}
	want := (total + max - 1) / max

	var out []Chunk
	rest := text
	for rest != "" {
		n := utf8.RuneCountInString(rest)
		if n <= max {
			out = append(out, Chunk{Text: rest})
			break
		}
		// A cut shorter than floor would leave more than the remaining
		// chunks can hold.
		floor := n - (want-len(out)-1)*max
		if floor < 1 {
			floor = 1
		}
		lo := runeOffset(rest, floor)
		window := rest[:runeOffset(rest, max)]
		cut := len(window)
		for _, b := range boundaries {
			if i := strings.LastIndex(window, b); i > 0 && i+len(b) >= lo {
				cut = i + len(b)
				break
			}
		}
		piece := rest[:cut]
		body := strings.TrimRightFunc(piece, unicode.IsSpace)
		if body == "" {
			body = piece
		}
		out = append(out, Chunk{Text: body, Sep: piece[len(body):]})
		rest = rest[cut:]
	}
	return out
}

// JoinChunks reassembles chunks with their separators.
func JoinChunks(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
		b.WriteString(c.Sep)
	}
	return b.String()
}

func runeOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}

var truncationMarkers = map[string]string{
	"es": "… (texto truncado)",
	"en": "… (text truncated)",
	"pt": "… (texto truncado)",
	"fr": "… (texte tronqué)",
	"it": "… (testo troncato)",
	"de": "… (Text gekürzt)",
}

// Truncate limits text to max runes. When it cuts, a marker in lang is
// appended and the result still fits in max.
func Truncate(text string, max int, lang string) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text, false
	}
	marker, ok := truncationMarkers[lang]
	if !ok {
		marker = truncationMarkers["en"]
	}
	keep := max - utf8.RuneCountInString(marker)
	if keep <= 0 {
		return string([]rune(marker)[:max]), true
	}
	head := text[:runeOffset(text, keep)]
	if i := strings.LastIndexFunc(head, unicode.IsSpace); i > len(head)/2 {
		head = head[:i]
	}
	return strings.TrimRightFunc(head, unicode.IsSpace) + marker, true
}

func prefix(text string, n int) string {
	if n <= 0 {
		return text
	}
	return text[:runeOffset(text, n)]
}
