package document

import (
	"bytes"
	"encoding/xml"
	"html"
	"sort"
	"strings"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/pkg/zip"
)

const docxBody = "word/document.xml"

// textNode is one <w:t> element. Offsets index the document XML.
type textNode struct {
	tagStart     int
	contentStart int
	contentEnd   int
}

type docxParagraph struct {
	nodes  []textNode
	inCell bool
}

// scanDOCX walks the body XML once and groups <w:t> nodes under their
// innermost <w:p>. encoding/xml is avoided because re-encoding rewrites
// namespace prefixes that Word depends on.
func scanDOCX(body []byte) []docxParagraph {
	var (
		paras    []docxParagraph
		stack    []int
		cellDeep int
	)
	for i := 0; i < len(body); {
		lt := bytes.IndexByte(body[i:], '<')
		if lt < 0 {
			break
		}
		start := i + lt
		gt := bytes.IndexByte(body[start:], '>')
		if gt < 0 {
			break
		}
		end := start + gt + 1
		tag := body[start:end]
		name, closing, selfClosing := tagName(tag)
		switch name {
		case "w:p":
			switch {
			case selfClosing:
				paras = append(paras, docxParagraph{inCell: cellDeep > 0})
			case closing:
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			default:
				paras = append(paras, docxParagraph{inCell: cellDeep > 0})
				stack = append(stack, len(paras)-1)
			}
		case "w:tc":
			if closing {
				if cellDeep > 0 {
					cellDeep--
				}
			} else if !selfClosing {
				cellDeep++
			}
		case "w:t":
			if closing || selfClosing || len(stack) == 0 {
				break
			}
			closeAt := bytes.Index(body[end:], []byte("</w:t>"))
			if closeAt < 0 {
				break
			}
			p := stack[len(stack)-1]
			paras[p].nodes = append(paras[p].nodes, textNode{tagStart: start, contentStart: end, contentEnd: end + closeAt})
			end = end + closeAt
		}
		i = end
	}
	return paras
}

func tagName(tag []byte) (name string, closing, selfClosing bool) {
	inner := tag[1 : len(tag)-1]
	if len(inner) > 0 && inner[0] == '/' {
		closing = true
		inner = inner[1:]
	}
	if len(inner) > 0 && inner[len(inner)-1] == '/' {
		selfClosing = true
		inner = inner[:len(inner)-1]
	}
	if idx := bytes.IndexAny(inner, " \t\r\n"); idx >= 0 {
		inner = inner[:idx]
	}
	return string(inner), closing, selfClosing
}

func (p docxParagraph) text(body []byte) string {
	var b strings.Builder
	for _, n := range p.nodes {
		b.WriteString(html.UnescapeString(string(body[n.contentStart:n.contentEnd])))
	}
	return b.String()
}

func extractDOCX(data []byte) (Structure, error) {
	body, err := zip.ReadEntry(data, docxBody)
	if err != nil {
		return Structure{}, err
	}
	paras := scanDOCX(body)
	st := Structure{Format: domain.FormatDOCX, Paragraphs: make([]Paragraph, len(paras))}
	for i, p := range paras {
		st.Paragraphs[i] = Paragraph{Index: i, Text: p.text(body), InCell: p.inCell}
	}
	return st, nil
}

type splice struct {
	start, end int
	with       []byte
}

func rewriteDOCX(data []byte, fn ReplaceFunc) ([]byte, error) {
	return zip.ReplaceEntry(data, docxBody, func(body []byte) ([]byte, error) {
		var splices []splice
		for _, p := range scanDOCX(body) {
			src := p.text(body)
			if strings.TrimSpace(src) == "" {
				continue
			}
			out, err := fn(src)
			if err != nil {
				return nil, err
			}
			var esc bytes.Buffer
			if err := xml.EscapeText(&esc, []byte(out)); err != nil {
				return nil, err
			}
			first := p.nodes[0]
			splices = append(splices, splice{
				start: first.tagStart,
				end:   first.contentEnd,
				with:  append([]byte(`<w:t xml:space="preserve">`), esc.Bytes()...),
			})
			for _, n := range p.nodes[1:] {
				splices = append(splices, splice{start: n.contentStart, end: n.contentEnd})
			}
		}
		sort.Slice(splices, func(i, j int) bool { return splices[i].start < splices[j].start })

		var out bytes.Buffer
		out.Grow(len(body))
		last := 0
		for _, s := range splices {
			out.Write(body[last:s.start])
			out.Write(s.with)
			last = s.end
		}
		out.Write(body[last:])
		return out.Bytes(), nil
	})
}
