package dialog

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/fsm"
	"github.com/TheGitano/telegram-tts-bot/internal/pipeline"
)

const (
	msgInternalError = "⚠️ Ocurrió un error interno. Inténtalo de nuevo en unos segundos."
	msgCancelled     = "❌ Operación cancelada."
	msgLoggedOut     = "👋 Sesión cerrada."
	msgAskHandle     = "🔑 Escribe tu usuario Premium:"
	msgAskSecret     = "🔒 Ahora escribe tu contraseña:"
	msgAskRecovery   = "📧 Escribe tu usuario o el correo con el que compraste Premium:"
	msgBadLogin      = "❌ Usuario o contraseña incorrectos."
	msgExpired       = "⌛ Tu suscripción Premium venció. Renuévala para seguir usando el bot sin límites."
	msgPickFirst     = "👆 Primero elige una función del menú."
	msgArtifactGone  = "⚠️ Ese contenido ya no está disponible. Envía uno nuevo."
)

var capabilityPrompts = map[domain.Capability]string{
	domain.CapabilityText:           "📝 Envíame el texto que quieres convertir a voz.",
	domain.CapabilityDocTranslate:   "📄 Envíame un documento Word (.docx) o PDF para traducirlo.",
	domain.CapabilityDocToSpeech:    "🔊 Envíame un documento Word (.docx) o PDF para convertirlo en audio.",
	domain.CapabilityAudioTranslate: "🎤 Envíame una nota de voz o un archivo de audio para traducirlo.",
	domain.CapabilityImage:          "🖼️ Envíame una imagen con texto.",
}

var rejectionMessages = map[pipeline.Rejection]string{
	pipeline.RejectWrongKind: "⚠️ Ese tipo de contenido no corresponde a la función elegida.",
	pipeline.RejectTooLarge:  "⚠️ El archivo es demasiado grande.",
	pipeline.RejectFormat:    "⚠️ Formato no soportado. Usa un documento .docx o .pdf.",
	pipeline.RejectEmpty:     "⚠️ El contenido está vacío.",
	pipeline.RejectNoPrior:   msgArtifactGone,
}

func button(label, data string) domain.Button {
	return domain.Button{Label: label, Data: data}
}

func menuRow() []domain.Button {
	return []domain.Button{button("🏠 Menú", choiceMenu)}
}

func (e *Engine) startScreen(ctx context.Context, t *turn) domain.Reply {
	if e.premium(ctx, t) {
		return e.premiumMenu(t)
	}
	return domain.Reply{
		Text: "👋 ¡Bienvenido!\n\nConvierto texto en voz, traduzco documentos y audios y leo el texto de tus imágenes.\n\nElige tu plan:",
		Buttons: [][]domain.Button{
			{button("🆓 Plan Gratis", choicePlanFree)},
			{button("⭐ Plan Premium", choicePlanPremium)},
		},
	}
}

// home is where "menu" leads: the premium menu for premium sessions and the
// plan choice otherwise.
func (e *Engine) home(ctx context.Context, t *turn) domain.Reply {
	return e.startScreen(ctx, t)
}

func (e *Engine) capabilityRows(marks map[domain.Capability]bool) [][]domain.Button {
	var rows [][]domain.Button
	for _, c := range domain.Capabilities() {
		label := c.Label
		if marks[c.Name] {
			label += " ✅"
		}
		rows = append(rows, []domain.Button{button(label, prefixCapability+string(c.Name))})
	}
	return rows
}

func (e *Engine) freeMenu(ctx context.Context, t *turn) domain.Reply {
	rec, err := e.opts.Ledger.Usage(ctx, t.user)
	if err != nil {
		e.logger.Error().Err(err).Str("user_id", string(t.user)).Msg("dialog: load usage")
		return domain.TextReply(msgInternalError)
	}
	rows := e.capabilityRows(rec.Used)
	rows = append(rows, []domain.Button{button("⭐ Plan Premium", choicePlanPremium)})
	return domain.Reply{
		Text:    "🆓 PLAN GRATIS\n\nPuedes usar cada función una vez gratis. Las marcadas con ✅ ya las usaste.",
		Buttons: rows,
	}
}

func (e *Engine) premiumPitch() domain.Reply {
	return domain.Reply{
		Text: fmt.Sprintf("⭐ PLAN PREMIUM\n\nUso ilimitado de todas las funciones durante %d días por $%d USD.\n\n"+
			"💳 Métodos de pago: Western Union o Zelle.", e.opts.PremiumPeriodDays, e.opts.PremiumPriceUSD),
		Buttons: [][]domain.Button{
			{button("🔑 Ya tengo cuenta", choiceLogin)},
			{button("💳 Comprar Premium", choiceBuy)},
			{button("⬅️ Volver", choiceStart)},
		},
	}
}

func (e *Engine) premiumMenu(t *turn) domain.Reply {
	p := t.sess.Principal
	name := p.DisplayName
	if name == "" {
		name = p.Handle
	}
	rows := e.capabilityRows(nil)
	rows = append(rows, []domain.Button{button("🚪 Cerrar sesión", choiceLogout)})
	return domain.Reply{
		Text:    fmt.Sprintf("⭐ Hola, %s\n\nTe quedan %d días de Premium. Elige una función:", name, p.DaysLeft(e.opts.Now())),
		Buttons: rows,
	}
}

func (e *Engine) allFreeUsed(ctx context.Context, t *turn) domain.Reply {
	rec, err := e.opts.Ledger.Usage(ctx, t.user)
	if err != nil {
		e.logger.Error().Err(err).Str("user_id", string(t.user)).Msg("dialog: load usage")
		return domain.TextReply(msgInternalError)
	}
	var b strings.Builder
	b.WriteString("🔒 Ya usaste todas tus pruebas gratis:\n\n")
	for _, c := range rec.Capabilities {
		if spec, ok := domain.LookupCapability(string(c)); ok {
			fmt.Fprintf(&b, "• %s ✅\n", spec.Label)
		}
	}
	fmt.Fprintf(&b, "\n⭐ Hazte Premium: uso ilimitado por %d días a $%d USD.", e.opts.PremiumPeriodDays, e.opts.PremiumPriceUSD)
	return domain.Reply{
		Text: b.String(),
		Buttons: [][]domain.Button{
			{button("💳 Comprar Premium", choiceBuy)},
			{button("🔑 Ya tengo cuenta", choiceLogin)},
		},
	}
}

func (e *Engine) upgradeRequired(c domain.Capability) domain.Reply {
	label := string(c)
	if spec, ok := domain.LookupCapability(string(c)); ok {
		label = spec.Label
	}
	return domain.Reply{
		Text: fmt.Sprintf("🔒 Ya usaste la prueba gratis de %s.\n\nCon Premium la usas sin límites.", label),
		Buttons: [][]domain.Button{
			{button("⭐ Ver Premium", choicePlanPremium)},
			menuRow(),
		},
	}
}

func (e *Engine) capabilityPrompt(c domain.Capability) domain.Reply {
	text, ok := capabilityPrompts[c]
	if !ok {
		text = msgPickFirst
	}
	return domain.Reply{Text: text, Buttons: [][]domain.Button{menuRow()}}
}

func (e *Engine) confirmPrompt(a domain.ExtractedArtifact) domain.Reply {
	dst := e.opts.Pipeline.Target(a.Language)
	return domain.Reply{
		Text: fmt.Sprintf("🌐 Idioma detectado: %s\n\n¿Quieres traducirlo al %s antes de convertirlo a voz? (sí/no)",
			languageName(a.Language), strings.ToLower(languageName(dst))),
		Buttons: [][]domain.Button{
			{button("✅ Sí", choiceYes), button("❌ No", choiceNo)},
			menuRow(),
		},
	}
}

func (e *Engine) imageActions(ctx context.Context, t *turn, a domain.ExtractedArtifact) domain.Reply {
	premium := e.premium(ctx, t)
	var rows [][]domain.Button
	if a.Analysis != "" {
		rows = append(rows, []domain.Button{button("🔊 Escuchar análisis", prefixImage+string(pipeline.ActionAnalysisAudio))})
	}
	if a.Analysis == "" || premium {
		rows = append(rows,
			[]domain.Button{
				button("📝 Solo texto", prefixImage+string(pipeline.ActionTextOnly)),
				button("🔊 Audio original", prefixImage+string(pipeline.ActionAudioOriginal)),
			},
			[]domain.Button{
				button("🌐 Audio traducido", prefixImage+string(pipeline.ActionAudioTranslated)),
				button("🔍 Analizar", prefixImage+string(pipeline.ActionAnalyze)),
			},
		)
	}
	rows = append(rows, menuRow())
	return domain.Reply{Text: "¿Qué quieres hacer con este texto?", Buttons: rows}
}

func (e *Engine) fieldPrompt(s fsm.State) domain.Reply {
	switch s {
	case fsm.StatePurchaseFirstName:
		return domain.TextReply("💳 COMPRA PREMIUM\n\n1/5 Escribe tu nombre:")
	case fsm.StatePurchaseLastName:
		return domain.TextReply("2/5 Escribe tu apellido:")
	case fsm.StatePurchaseEmail:
		return domain.TextReply("3/5 Escribe tu correo electrónico:")
	case fsm.StatePurchasePhone:
		return domain.TextReply("4/5 Escribe tu número de teléfono (con código de país):")
	case fsm.StatePurchasePayment:
		return domain.Reply{
			Text: "5/5 Elige el método de pago:",
			Buttons: [][]domain.Button{
				{button("🏦 Western Union", payWestern), button("💵 Zelle", payZelle)},
			},
		}
	}
	return domain.TextReply(msgPickFirst)
}

// languageName renders an ISO code as a Spanish language name, e.g. "Inglés".
func languageName(code string) string {
	if code == "" || code == domain.LanguageUnknown {
		return "Desconocido"
	}
	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToUpper(code)
	}
	name := display.Languages(language.Spanish).Name(tag)
	if name == "" {
		return strings.ToUpper(code)
	}
	return cases.Title(language.Spanish).String(name)
}

// parts splits long text into transport-sized messages, numbering them when
// there is more than one.
const previewRunes = 200

// extractionPreview is what is shown of an image's text before an action runs.
// The full text is only delivered by the text-only action.
func extractionPreview(text string) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= previewRunes {
		return "📝 TEXTO DETECTADO\n\n" + string(r)
	}
	return "📝 TEXTO DETECTADO (vista previa)\n\n" + strings.TrimSpace(string(r[:previewRunes])) +
		"…\n\nElige «Solo texto» para recibirlo completo."
}

func (e *Engine) parts(text string) []domain.Reply {
	const header = 32
	chunks := pipeline.SplitChunks(strings.TrimSpace(text), e.opts.MessageLimit-header)
	if len(chunks) <= 1 {
		return []domain.Reply{domain.TextReply(strings.TrimSpace(text))}
	}
	out := make([]domain.Reply, 0, len(chunks))
	for i, c := range chunks {
		out = append(out, domain.TextReply(fmt.Sprintf("📄 Parte %d/%d\n\n%s", i+1, len(chunks), strings.TrimSpace(c.Text))))
	}
	return out
}

func (e *Engine) sign(caption string) string {
	if e.opts.Signature == "" {
		return caption
	}
	if caption == "" {
		return e.opts.Signature
	}
	return caption + "\n\n" + e.opts.Signature
}
