package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/fsm"
	"github.com/TheGitano/telegram-tts-bot/internal/metrics"
	"github.com/TheGitano/telegram-tts-bot/internal/premium"
)

func (e *Engine) startLogin(t *turn) {
	if !e.apply(t, fsm.EventStartLogin) {
		e.reset(t)
		e.apply(t, fsm.EventStartLogin)
	}
	t.say(domain.TextReply(msgAskHandle))
}

// loginHandle always advances to the secret step; whether the handle exists is
// only revealed together with the secret check.
func (e *Engine) loginHandle(ctx context.Context, t *turn, handle string) {
	if handle == "" {
		e.reprompt(ctx, t)
		return
	}
	t.sess.PendingHandle = handle
	e.apply(t, fsm.EventHandleEntered)
	t.say(domain.TextReply(msgAskSecret))
}

func (e *Engine) loginSecret(ctx context.Context, t *turn, secret string) {
	if secret == "" {
		e.reprompt(ctx, t)
		return
	}
	handle := t.sess.PendingHandle
	t.sess.PendingHandle = ""

	p, err := e.opts.Directory.Authenticate(ctx, handle, secret)
	if err != nil {
		e.opts.Metrics.Inc(metrics.LoginFailures)
		e.apply(t, fsm.EventLoginFailed)
		t.sess.ResetToMenu()
		switch {
		case errors.Is(err, premium.ErrExpired):
			t.say(domain.Reply{
				Text:    msgExpired,
				Buttons: [][]domain.Button{{button("💳 Renovar Premium", choiceBuy)}, menuRow()},
			})
		case errors.Is(err, domain.ErrInvalidCredentials):
			e.logger.Info().Str("user_id", string(t.user)).Msg("dialog: login rejected")
			t.say(domain.Reply{
				Text: msgBadLogin,
				Buttons: [][]domain.Button{
					{button("🔁 Reintentar", choiceLogin)},
					{button("🔑 Olvidé mi contraseña", choiceForgot)},
					menuRow(),
				},
			})
		default:
			e.logger.Error().Err(err).Str("user_id", string(t.user)).Msg("dialog: authenticate")
			t.say(domain.Reply{Text: msgInternalError, Buttons: [][]domain.Button{{button("🔁 Reintentar", choiceLogin)}, menuRow()}})
		}
		return
	}

	if err := e.opts.Ledger.Grant(ctx, t.user, p); err != nil {
		e.logger.Error().Err(err).Str("user_id", string(t.user)).Msg("dialog: grant premium")
		e.apply(t, fsm.EventLoginFailed)
		t.sess.ResetToMenu()
		t.say(domain.TextReply(msgInternalError))
		return
	}
	e.apply(t, fsm.EventLoginSucceeded)
	t.sess.ResetToMenu()
	t.sess.Principal = &p
	t.sess.PremiumContext = true
	e.opts.Metrics.Inc(metrics.Logins)
	e.logger.Info().Str("user_id", string(t.user)).Str("principal", p.Handle).Msg("dialog: premium login")
	t.say(domain.TextReply("✅ ¡Sesión iniciada!"), e.premiumMenu(t))
}

func (e *Engine) startRecovery(t *turn) {
	if !e.apply(t, fsm.EventForgotSecret) {
		e.reset(t)
		e.apply(t, fsm.EventForgotSecret)
	}
	t.say(domain.TextReply(msgAskRecovery))
}

func (e *Engine) recovery(ctx context.Context, t *turn, who string) {
	if who == "" {
		e.reprompt(ctx, t)
		return
	}
	e.apply(t, fsm.EventRecoverySubmitted)
	t.sess.ResetToMenu()
	e.logger.Info().Str("user_id", string(t.user)).Str("identifier", who).Msg("dialog: password recovery requested")
	t.say(domain.Reply{
		Text: fmt.Sprintf("📧 Recibimos tu solicitud.\n\nEscribe a %s indicando tu usuario (%s) y te enviaremos una nueva contraseña.",
			e.opts.AdminEmail, who),
		Buttons: [][]domain.Button{menuRow()},
	})
}

func (e *Engine) startPurchase(t *turn) {
	if !e.apply(t, fsm.EventStartPurchase) {
		e.reset(t)
		e.apply(t, fsm.EventStartPurchase)
	}
	t.sess.Form = nil
	t.say(e.fieldPrompt(t.sess.State))
}

var fieldNames = map[fsm.State]string{
	fsm.StatePurchaseFirstName: "first_name",
	fsm.StatePurchaseLastName:  "last_name",
	fsm.StatePurchaseEmail:     "email",
	fsm.StatePurchasePhone:     "phone",
	fsm.StatePurchasePayment:   "payment_method",
}

// validateField returns the normalised value, or an error text for the user.
func validateField(s fsm.State, v string) (string, string) {
	switch s {
	case fsm.StatePurchaseFirstName, fsm.StatePurchaseLastName:
		if len([]rune(v)) < 2 {
			return "", "⚠️ Escribe al menos 2 letras."
		}
	case fsm.StatePurchaseEmail:
		at := strings.Index(v, "@")
		if at <= 0 || !strings.Contains(v[at:], ".") || strings.ContainsAny(v, " \t") {
			return "", "⚠️ Correo inválido. Debe tener el formato nombre@dominio.com"
		}
		return strings.ToLower(v), ""
	case fsm.StatePurchasePhone:
		digits := 0
		for _, r := range v {
			switch {
			case unicode.IsDigit(r):
				digits++
			case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
			default:
				return "", "⚠️ Teléfono inválido. Usa solo números, por ejemplo +1 555 123 4567."
			}
		}
		if digits < 7 {
			return "", "⚠️ Teléfono inválido. Usa solo números, por ejemplo +1 555 123 4567."
		}
	case fsm.StatePurchasePayment:
		switch strings.ToLower(v) {
		case payWestern, "western", "western union":
			return payWestern, ""
		case payZelle, "zelle":
			return payZelle, ""
		}
		return "", "⚠️ Elige Western Union o Zelle con los botones."
	}
	return v, ""
}

func (e *Engine) purchaseField(ctx context.Context, t *turn, v string) {
	state := t.sess.State
	value, problem := validateField(state, v)
	if problem != "" {
		e.apply(t, fsm.EventFieldRejected)
		t.say(domain.TextReply(problem), e.fieldPrompt(state))
		return
	}
	t.sess.Append(fieldNames[state], value)
	e.apply(t, fsm.EventFieldAccepted)
	if t.sess.State != fsm.StateMenu {
		t.say(e.fieldPrompt(t.sess.State))
		return
	}
	e.completePurchase(ctx, t)
}

func (e *Engine) completePurchase(ctx context.Context, t *turn) {
	s := t.sess
	req := domain.PurchaseRequest{
		ID:            uuid.NewString(),
		UserID:        t.user,
		FirstName:     s.Value("first_name"),
		LastName:      s.Value("last_name"),
		Email:         s.Value("email"),
		Phone:         s.Value("phone"),
		PaymentMethod: s.Value("payment_method"),
		AmountUSD:     e.opts.PremiumPriceUSD,
		PeriodDays:    e.opts.PremiumPeriodDays,
		CreatedAt:     e.opts.Now().UTC(),
	}
	s.ResetToMenu()

	if e.opts.Purchases != nil {
		if err := e.opts.Purchases.Submit(ctx, req); err != nil {
			e.logger.Error().Err(err).Str("user_id", string(t.user)).Str("request_id", req.ID).Msg("dialog: submit purchase")
		}
	}
	e.opts.Metrics.Inc(metrics.PurchaseRequests)

	method := "Western Union"
	if req.PaymentMethod == payZelle {
		method = "Zelle"
	}
	t.say(domain.Reply{
		Text: fmt.Sprintf("✅ SOLICITUD REGISTRADA\n\n"+
			"👤 %s %s\n📧 %s\n📱 %s\n💳 %s\n💰 $%d USD por %d días\n🆔 %s\n\n"+
			"Envía el comprobante de pago a %s. Cuando confirmemos el pago recibirás tu usuario y contraseña Premium.",
			req.FirstName, req.LastName, req.Email, req.Phone, method, req.AmountUSD, req.PeriodDays, req.ID, e.opts.AdminEmail),
		Buttons: [][]domain.Button{menuRow()},
	})
}
