package dialog

import (
	"context"
	"strings"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/fsm"
	"github.com/TheGitano/telegram-tts-bot/internal/metrics"
	"github.com/TheGitano/telegram-tts-bot/internal/pipeline"
	"github.com/TheGitano/telegram-tts-bot/internal/router"
)

func (e *Engine) selectCapability(ctx context.Context, t *turn, c domain.Capability) {
	// Selecting a capability from inside another flow abandons that flow.
	if _, err := fsm.Transition(t.sess.State, fsm.EventCapabilityGranted); err != nil {
		e.reset(t)
	}
	d, err := e.opts.Router.Select(ctx, t.user, c, t.sess)
	if err != nil {
		e.logger.Error().Err(err).Str("user_id", string(t.user)).Str("capability", string(c)).Msg("dialog: select capability")
		e.reset(t)
		t.say(domain.TextReply(msgInternalError))
		return
	}
	if d.Granted {
		t.say(e.capabilityPrompt(c))
		return
	}
	e.reset(t)
	switch d.Reason {
	case router.ReasonAllFreeConsumed:
		e.opts.Metrics.Inc(metrics.Denials, string(c))
		t.say(e.allFreeUsed(ctx, t))
	case router.ReasonUpgradeRequired:
		e.opts.Metrics.Inc(metrics.Denials, string(c))
		t.say(e.upgradeRequired(c))
	case router.ReasonUnavailable:
		t.say(domain.Reply{
			Text:    "⚠️ Esta función no está disponible en este momento.",
			Buttons: [][]domain.Button{menuRow()},
		})
	default:
		t.say(e.home(ctx, t))
	}
}

// artifact handles content sent while waiting on a capability.
func (e *Engine) artifact(ctx context.Context, t *turn, a domain.Artifact) {
	s := t.sess
	switch {
	case s.State == fsm.StateAwaitingArtifact:
	case s.State == fsm.StateAwaitingImageAction && a.Kind == domain.ArtifactImage:
	case s.State == fsm.StateMenu:
		t.say(domain.TextReply(msgPickFirst), e.home(ctx, t))
		return
	default:
		e.reprompt(ctx, t)
		return
	}
	c := s.AwaitingCapability
	if !e.entitled(ctx, t, c) {
		return
	}
	out := e.opts.Pipeline.Process(ctx, pipeline.Request{Capability: c, Artifact: a})
	e.finish(ctx, t, c, pipeline.ActionNone, out)
}

func parseYesNo(s string) (yes, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "si", "sí", "s", "yes", "y":
		return true, true
	case "no", "n":
		return false, true
	}
	return false, false
}

func (e *Engine) confirm(ctx context.Context, t *turn, answer string) {
	yes, ok := parseYesNo(answer)
	if !ok || t.sess.LastArtifact == nil {
		e.reprompt(ctx, t)
		return
	}
	c := t.sess.AwaitingCapability
	if !e.entitled(ctx, t, c) {
		return
	}
	prior := *t.sess.LastArtifact
	out := e.opts.Pipeline.Process(ctx, pipeline.Request{Capability: c, Action: pipeline.ActionSpeak, Translate: yes, Prior: &prior})
	e.finish(ctx, t, c, pipeline.ActionSpeak, out)
}

func (e *Engine) imageAction(ctx context.Context, t *turn, action pipeline.Action) {
	s := t.sess
	if s.State != fsm.StateAwaitingImageAction || s.LastArtifact == nil {
		e.reset(t)
		t.say(domain.TextReply(msgArtifactGone), e.home(ctx, t))
		return
	}
	c := s.AwaitingCapability
	if action.Consumes() && !e.entitled(ctx, t, c) {
		return
	}
	prior := *s.LastArtifact
	out := e.opts.Pipeline.Process(ctx, pipeline.Request{Capability: c, Action: action, Prior: &prior})
	e.finish(ctx, t, c, action, out)
}

// entitled re-checks entitlement right before work starts, since premium may
// have lapsed since the capability was selected.
func (e *Engine) entitled(ctx context.Context, t *turn, c domain.Capability) bool {
	if e.premium(ctx, t) {
		return true
	}
	ok, err := e.opts.Ledger.IsAllowed(ctx, t.user, c)
	if err != nil {
		e.logger.Error().Err(err).Str("user_id", string(t.user)).Str("capability", string(c)).Msg("dialog: entitlement check")
		e.reset(t)
		t.say(domain.TextReply(msgInternalError))
		return false
	}
	if ok {
		return true
	}
	e.opts.Metrics.Inc(metrics.Denials, string(c))
	e.logger.Info().Str("user_id", string(t.user)).Str("capability", string(c)).Err(domain.ErrEntitlementDenied).Msg("dialog: denied")
	e.reset(t)
	t.say(e.upgradeRequired(c))
	return false
}

// finish turns a pipeline outcome into replies, quota updates and the next
// dialog state.
func (e *Engine) finish(ctx context.Context, t *turn, c domain.Capability, action pipeline.Action, out pipeline.Outcome) {
	log := e.logger.With().Str("user_id", string(t.user)).Str("capability", string(c)).Str("run_id", out.RunID).Logger()

	if out.Err != nil {
		if re, ok := isRejection(out.Err); ok {
			e.opts.Metrics.Inc(metrics.InputRejected, string(c))
			e.apply(t, fsm.EventArtifactRejected)
			msg, found := rejectionMessages[re.Reason]
			if !found {
				msg = msgArtifactGone
			}
			t.say(domain.TextReply(msg))
			e.reprompt(ctx, t)
			return
		}
		e.opts.Metrics.Inc(metrics.PipelineFailed, string(c))
		log.Warn().Err(out.Err).Msg("dialog: capability failed")
		e.apply(t, fsm.EventStageFailed)
		t.sess.ResetToMenu()
		t.say(domain.Reply{
			Text: "❌ No pude completar la operación. No se descontó ningún uso; puedes intentarlo de nuevo.",
			Buttons: [][]domain.Button{
				{button("🔁 Reintentar", prefixCapability+string(c))},
				menuRow(),
			},
		})
		return
	}

	delivered := !out.Pending || action == pipeline.ActionAnalyze
	if delivered && action.Consumes() {
		if err := e.opts.Ledger.Consume(ctx, t.user, c); err != nil {
			log.Error().Err(err).Msg("dialog: consume free use")
		}
	}
	premium := e.premium(ctx, t)
	if !premium {
		t.sess.PremiumContext = false
	}

	if out.Pending {
		e.opts.Metrics.Inc(metrics.PipelineSucceeded, string(c))
		t.sess.LastArtifact = out.Extracted
		switch {
		case c == domain.CapabilityText:
			e.apply(t, fsm.EventNeedsConfirmation)
			t.say(e.confirmPrompt(*out.Extracted))
		case action == pipeline.ActionAnalyze:
			e.apply(t, fsm.EventAnalysisReady)
			t.say(e.parts("🔍 ANÁLISIS\n\n" + out.Text)...)
			t.say(e.imageActions(ctx, t, *out.Extracted))
		default:
			e.apply(t, fsm.EventImageExtracted)
			t.say(domain.TextReply(extractionPreview(out.Text)))
			t.say(e.imageActions(ctx, t, *out.Extracted))
		}
		return
	}

	e.opts.Metrics.Inc(metrics.PipelineSucceeded, string(c))
	if strings.TrimSpace(out.Text) != "" {
		t.say(e.parts(out.Text)...)
	}
	if out.Media != nil {
		m := *out.Media
		m.Caption = e.sign(m.Caption)
		t.say(domain.Reply{Media: &m})
	}

	if premium {
		e.apply(t, fsm.EventCompletedContinue)
		if t.sess.State == fsm.StateAwaitingImageAction && t.sess.LastArtifact != nil {
			t.say(e.imageActions(ctx, t, *t.sess.LastArtifact))
			return
		}
		t.sess.LastArtifact = nil
		t.say(domain.Reply{
			Text:    capabilityPrompts[c] + "\n\n⭐ Puedes seguir enviando contenido o volver al menú.",
			Buttons: [][]domain.Button{menuRow()},
		})
		return
	}

	e.apply(t, fsm.EventCompletedSingle)
	t.sess.ResetToMenu()
	done, err := e.opts.Ledger.AllFreeConsumed(ctx, t.user)
	if err != nil {
		log.Error().Err(err).Msg("dialog: check free usage")
	}
	if done {
		t.say(e.allFreeUsed(ctx, t))
		return
	}
	t.say(e.freeMenu(ctx, t))
}
