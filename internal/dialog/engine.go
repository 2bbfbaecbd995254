// Package dialog is the conversation controller. Every inbound event for a
// user goes through Engine.Submit, which moves the user's session through the
// fsm transition table and returns the replies the transport should send.
package dialog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/fsm"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/kv"
	"github.com/TheGitano/telegram-tts-bot/internal/metrics"
	"github.com/TheGitano/telegram-tts-bot/internal/middleware"
	"github.com/TheGitano/telegram-tts-bot/internal/pipeline"
	"github.com/TheGitano/telegram-tts-bot/internal/quota"
	"github.com/TheGitano/telegram-tts-bot/internal/router"
	"github.com/TheGitano/telegram-tts-bot/internal/session"
)

// InputKind classifies an inbound event.
type InputKind string

const (
	InputCommand  InputKind = "command"
	InputText     InputKind = "text"
	InputChoice   InputKind = "choice"
	InputArtifact InputKind = "artifact"
)

// Input is one inbound event. Text holds the command name, the typed text or
// the choice data depending on Kind.
type Input struct {
	Kind     InputKind
	Text     string
	Artifact *domain.Artifact
}

func Command(name string) Input { return Input{Kind: InputCommand, Text: name} }
func Text(s string) Input       { return Input{Kind: InputText, Text: s} }
func Choice(data string) Input  { return Input{Kind: InputChoice, Text: data} }

func ArtifactInput(a domain.Artifact) Input {
	return Input{Kind: InputArtifact, Artifact: &a}
}

// Ledger is the quota ledger surface the engine needs.
type Ledger interface {
	router.Entitlements
	Consume(ctx context.Context, user domain.UserID, c domain.Capability) error
	Usage(ctx context.Context, user domain.UserID) (quota.Record, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, handle, secret string) (domain.Principal, error)
}

type Processor interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Outcome
	Target(src string) string
}

type PurchaseSink interface {
	Submit(ctx context.Context, req domain.PurchaseRequest) error
}

type Options struct {
	Sessions  *session.Store
	Ledger    Ledger
	Router    *router.Router
	Directory Authenticator
	Pipeline  Processor
	Purchases PurchaseSink
	Metrics   *metrics.Registry

	AdminEmail        string
	Signature         string
	PremiumPriceUSD   int
	PremiumPeriodDays int
	// MessageLimit is the longest text the transport takes in one message.
	MessageLimit int
	Now          func() time.Time
	Logger       *infra.Logger
}

type Engine struct {
	opts   Options
	locks  *kv.KeyedMutex
	logger *infra.Logger
}

func New(opts Options) *Engine {
	if opts.Sessions == nil {
		opts.Sessions = session.NewStore(nil, opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Router == nil {
		opts.Router = router.New(router.Options{Entitlements: opts.Ledger, Now: opts.Now, Logger: opts.Logger})
	}
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = 4000
	}
	if opts.PremiumPriceUSD <= 0 {
		opts.PremiumPriceUSD = 27
	}
	if opts.PremiumPeriodDays <= 0 {
		opts.PremiumPeriodDays = 30
	}
	return &Engine{opts: opts, locks: kv.NewKeyedMutex(), logger: infra.OrDiscard(opts.Logger)}
}

// turn carries one Submit call's state.
type turn struct {
	user    domain.UserID
	sess    *session.Session
	replies []domain.Reply
}

func (t *turn) say(r ...domain.Reply) {
	t.replies = append(t.replies, r...)
}

// Submit handles one inbound event for user. Typed text and inline choices
// share this entry point. Events for the same user are serialised.
func (e *Engine) Submit(ctx context.Context, user domain.UserID, in Input) []domain.Reply {
	e.opts.Metrics.Inc(metrics.EventsReceived)
	unlock := e.locks.Lock(string(user))
	defer unlock()

	sess, err := e.opts.Sessions.Load(ctx, user)
	if err != nil {
		e.logger.Error().Err(err).Str("user_id", string(user)).Msg("dialog: load session")
		return []domain.Reply{domain.TextReply(msgInternalError)}
	}
	t := &turn{user: user, sess: &sess}
	before := sess.State
	// A fresh session carries no login, so any grant left in the ledger goes.
	e.premium(ctx, t)

	e.handle(ctx, t, in)

	if err := e.opts.Sessions.Save(ctx, user, sess); err != nil {
		e.logger.Error().Err(err).Str("user_id", string(user)).Msg("dialog: save session")
		t.say(domain.TextReply(msgInternalError))
	}
	e.logger.Debug().
		Str("user_id", string(user)).
		Str("request_id", middleware.RequestIDFromContext(ctx)).
		Str("input", string(in.Kind)).
		Str("from", string(before)).
		Str("state", string(sess.State)).
		Msg("dialog: turn")
	return t.replies
}

func (e *Engine) handle(ctx context.Context, t *turn, in Input) {
	switch in.Kind {
	case InputCommand:
		e.command(ctx, t, strings.ToLower(strings.TrimSpace(in.Text)))
	case InputChoice:
		e.choice(ctx, t, strings.TrimSpace(in.Text))
	case InputText:
		e.text(ctx, t, strings.TrimSpace(in.Text))
	case InputArtifact:
		if in.Artifact == nil {
			e.reprompt(ctx, t)
			return
		}
		e.artifact(ctx, t, *in.Artifact)
	default:
		e.reprompt(ctx, t)
	}
}

func (e *Engine) command(ctx context.Context, t *turn, name string) {
	switch strings.TrimPrefix(name, "/") {
	case "start":
		e.reset(t)
		t.say(e.startScreen(ctx, t))
	case "menu", "menú":
		e.reset(t)
		t.say(e.home(ctx, t))
	case "cancel", "cancelar":
		e.reset(t)
		t.say(domain.TextReply(msgCancelled), e.home(ctx, t))
	case "logout", "salir":
		e.logout(ctx, t)
	default:
		e.reprompt(ctx, t)
	}
}

const (
	choiceMenu        = "menu"
	choiceStart       = "start"
	choicePlanFree    = "plan_free"
	choicePlanPremium = "plan_premium"
	choiceLogin       = "login"
	choiceBuy         = "buy"
	choiceForgot      = "forgot"
	choiceLogout      = "logout"
	choiceYes         = "confirm:si"
	choiceNo          = "confirm:no"
	prefixCapability  = "cap:"
	prefixImage       = "img:"
	payWestern        = "pago_western"
	payZelle          = "pago_zelle"
)

func (e *Engine) choice(ctx context.Context, t *turn, data string) {
	switch {
	case data == choiceMenu:
		e.reset(t)
		t.say(e.home(ctx, t))
	case data == choiceStart:
		e.reset(t)
		t.say(e.startScreen(ctx, t))
	case data == choicePlanFree:
		e.reset(t)
		t.say(e.freeMenu(ctx, t))
	case data == choicePlanPremium:
		e.reset(t)
		if e.premium(ctx, t) {
			t.say(e.premiumMenu(t))
			return
		}
		t.say(e.premiumPitch())
	case data == choiceLogin:
		e.startLogin(t)
	case data == choiceBuy:
		e.startPurchase(t)
	case data == choiceForgot:
		e.startRecovery(t)
	case data == choiceLogout:
		e.logout(ctx, t)
	case data == choiceYes, data == choiceNo, data == payWestern, data == payZelle:
		e.text(ctx, t, strings.TrimPrefix(data, "confirm:"))
	case strings.HasPrefix(data, prefixCapability):
		e.selectCapability(ctx, t, domain.Capability(strings.TrimPrefix(data, prefixCapability)))
	case strings.HasPrefix(data, prefixImage):
		e.imageAction(ctx, t, pipeline.Action(strings.TrimPrefix(data, prefixImage)))
	default:
		e.reprompt(ctx, t)
	}
}

func (e *Engine) text(ctx context.Context, t *turn, s string) {
	switch state := t.sess.State; {
	case state == fsm.StateLoginHandle:
		e.loginHandle(ctx, t, s)
	case state == fsm.StateLoginSecret:
		e.loginSecret(ctx, t, s)
	case state == fsm.StatePasswordRecovery:
		e.recovery(ctx, t, s)
	case fsm.IsPurchaseField(state):
		e.purchaseField(ctx, t, s)
	case state == fsm.StateAwaitingArtifact:
		e.artifact(ctx, t, domain.Artifact{Kind: domain.ArtifactText, Text: s})
	case state == fsm.StateAwaitingConfirmation:
		e.confirm(ctx, t, s)
	default:
		e.reprompt(ctx, t)
	}
}

// apply moves the session along event. A refused transition is logged and
// leaves the state untouched.
func (e *Engine) apply(t *turn, event fsm.Event) bool {
	next, err := fsm.Transition(t.sess.State, event)
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", string(t.user)).Msg("dialog: transition refused")
		return false
	}
	t.sess.State = next
	return true
}

// reset is the global return-to-menu control.
func (e *Engine) reset(t *turn) {
	e.apply(t, fsm.EventReset)
	t.sess.ResetToMenu()
}

func (e *Engine) logout(ctx context.Context, t *turn) {
	if err := e.opts.Ledger.Revoke(ctx, t.user); err != nil {
		e.logger.Error().Err(err).Str("user_id", string(t.user)).Msg("dialog: revoke premium")
	}
	e.apply(t, fsm.EventReset)
	t.sess.Logout()
	t.say(domain.TextReply(msgLoggedOut), e.startScreen(ctx, t))
}

// premium reports whether the session is logged in to a principal that has
// not expired. Expiry is evaluated on every call.
func (e *Engine) premium(ctx context.Context, t *turn) bool {
	ok, err := router.Reconcile(ctx, e.opts.Ledger, t.user, t.sess, e.opts.Now())
	if err != nil {
		e.logger.Error().Err(err).Str("user_id", string(t.user)).Msg("dialog: premium check")
		return false
	}
	return ok
}

// reprompt re-issues the prompt of the current state.
func (e *Engine) reprompt(ctx context.Context, t *turn) {
	s := t.sess
	switch {
	case s.State == fsm.StateLoginHandle:
		t.say(domain.TextReply(msgAskHandle))
	case s.State == fsm.StateLoginSecret:
		t.say(domain.TextReply(msgAskSecret))
	case s.State == fsm.StatePasswordRecovery:
		t.say(domain.TextReply(msgAskRecovery))
	case fsm.IsPurchaseField(s.State):
		t.say(e.fieldPrompt(s.State))
	case s.State == fsm.StateAwaitingArtifact:
		t.say(e.capabilityPrompt(s.AwaitingCapability))
	case s.State == fsm.StateAwaitingConfirmation && s.LastArtifact != nil:
		t.say(e.confirmPrompt(*s.LastArtifact))
	case s.State == fsm.StateAwaitingImageAction && s.LastArtifact != nil:
		t.say(e.imageActions(ctx, t, *s.LastArtifact))
	default:
		t.say(e.home(ctx, t))
	}
}

func isRejection(err error) (*pipeline.RejectedError, bool) {
	var re *pipeline.RejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
