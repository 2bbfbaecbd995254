package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/fsm"
	"github.com/TheGitano/telegram-tts-bot/internal/kv"
	"github.com/TheGitano/telegram-tts-bot/internal/metrics"
	"github.com/TheGitano/telegram-tts-bot/internal/pipeline"
	"github.com/TheGitano/telegram-tts-bot/internal/premium"
	"github.com/TheGitano/telegram-tts-bot/internal/quota"
	"github.com/TheGitano/telegram-tts-bot/internal/router"
	"github.com/TheGitano/telegram-tts-bot/internal/session"
)

type upperTranslator struct{}

func (upperTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	return strings.ToUpper(text), nil
}

type recordingSynth struct {
	mu    sync.Mutex
	texts []string
	langs []string
	err   error
}

func (s *recordingSynth) Synthesize(_ context.Context, text, lang string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.texts = append(s.texts, text)
	s.langs = append(s.langs, lang)
	return []byte("mp3"), nil
}

type fixedDetector string

func (d fixedDetector) Detect(context.Context, string) (string, error) { return string(d), nil }

type stubImage struct{ text string }

func (stubImage) Model() string { return "stub" }

func (s stubImage) ExtractText(context.Context, []byte, string) (string, error) { return s.text, nil }

func (stubImage) Analyze(_ context.Context, text string) (string, error) {
	return "📋 RESUMEN: " + text, nil
}

type memorySink struct{ got []domain.PurchaseRequest }

func (m *memorySink) Submit(_ context.Context, req domain.PurchaseRequest) error {
	m.got = append(m.got, req)
	return nil
}

type harness struct {
	engine  *Engine
	ledger  *quota.Ledger
	records *kv.Memory[quota.Record]
	synth   *recordingSynth
	sink    *memorySink
	metrics *metrics.Registry
	now     time.Time
}

type harnessOptions struct {
	messageLimit int
	imageText    string
	noImages     bool
}

func newHarness(t *testing.T, ho harnessOptions) *harness {
	t.Helper()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	hash, err := premium.HashSecret("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	dir := premium.NewDirectory(premium.Options{
		Source: premium.NewStatic([]domain.Principal{
			{Handle: "ana", SecretHash: hash, DisplayName: "Ana", ExpiresAt: now.Add(10 * 24 * time.Hour)},
		}),
		Now: clock,
	})

	records := kv.NewMemory[quota.Record]()
	ledger := quota.NewLedger(quota.Options{Store: records, Now: clock})
	synth := &recordingSynth{}
	var images []pipeline.ImageReader
	if !ho.noImages {
		text := ho.imageText
		if text == "" {
			text = "Factura número 42"
		}
		images = []pipeline.ImageReader{stubImage{text: text}}
	}
	p := pipeline.New(pipeline.Options{
		Translator:  upperTranslator{},
		Synthesizer: synth,
		Detector:    fixedDetector("es"),
		Images:      images,
	})
	rt := router.New(router.Options{
		Entitlements: ledger,
		Now:          clock,
		Available: func(c domain.Capability) bool {
			return c != domain.CapabilityImage || p.ImagesEnabled()
		},
	})
	sink := &memorySink{}
	reg := metrics.New()
	e := New(Options{
		Ledger:       ledger,
		Router:       rt,
		Directory:    dir,
		Pipeline:     p,
		Purchases:    sink,
		Metrics:      reg,
		AdminEmail:   "admin@example.com",
		Signature:    "firma",
		MessageLimit: ho.messageLimit,
		Now:          clock,
	})
	return &harness{engine: e, ledger: ledger, records: records, synth: synth, sink: sink, metrics: reg, now: now}
}

func (h *harness) submit(user string, in Input) []domain.Reply {
	return h.engine.Submit(context.Background(), domain.UserID(user), in)
}

func (h *harness) state(t *testing.T, user string) fsm.State {
	t.Helper()
	sess, err := h.engine.opts.Sessions.Load(context.Background(), domain.UserID(user))
	require.NoError(t, err)
	return sess.State
}

func joined(replies []domain.Reply) string {
	var parts []string
	for _, r := range replies {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n")
}

func media(replies []domain.Reply) *domain.Media {
	for _, r := range replies {
		if r.Media != nil {
			return r.Media
		}
	}
	return nil
}

func hasButton(replies []domain.Reply, data string) bool {
	for _, r := range replies {
		for _, row := range r.Buttons {
			for _, b := range row {
				if b.Data == data {
					return true
				}
			}
		}
	}
	return false
}

func TestFreeTextScenario(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	replies := h.submit("u1", Command("/start"))
	require.True(t, hasButton(replies, choicePlanFree))

	replies = h.submit("u1", Choice(choicePlanFree))
	require.True(t, hasButton(replies, "cap:texto"))

	h.submit("u1", Choice("cap:texto"))
	require.Equal(t, fsm.StateAwaitingArtifact, h.state(t, "u1"))

	replies = h.submit("u1", Text("Hola mundo"))
	require.Equal(t, fsm.StateAwaitingConfirmation, h.state(t, "u1"))
	require.Contains(t, joined(replies), "Español")
	require.Contains(t, joined(replies), "inglés")
	require.True(t, hasButton(replies, choiceYes))

	ok, err := h.ledger.IsAllowed(ctx, "u1", domain.CapabilityText)
	require.NoError(t, err)
	require.True(t, ok, "nothing is consumed before the audio is produced")

	replies = h.submit("u1", Text("sí"))
	m := media(replies)
	require.NotNil(t, m)
	require.Equal(t, domain.MediaVoice, m.Kind)
	require.True(t, strings.HasSuffix(m.Caption, "firma"))
	require.Equal(t, []string{"HOLA MUNDO"}, h.synth.texts)
	require.Equal(t, []string{"en"}, h.synth.langs)
	require.Equal(t, fsm.StateMenu, h.state(t, "u1"), "free sessions are single-shot")

	ok, err = h.ledger.IsAllowed(ctx, "u1", domain.CapabilityText)
	require.NoError(t, err)
	require.False(t, ok)

	replies = h.submit("u1", Choice("cap:texto"))
	require.Contains(t, joined(replies), "Ya usaste la prueba gratis")
	require.Equal(t, fsm.StateMenu, h.state(t, "u1"))
	require.EqualValues(t, 1, h.metrics.Get(metrics.Key(metrics.Denials, "texto")))
}

func TestConfirmationButtonUsesSamePath(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.submit("u1", Choice("cap:texto"))
	h.submit("u1", Text("Hola mundo"))

	replies := h.submit("u1", Choice(choiceNo))
	require.NotNil(t, media(replies))
	require.Equal(t, []string{"Hola mundo"}, h.synth.texts)
	require.Equal(t, []string{"es"}, h.synth.langs)
}

func TestConfirmationRepromptsOnOtherText(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.submit("u1", Choice("cap:texto"))
	h.submit("u1", Text("Hola mundo"))

	replies := h.submit("u1", Text("quizás"))
	require.Equal(t, fsm.StateAwaitingConfirmation, h.state(t, "u1"))
	require.True(t, hasButton(replies, choiceYes))
	require.Empty(t, h.synth.texts)
}

func login(t *testing.T, h *harness, user, handle, secret string) []domain.Reply {
	t.Helper()
	h.submit(user, Choice(choiceLogin))
	require.Equal(t, fsm.StateLoginHandle, h.state(t, user))
	h.submit(user, Text(handle))
	require.Equal(t, fsm.StateLoginSecret, h.state(t, user), "the handle step always advances")
	return h.submit(user, Text(secret))
}

func TestPremiumRepeatsWithoutQuotaMutation(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	replies := login(t, h, "u1", "ana", "s3cret")
	require.Contains(t, joined(replies), "Hola, Ana")
	require.Contains(t, joined(replies), "10 días")
	before, ok, err := h.records.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	h.submit("u1", Choice("cap:texto"))
	for _, text := range []string{"primero", "segundo"} {
		h.submit("u1", Text(text))
		replies = h.submit("u1", Text("no"))
		require.NotNil(t, media(replies))
		require.Equal(t, fsm.StateAwaitingArtifact, h.state(t, "u1"), "premium sessions keep waiting for content")
	}
	require.Equal(t, []string{"primero", "segundo"}, h.synth.texts)

	after, _, err := h.records.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestLostSessionDropsPremium(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	login(t, h, "u1", "ana", "s3cret")

	// The quota record outlives the session, as it does with a database.
	h.engine.opts.Sessions = session.NewStore(nil, nil)

	h.submit("u1", Choice("cap:texto"))
	h.submit("u1", Text("uno"))
	replies := h.submit("u1", Text("no"))
	require.NotNil(t, media(replies), "the free use still works")
	require.Equal(t, fsm.StateMenu, h.state(t, "u1"))

	rec, _, err := h.records.Get(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, rec.Premium)
	require.True(t, rec.Used[domain.CapabilityText])

	replies = h.submit("u1", Choice("cap:texto"))
	require.Contains(t, joined(replies), "Ya usaste la prueba gratis")
	require.Equal(t, fsm.StateMenu, h.state(t, "u1"))
	require.Len(t, h.synth.texts, 1)
}

func TestLoginWrongSecret(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	replies := login(t, h, "u1", "ana", "nope")

	require.Equal(t, fsm.StateMenu, h.state(t, "u1"))
	require.Contains(t, joined(replies), "incorrectos")
	require.True(t, hasButton(replies, choiceLogin))
	premiumNow, err := h.ledger.IsPremium(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, premiumNow)

	rec, _, err := h.records.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Nil(t, rec.Premium)
	for _, used := range rec.Used {
		require.False(t, used)
	}
}

func TestLoginUnknownHandleFailsLikeWrongSecret(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	unknown := joined(login(t, h, "u1", "ghost", "s3cret"))
	wrong := joined(login(t, h, "u2", "ana", "bad"))
	require.Equal(t, wrong, unknown)
}

func TestLogout(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	login(t, h, "u1", "ana", "s3cret")
	replies := h.submit("u1", Command("/logout"))
	require.True(t, hasButton(replies, choicePlanFree))
	premiumNow, err := h.ledger.IsPremium(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, premiumNow)
}

func TestPurchaseForm(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.submit("u1", Choice(choiceBuy))
	require.Equal(t, fsm.StatePurchaseFirstName, h.state(t, "u1"))

	h.submit("u1", Text("Ana"))
	h.submit("u1", Text("Pérez"))
	require.Equal(t, fsm.StatePurchaseEmail, h.state(t, "u1"))

	replies := h.submit("u1", Text("ana-at-example"))
	require.Equal(t, fsm.StatePurchaseEmail, h.state(t, "u1"))
	require.Contains(t, joined(replies), "Correo inválido")

	h.submit("u1", Text("Ana@Example.com"))
	h.submit("u1", Text("12"))
	require.Equal(t, fsm.StatePurchasePhone, h.state(t, "u1"))
	replies = h.submit("u1", Text("+1 555 123 4567"))
	require.True(t, hasButton(replies, payZelle))

	replies = h.submit("u1", Choice(payZelle))
	require.Equal(t, fsm.StateMenu, h.state(t, "u1"))
	require.Contains(t, joined(replies), "SOLICITUD REGISTRADA")
	require.Len(t, h.sink.got, 1)
	req := h.sink.got[0]
	require.Equal(t, "Ana", req.FirstName)
	require.Equal(t, "Pérez", req.LastName)
	require.Equal(t, "ana@example.com", req.Email)
	require.Equal(t, "+1 555 123 4567", req.Phone)
	require.Equal(t, payZelle, req.PaymentMethod)
	require.Equal(t, 27, req.AmountUSD)
	require.Equal(t, 30, req.PeriodDays)
	require.NotEmpty(t, req.ID)
}

func TestMenuResetsFromAnyState(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.submit("u1", Choice(choiceBuy))
	h.submit("u1", Text("Ana"))
	h.submit("u1", Command("/menu"))

	sess, err := h.engine.opts.Sessions.Load(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, fsm.StateMenu, sess.State)
	require.Empty(t, sess.Form)
	require.Empty(t, sess.AwaitingCapability)
}

func TestStageFailureKeepsFreeUse(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.synth.err = errors.New("tts down")
	h.submit("u1", Choice("cap:texto"))
	h.submit("u1", Text("Hola mundo"))
	replies := h.submit("u1", Text("si"))

	require.Nil(t, media(replies))
	require.True(t, hasButton(replies, "cap:texto"), "failure offers a retry")
	require.Equal(t, fsm.StateMenu, h.state(t, "u1"))
	ok, err := h.ledger.IsAllowed(context.Background(), "u1", domain.CapabilityText)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWrongArtifactKeepsWaiting(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.submit("u1", Choice("cap:documento"))
	replies := h.submit("u1", Text("esto no es un documento"))

	require.Contains(t, joined(replies), "no corresponde")
	require.Equal(t, fsm.StateAwaitingArtifact, h.state(t, "u1"))
	ok, err := h.ledger.IsAllowed(context.Background(), "u1", domain.CapabilityDocTranslate)
	require.NoError(t, err)
	require.True(t, ok)

	replies = h.submit("u1", ArtifactInput(domain.Artifact{Kind: domain.ArtifactDocument, Filename: "a.txt", Data: []byte("x")}))
	require.Contains(t, joined(replies), "Formato no soportado")
	require.Equal(t, fsm.StateAwaitingArtifact, h.state(t, "u1"))
}

func TestImageFlowFree(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	h.submit("u1", Choice("cap:imagen"))

	replies := h.submit("u1", ArtifactInput(domain.Artifact{Kind: domain.ArtifactImage, Data: []byte{1, 2}}))
	require.Contains(t, joined(replies), "Factura número 42")
	require.True(t, hasButton(replies, "img:analyze"))
	require.Equal(t, fsm.StateAwaitingImageAction, h.state(t, "u1"))
	ok, _ := h.ledger.IsAllowed(ctx, "u1", domain.CapabilityImage)
	require.True(t, ok, "extraction alone does not use the free trial")

	replies = h.submit("u1", Choice("img:analyze"))
	require.Contains(t, joined(replies), "RESUMEN")
	require.True(t, hasButton(replies, "img:analysis_audio"))
	require.False(t, hasButton(replies, "img:audio_original"), "free users only get the analysis audio after analysing")
	require.Equal(t, fsm.StateAwaitingImageAction, h.state(t, "u1"))
	ok, _ = h.ledger.IsAllowed(ctx, "u1", domain.CapabilityImage)
	require.False(t, ok)

	replies = h.submit("u1", Choice("img:analysis_audio"))
	require.NotNil(t, media(replies))
	require.Equal(t, fsm.StateMenu, h.state(t, "u1"))

	replies = h.submit("u1", Choice("img:text_only"))
	require.Contains(t, joined(replies), "ya no está disponible")
}

func TestImageFlowPremiumLoops(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	login(t, h, "u1", "ana", "s3cret")
	h.submit("u1", Choice("cap:imagen"))
	h.submit("u1", ArtifactInput(domain.Artifact{Kind: domain.ArtifactImage, Data: []byte{1}}))

	replies := h.submit("u1", Choice("img:audio_translated"))
	require.NotNil(t, media(replies))
	require.Equal(t, []string{"en"}, h.synth.langs)
	require.Equal(t, fsm.StateAwaitingImageAction, h.state(t, "u1"))

	replies = h.submit("u1", Choice("img:text_only"))
	require.Contains(t, joined(replies), "Factura número 42")
	require.Equal(t, fsm.StateAwaitingImageAction, h.state(t, "u1"))
}

func TestImageUnavailableWithoutModels(t *testing.T) {
	h := newHarness(t, harnessOptions{noImages: true})
	replies := h.submit("u1", Choice("cap:imagen"))
	require.Contains(t, joined(replies), "no está disponible")
	require.Equal(t, fsm.StateMenu, h.state(t, "u1"))
}

func TestAllFreeConsumedScreen(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	for _, c := range domain.CapabilityNames() {
		require.NoError(t, h.ledger.Consume(ctx, "u1", c))
	}
	replies := h.submit("u1", Choice("cap:audio"))
	require.Contains(t, joined(replies), "todas tus pruebas gratis")
	require.True(t, hasButton(replies, choiceBuy))
}

func TestImageExtractionShowsOnlyPreview(t *testing.T) {
	long := strings.Repeat("línea de factura ", 50)
	h := newHarness(t, harnessOptions{imageText: long})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.submit("u1", Choice("cap:imagen"))
		replies := h.submit("u1", ArtifactInput(domain.Artifact{Kind: domain.ArtifactImage, Data: []byte{1}}))
		text := joined(replies)
		require.Contains(t, text, "vista previa")
		require.NotContains(t, text, strings.TrimSpace(long))
		for _, r := range replies {
			require.LessOrEqual(t, len([]rune(r.Text)), previewRunes+100)
		}
		h.submit("u1", Choice(choiceMenu))
	}
	ok, err := h.ledger.IsAllowed(ctx, "u1", domain.CapabilityImage)
	require.NoError(t, err)
	require.True(t, ok)

	h.submit("u1", Choice("cap:imagen"))
	h.submit("u1", ArtifactInput(domain.Artifact{Kind: domain.ArtifactImage, Data: []byte{1}}))
	replies := h.submit("u1", Choice("img:text_only"))
	require.Contains(t, joined(replies), strings.TrimSpace(long))
	ok, err = h.ledger.IsAllowed(ctx, "u1", domain.CapabilityImage)
	require.NoError(t, err)
	require.False(t, ok, "the full text costs the free use")
}

func TestLongOutputIsSplitIntoParts(t *testing.T) {
	long := strings.Repeat("palabra ", 40)
	h := newHarness(t, harnessOptions{messageLimit: 100, imageText: long})
	h.submit("u1", Choice("cap:imagen"))
	h.submit("u1", ArtifactInput(domain.Artifact{Kind: domain.ArtifactImage, Data: []byte{1}}))
	replies := h.submit("u1", Choice("img:text_only"))

	require.Contains(t, replies[0].Text, "Parte 1/")
	for _, r := range replies {
		if strings.Contains(r.Text, "Parte ") {
			require.LessOrEqual(t, len([]rune(r.Text)), 100)
		}
	}
}

func TestArtifactInMenuAsksToPickFirst(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	replies := h.submit("u1", ArtifactInput(domain.Artifact{Kind: domain.ArtifactAudio, Data: []byte{1}}))
	require.Contains(t, joined(replies), "Primero elige")
	require.Equal(t, fsm.StateMenu, h.state(t, "u1"))
}

func TestRecoveryFlow(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.submit("u1", Choice(choiceForgot))
	require.Equal(t, fsm.StatePasswordRecovery, h.state(t, "u1"))
	replies := h.submit("u1", Text("ana"))
	require.Contains(t, joined(replies), "admin@example.com")
	require.Equal(t, fsm.StateMenu, h.state(t, "u1"))
}

func TestLanguageName(t *testing.T) {
	require.Equal(t, "Inglés", languageName("en"))
	require.Equal(t, "Español", languageName("es"))
	require.Equal(t, "Desconocido", languageName(domain.LanguageUnknown))
}
