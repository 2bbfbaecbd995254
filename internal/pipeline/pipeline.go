// Package pipeline turns a user artifact into the output of a capability:
// extraction, language detection, translation, speech synthesis or
// recognition, analysis and document reconstruction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TheGitano/telegram-tts-bot/internal/document"
	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/middleware"
)

// RunState is the position of a single pipeline run.
type RunState string

const (
	RunIdle         RunState = "IDLE"
	RunExtracting   RunState = "EXTRACTING"
	RunDetecting    RunState = "DETECTING"
	RunTranslating  RunState = "TRANSLATING"
	RunSynthesizing RunState = "SYNTHESIZING"
	RunRecognizing  RunState = "RECOGNIZING"
	RunAnalyzing    RunState = "ANALYZING"
	RunAssembling   RunState = "ASSEMBLING"
	RunDone         RunState = "DONE"
	RunFailed       RunState = "FAILED"
)

// Action selects what to do with content already extracted in an earlier run.
type Action string

const (
	ActionNone            Action = ""
	ActionSpeak           Action = "speak"
	ActionTextOnly        Action = "text_only"
	ActionAudioOriginal   Action = "audio_original"
	ActionAudioTranslated Action = "audio_translated"
	ActionAnalyze         Action = "analyze"
	ActionAnalysisAudio   Action = "analysis_audio"
)

// Consumes reports whether completing the action counts as a use of the
// capability.
func (a Action) Consumes() bool {
	return a != ActionAnalysisAudio
}

// Rejection names why an artifact was refused before any stage ran.
type Rejection string

const (
	RejectWrongKind   Rejection = "wrong_kind"
	RejectTooLarge    Rejection = "too_large"
	RejectFormat      Rejection = "unsupported_format"
	RejectEmpty       Rejection = "empty"
	RejectNoPrior     Rejection = "no_prior_artifact"
	RejectUnknownStep Rejection = "unknown_action"
)

// RejectedError reports an artifact the capability cannot take.
type RejectedError struct {
	Reason Rejection
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", domain.ErrInputRejected, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == domain.ErrInputRejected
}

func reject(r Rejection) *RejectedError {
	return &RejectedError{Reason: r}
}

// Request is one pipeline invocation. A fresh artifact leaves Action empty;
// follow-ups set Action and Prior.
type Request struct {
	Capability domain.Capability
	Artifact   domain.Artifact
	Action     Action
	// Translate applies to ActionSpeak on text the user already confirmed.
	Translate bool
	Prior     *domain.ExtractedArtifact
}

// Outcome is the terminal result of a run. Pending means the capability needs
// a further user choice before it is complete.
type Outcome struct {
	RunID     string
	Text      string
	Media     *domain.Media
	Extracted *domain.ExtractedArtifact
	Pending   bool
	Truncated bool
	Trace     []RunState
	Err       error
}

type Options struct {
	Translator  Translator
	Synthesizer Synthesizer
	Recognizer  Recognizer
	Detector    Detector
	Documents   DocumentCodec
	Images      []ImageReader

	PivotPrimary   string
	PivotSecondary string
	// RecognitionLanguages are tried in order for audio.
	RecognitionLanguages []string
	ChunkSize            int
	TTSMaxChars          int
	DetectPrefixChars    int
	MaxArtifactBytes     int
	StageTimeout         time.Duration
	Logger               *infra.Logger
}

type Pipeline struct {
	opts   Options
	logger *infra.Logger
}

func New(opts Options) *Pipeline {
	if opts.PivotPrimary == "" {
		opts.PivotPrimary = "es"
	}
	if opts.PivotSecondary == "" {
		opts.PivotSecondary = "en"
	}
	if len(opts.RecognitionLanguages) == 0 {
		opts.RecognitionLanguages = []string{"en-US", "es-ES"}
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 4500
	}
	if opts.TTSMaxChars <= 0 {
		opts.TTSMaxChars = 5000
	}
	if opts.DetectPrefixChars <= 0 {
		opts.DetectPrefixChars = 1000
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 60 * time.Second
	}
	if opts.Documents == nil {
		opts.Documents = document.Codec{}
	}
	return &Pipeline{opts: opts, logger: infra.OrDiscard(opts.Logger)}
}

// Target returns the pivot language src routes to.
func (p *Pipeline) Target(src string) string {
	if src == p.opts.PivotPrimary {
		return p.opts.PivotSecondary
	}
	return p.opts.PivotPrimary
}

// ImagesEnabled reports whether any image model tier is configured.
func (p *Pipeline) ImagesEnabled() bool {
	return len(p.opts.Images) > 0
}

type run struct {
	id     string
	state  RunState
	trace  []RunState
	logger infra.Logger
}

func (p *Pipeline) newRun(ctx context.Context, req Request) *run {
	id := uuid.NewString()
	l := p.logger.With().
		Str("run_id", id).
		Str("request_id", middleware.RequestIDFromContext(ctx)).
		Str("capability", string(req.Capability)).
		Str("action", string(req.Action)).
		Logger()
	return &run{id: id, state: RunIdle, trace: []RunState{RunIdle}, logger: l}
}

func (r *run) enter(s RunState) {
	r.state = s
	r.trace = append(r.trace, s)
	r.logger.Debug().Str("state", string(s)).Msg("pipeline: state")
}

func (r *run) done(out Outcome) Outcome {
	r.enter(RunDone)
	out.RunID = r.id
	out.Trace = r.trace
	return out
}

func (r *run) fail(err error) Outcome {
	r.enter(RunFailed)
	ev := r.logger.Warn().Err(err)
	var se *domain.StageError
	if errors.As(err, &se) {
		ev = ev.Str("stage", string(se.Stage))
	}
	ev.Msg("pipeline: run failed")
	return Outcome{RunID: r.id, Trace: r.trace, Err: err}
}

// Process runs the capability for req. Failures are reported in Outcome.Err,
// either as a *RejectedError or a *domain.StageError.
func (p *Pipeline) Process(ctx context.Context, req Request) Outcome {
	r := p.newRun(ctx, req)
	spec, ok := domain.LookupCapability(string(req.Capability))
	if !ok {
		return r.fail(fmt.Errorf("%w: %s", domain.ErrUnknownCapability, req.Capability))
	}

	if req.Action != ActionNone {
		if req.Prior == nil {
			return r.fail(reject(RejectNoPrior))
		}
		switch req.Action {
		case ActionSpeak:
			return p.speakText(ctx, r, *req.Prior, req.Translate)
		case ActionTextOnly, ActionAudioOriginal, ActionAudioTranslated, ActionAnalyze, ActionAnalysisAudio:
			return p.imageAction(ctx, r, req.Action, *req.Prior)
		default:
			return r.fail(reject(RejectUnknownStep))
		}
	}

	if err := p.validate(spec, req.Artifact); err != nil {
		return r.fail(err)
	}
	switch spec.Name {
	case domain.CapabilityText:
		return p.detectText(ctx, r, req.Artifact)
	case domain.CapabilityDocTranslate:
		return p.translateDocument(ctx, r, req.Artifact)
	case domain.CapabilityDocToSpeech:
		return p.speakDocument(ctx, r, req.Artifact)
	case domain.CapabilityAudioTranslate:
		return p.translateAudio(ctx, r, req.Artifact)
	case domain.CapabilityImage:
		return p.readImage(ctx, r, req.Artifact)
	}
	return r.fail(fmt.Errorf("%w: %s", domain.ErrUnknownCapability, req.Capability))
}

func (p *Pipeline) validate(spec domain.CapabilitySpec, a domain.Artifact) error {
	if !spec.AcceptsKind(a.Kind) {
		return reject(RejectWrongKind)
	}
	if p.opts.MaxArtifactBytes > 0 && a.Size() > p.opts.MaxArtifactBytes {
		return reject(RejectTooLarge)
	}
	switch a.Kind {
	case domain.ArtifactText:
		if strings.TrimSpace(a.Text) == "" {
			return reject(RejectEmpty)
		}
	case domain.ArtifactDocument:
		if a.Format() == domain.FormatUnknown {
			return reject(RejectFormat)
		}
		if len(a.Data) == 0 {
			return reject(RejectEmpty)
		}
	default:
		if len(a.Data) == 0 {
			return reject(RejectEmpty)
		}
	}
	return nil
}

func (p *Pipeline) detectText(ctx context.Context, r *run, a domain.Artifact) Outcome {
	text := strings.TrimSpace(a.Text)
	lang := p.detect(ctx, r, text)
	return r.done(Outcome{
		Pending:   true,
		Extracted: &domain.ExtractedArtifact{Kind: domain.ArtifactText, Text: text, Language: lang},
	})
}

func (p *Pipeline) speakText(ctx context.Context, r *run, prior domain.ExtractedArtifact, translate bool) Outcome {
	text, lang := prior.Text, p.voiceLanguage(prior.Language)
	if translate {
		dst := p.Target(prior.Language)
		out, err := p.translate(ctx, r, text, prior.Language, dst)
		if err != nil {
			return r.fail(err)
		}
		text, lang = out, dst
	}
	media, truncated, err := p.synthesize(ctx, r, text, lang)
	if err != nil {
		return r.fail(err)
	}
	return r.done(Outcome{Media: media, Truncated: truncated})
}

func (p *Pipeline) extractDocument(r *run, a domain.Artifact) (document.Structure, error) {
	r.enter(RunExtracting)
	st, err := p.opts.Documents.Extract(a.Data, a.Format())
	if err != nil {
		return document.Structure{}, domain.NewStageError(domain.StageExtract, err)
	}
	if strings.TrimSpace(st.Text()) == "" {
		return document.Structure{}, domain.NewStageError(domain.StageExtract, document.ErrNoText)
	}
	return st, nil
}

func (p *Pipeline) translateDocument(ctx context.Context, r *run, a domain.Artifact) Outcome {
	st, err := p.extractDocument(r, a)
	if err != nil {
		return r.fail(err)
	}
	src := p.detect(ctx, r, st.Text())
	dst := p.Target(src)

	r.enter(RunTranslating)
	data, err := p.opts.Documents.Rewrite(a.Data, a.Format(), func(text string) (string, error) {
		return p.translateChunks(ctx, r, text, src, dst)
	})
	if err != nil {
		var se *domain.StageError
		if !errors.As(err, &se) {
			err = domain.NewStageError(domain.StageReconstruct, err)
		}
		return r.fail(err)
	}

	r.enter(RunAssembling)
	original := a.Filename
	if original == "" {
		original = "documento." + string(a.Format())
	}
	name := document.OutputName(original, displayCode(src), dst)
	return r.done(Outcome{Media: &domain.Media{
		Kind:     domain.MediaDocument,
		Filename: name,
		Data:     data,
		Caption:  fmt.Sprintf("📄 Documento traducido (%s → %s)", strings.ToUpper(displayCode(src)), strings.ToUpper(dst)),
	}})
}

func (p *Pipeline) speakDocument(ctx context.Context, r *run, a domain.Artifact) Outcome {
	st, err := p.extractDocument(r, a)
	if err != nil {
		return r.fail(err)
	}
	text := st.Text()
	src := p.detect(ctx, r, text)
	dst := p.Target(src)
	out, err := p.translate(ctx, r, text, src, dst)
	if err != nil {
		return r.fail(err)
	}
	media, truncated, err := p.synthesize(ctx, r, out, dst)
	if err != nil {
		return r.fail(err)
	}
	return r.done(Outcome{Media: media, Truncated: truncated})
}

func (p *Pipeline) translateAudio(ctx context.Context, r *run, a domain.Artifact) Outcome {
	if p.opts.Recognizer == nil {
		return r.fail(domain.NewStageError(domain.StageRecognize, errors.New("no recognizer configured")))
	}
	r.enter(RunRecognizing)
	tiers := make([]Tier[string], 0, len(p.opts.RecognitionLanguages))
	for _, code := range p.opts.RecognitionLanguages {
		tiers = append(tiers, Tier[string]{Name: code, Run: func(ctx context.Context) (string, error) {
			return p.opts.Recognizer.Recognize(ctx, a.Data, code)
		}})
	}
	transcript, tier, err := Try(ctx, p.opts.StageTimeout, &r.logger, tiers)
	if err != nil {
		return r.fail(domain.NewStageError(domain.StageRecognize, err))
	}
	src := baseLanguage(tier)
	dst := p.Target(src)
	translated, err := p.translate(ctx, r, transcript, src, dst)
	if err != nil {
		return r.fail(err)
	}
	media, truncated, err := p.synthesize(ctx, r, translated, dst)
	if err != nil {
		return r.fail(err)
	}
	text := fmt.Sprintf("🎤 Transcripción (%s):\n%s\n\n🌐 Traducción (%s):\n%s",
		strings.ToUpper(src), transcript, strings.ToUpper(dst), translated)
	return r.done(Outcome{Text: text, Media: media, Truncated: truncated})
}

func (p *Pipeline) readImage(ctx context.Context, r *run, a domain.Artifact) Outcome {
	r.enter(RunExtracting)
	mime := a.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	text, tier, err := Try(ctx, p.opts.StageTimeout, &r.logger, p.imageTiers(func(ctx context.Context, m ImageReader) (string, error) {
		return m.ExtractText(ctx, a.Data, mime)
	}))
	if err != nil {
		return r.fail(domain.NewStageError(domain.StageExtract, err))
	}
	r.logger.Info().Str("tier", tier).Msg("pipeline: image text extracted")
	lang := p.detect(ctx, r, text)
	return r.done(Outcome{
		Text:      text,
		Pending:   true,
		Extracted: &domain.ExtractedArtifact{Kind: domain.ArtifactImage, Text: text, Language: lang},
	})
}

func (p *Pipeline) imageAction(ctx context.Context, r *run, action Action, prior domain.ExtractedArtifact) Outcome {
	switch action {
	case ActionTextOnly:
		r.enter(RunAssembling)
		return r.done(Outcome{Text: prior.Text})
	case ActionAudioOriginal:
		media, truncated, err := p.synthesize(ctx, r, prior.Text, p.voiceLanguage(prior.Language))
		if err != nil {
			return r.fail(err)
		}
		return r.done(Outcome{Media: media, Truncated: truncated})
	case ActionAudioTranslated:
		dst := p.Target(prior.Language)
		out, err := p.translate(ctx, r, prior.Text, prior.Language, dst)
		if err != nil {
			return r.fail(err)
		}
		media, truncated, err := p.synthesize(ctx, r, out, dst)
		if err != nil {
			return r.fail(err)
		}
		return r.done(Outcome{Text: out, Media: media, Truncated: truncated})
	case ActionAnalyze:
		r.enter(RunAnalyzing)
		analysis, tier, err := Try(ctx, p.opts.StageTimeout, &r.logger, p.imageTiers(func(ctx context.Context, m ImageReader) (string, error) {
			return m.Analyze(ctx, prior.Text)
		}))
		if err != nil {
			return r.fail(domain.NewStageError(domain.StageAnalyze, err))
		}
		r.logger.Info().Str("tier", tier).Msg("pipeline: analysis ready")
		next := prior
		next.Analysis = analysis
		return r.done(Outcome{Text: analysis, Extracted: &next, Pending: true})
	case ActionAnalysisAudio:
		if strings.TrimSpace(prior.Analysis) == "" {
			return r.fail(reject(RejectNoPrior))
		}
		media, truncated, err := p.synthesize(ctx, r, prior.Analysis, p.voiceLanguage(prior.Language))
		if err != nil {
			return r.fail(err)
		}
		return r.done(Outcome{Media: media, Truncated: truncated})
	}
	return r.fail(reject(RejectUnknownStep))
}

func (p *Pipeline) imageTiers(call func(context.Context, ImageReader) (string, error)) []Tier[string] {
	tiers := make([]Tier[string], 0, len(p.opts.Images))
	for _, m := range p.opts.Images {
		tiers = append(tiers, Tier[string]{Name: m.Model(), Run: func(ctx context.Context) (string, error) {
			return call(ctx, m)
		}})
	}
	return tiers
}

// detect never fails; anything it cannot decide becomes LanguageUnknown.
func (p *Pipeline) detect(ctx context.Context, r *run, text string) string {
	r.enter(RunDetecting)
	if p.opts.Detector == nil {
		return domain.LanguageUnknown
	}
	lang, err := runBounded(ctx, p.opts.StageTimeout, func(ctx context.Context) (string, error) {
		return p.opts.Detector.Detect(ctx, prefix(text, p.opts.DetectPrefixChars))
	})
	if err != nil || lang == "" {
		r.logger.Debug().Err(err).Msg("pipeline: language undetermined")
		return domain.LanguageUnknown
	}
	r.logger.Debug().Str("language", lang).Msg("pipeline: language detected")
	return lang
}

func (p *Pipeline) translate(ctx context.Context, r *run, text, src, dst string) (string, error) {
	r.enter(RunTranslating)
	return p.translateChunks(ctx, r, text, src, dst)
}

// translateChunks translates text piecewise in order. Each chunk is retried
// once; a second failure fails the whole text.
func (p *Pipeline) translateChunks(ctx context.Context, r *run, text, src, dst string) (string, error) {
	if p.opts.Translator == nil {
		return "", domain.NewStageError(domain.StageTranslate, errors.New("no translator configured"))
	}
	chunks := SplitChunks(text, p.opts.ChunkSize)
	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		out[i].Sep = c.Sep
		if strings.TrimSpace(c.Text) == "" {
			out[i].Text = c.Text
			continue
		}
		var (
			res string
			err error
		)
		for attempt := 1; attempt <= 2; attempt++ {
			res, err = runBounded(ctx, p.opts.StageTimeout, func(ctx context.Context) (string, error) {
				return p.opts.Translator.Translate(ctx, c.Text, src, dst)
			})
			if err == nil {
				break
			}
			r.logger.Warn().Err(err).Int("chunk", i).Int("attempt", attempt).Msg("pipeline: chunk translation failed")
		}
		if err != nil {
			return "", domain.NewStageError(domain.StageTranslate, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err))
		}
		if res == c.Text {
			r.logger.Info().Int("chunk", i).Str("source", src).Str("target", dst).Msg("pipeline: translation unchanged")
		}
		out[i].Text = res
	}
	return JoinChunks(out), nil
}

func (p *Pipeline) synthesize(ctx context.Context, r *run, text, lang string) (*domain.Media, bool, error) {
	r.enter(RunSynthesizing)
	if p.opts.Synthesizer == nil {
		return nil, false, domain.NewStageError(domain.StageSynthesize, errors.New("no synthesizer configured"))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false, domain.NewStageError(domain.StageSynthesize, errors.New("nothing to speak"))
	}
	spoken, truncated := Truncate(text, p.opts.TTSMaxChars, lang)
	audio, err := runBounded(ctx, p.opts.StageTimeout, func(ctx context.Context) ([]byte, error) {
		return p.opts.Synthesizer.Synthesize(ctx, spoken, lang)
	})
	if err != nil {
		return nil, false, domain.NewStageError(domain.StageSynthesize, err)
	}
	r.enter(RunAssembling)
	caption := fmt.Sprintf("🔊 Audio (%s)", strings.ToUpper(lang))
	if truncated {
		caption += fmt.Sprintf("\n⚠️ Texto truncado a %d caracteres", p.opts.TTSMaxChars)
	}
	return &domain.Media{Kind: domain.MediaVoice, Filename: "audio.mp3", Data: audio, Caption: caption}, truncated, nil
}

func (p *Pipeline) voiceLanguage(lang string) string {
	if lang == "" || lang == domain.LanguageUnknown {
		return p.opts.PivotPrimary
	}
	return lang
}

func baseLanguage(code string) string {
	if i := strings.IndexAny(code, "-_"); i > 0 {
		return strings.ToLower(code[:i])
	}
	return strings.ToLower(code)
}

func displayCode(lang string) string {
	if lang == domain.LanguageUnknown {
		return "auto"
	}
	return lang
}
