package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/TheGitano/telegram-tts-bot/internal/document"
	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/pkg/zip"
)

type fakeTranslator struct {
	mu    sync.Mutex
	calls []string
	// fail returns an error for the n-th call (1-based) when set.
	fail func(n int, text string) error
}

func (f *fakeTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.fail != nil {
		if err := f.fail(len(f.calls), text); err != nil {
			return "", err
		}
	}
	return strings.ToUpper(text), nil
}

type fakeSynth struct {
	texts []string
	langs []string
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, text, lang string) ([]byte, error) {
	f.texts = append(f.texts, text)
	f.langs = append(f.langs, lang)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3:" + text), nil
}

type fakeDetector struct {
	lang string
	err  error
	seen []string
}

func (f *fakeDetector) Detect(_ context.Context, text string) (string, error) {
	f.seen = append(f.seen, text)
	return f.lang, f.err
}

type fakeRecognizer struct {
	results map[string]string
	tried   []string
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ []byte, code string) (string, error) {
	f.tried = append(f.tried, code)
	if text, ok := f.results[code]; ok {
		return text, nil
	}
	return "", errors.New("nothing recognised")
}

type fakeImage struct {
	name     string
	err      error
	text     string
	analysis string
	calls    int
}

func (f *fakeImage) Model() string { return f.name }

func (f *fakeImage) ExtractText(context.Context, []byte, string) (string, error) {
	f.calls++
	return f.text, f.err
}

func (f *fakeImage) Analyze(context.Context, string) (string, error) {
	f.calls++
	return f.analysis, f.err
}

func textArtifact(s string) domain.Artifact {
	return domain.Artifact{Kind: domain.ArtifactText, Text: s}
}

func TestTextCapabilityScenario(t *testing.T) {
	tr, synth := &fakeTranslator{}, &fakeSynth{}
	p := New(Options{Translator: tr, Synthesizer: synth, Detector: &fakeDetector{lang: "es"}})
	ctx := context.Background()

	first := p.Process(ctx, Request{Capability: domain.CapabilityText, Artifact: textArtifact("  Hola mundo ")})
	require.NoError(t, first.Err)
	require.True(t, first.Pending)
	require.Equal(t, "Hola mundo", first.Extracted.Text)
	require.Equal(t, "es", first.Extracted.Language)
	require.Nil(t, first.Media)

	second := p.Process(ctx, Request{Capability: domain.CapabilityText, Action: ActionSpeak, Translate: true, Prior: first.Extracted})
	require.NoError(t, second.Err)
	require.NotNil(t, second.Media)
	require.Equal(t, domain.MediaVoice, second.Media.Kind)
	require.Equal(t, []string{"HOLA MUNDO"}, synth.texts)
	require.Equal(t, []string{"en"}, synth.langs)
	require.Equal(t, []RunState{RunIdle, RunTranslating, RunSynthesizing, RunAssembling, RunDone}, second.Trace)
	require.NotEmpty(t, second.RunID)
	require.NotEqual(t, first.RunID, second.RunID)
}

func TestChunkedTranslationCallsEachChunkInOrder(t *testing.T) {
	tr, synth := &fakeTranslator{}, &fakeSynth{}
	p := New(Options{Translator: tr, Synthesizer: synth, ChunkSize: 10, TTSMaxChars: 1000})
	text := strings.Repeat("a", 10) + strings.Repeat("b", 10) + strings.Repeat("c", 10) + strings.Repeat("d", 10) + strings.Repeat("e", 10)

	out := p.Process(context.Background(), Request{
		Capability: domain.CapabilityText,
		Action:     ActionSpeak,
		Translate:  true,
		Prior:      &domain.ExtractedArtifact{Kind: domain.ArtifactText, Text: text, Language: "en"},
	})
	require.NoError(t, out.Err)
	require.Equal(t, []string{"aaaaaaaaaa", "bbbbbbbbbb", "cccccccccc", "dddddddddd", "eeeeeeeeee"}, tr.calls)
	require.Equal(t, []string{strings.ToUpper(text)}, synth.texts)
}

func TestChunkedTranslationUsesMinimumCalls(t *testing.T) {
	tr := &fakeTranslator{}
	p := New(Options{Translator: tr, Synthesizer: &fakeSynth{}, ChunkSize: 50, TTSMaxChars: 1000})
	text := strings.Repeat("palabra ", 40)[:250]

	out := p.Process(context.Background(), Request{
		Capability: domain.CapabilityText,
		Action:     ActionSpeak,
		Translate:  true,
		Prior:      &domain.ExtractedArtifact{Kind: domain.ArtifactText, Text: text, Language: "es"},
	})
	require.NoError(t, out.Err)
	require.Len(t, tr.calls, 5)
	for _, c := range tr.calls {
		require.LessOrEqual(t, utf8.RuneCountInString(c), 50)
	}
}

func TestChunkRetriedOnceThenRequestFails(t *testing.T) {
	boom := errors.New("upstream 500")
	tr := &fakeTranslator{fail: func(n int, text string) error {
		if strings.HasPrefix(text, "b") {
			return boom
		}
		return nil
	}}
	synth := &fakeSynth{}
	p := New(Options{Translator: tr, Synthesizer: synth, ChunkSize: 4})

	out := p.Process(context.Background(), Request{
		Capability: domain.CapabilityText,
		Action:     ActionSpeak,
		Translate:  true,
		Prior:      &domain.ExtractedArtifact{Text: "aaaabbbbcccc", Language: "es"},
	})
	require.ErrorIs(t, out.Err, domain.ErrStageFailure)
	require.ErrorIs(t, out.Err, boom)
	var se *domain.StageError
	require.ErrorAs(t, out.Err, &se)
	require.Equal(t, domain.StageTranslate, se.Stage)
	require.Equal(t, []string{"aaaa", "bbbb", "bbbb"}, tr.calls, "the failing chunk is retried once and later chunks never run")
	require.Empty(t, synth.texts)
	require.Equal(t, RunFailed, out.Trace[len(out.Trace)-1])
}

func TestChunkRetrySucceeds(t *testing.T) {
	tr := &fakeTranslator{fail: func(n int, _ string) error {
		if n == 1 {
			return domain.ErrRateLimited
		}
		return nil
	}}
	p := New(Options{Translator: tr, Synthesizer: &fakeSynth{}})
	out := p.Process(context.Background(), Request{
		Capability: domain.CapabilityText,
		Action:     ActionSpeak,
		Translate:  true,
		Prior:      &domain.ExtractedArtifact{Text: "hello", Language: "en"},
	})
	require.NoError(t, out.Err)
	require.Len(t, tr.calls, 2)
}

func TestImageTierFallbackStopsAtFirstSuccess(t *testing.T) {
	t1 := &fakeImage{name: "lite", err: domain.ErrRateLimited}
	t2 := &fakeImage{name: "flash", text: "Texto de la imagen"}
	t3 := &fakeImage{name: "pro", text: "never"}
	p := New(Options{Images: []ImageReader{t1, t2, t3}, Detector: &fakeDetector{lang: "es"}})

	out := p.Process(context.Background(), Request{
		Capability: domain.CapabilityImage,
		Artifact:   domain.Artifact{Kind: domain.ArtifactImage, Data: []byte{1, 2, 3}},
	})
	require.NoError(t, out.Err)
	require.Equal(t, "Texto de la imagen", out.Text)
	require.True(t, out.Pending)
	require.Equal(t, "es", out.Extracted.Language)
	require.Nil(t, out.Extracted.Data, "raw image bytes are not kept")
	require.Equal(t, 1, t1.calls)
	require.Equal(t, 1, t2.calls)
	require.Zero(t, t3.calls)
}

func TestImageTiersExhausted(t *testing.T) {
	p := New(Options{Images: []ImageReader{
		&fakeImage{name: "a", err: domain.ErrRateLimited},
		&fakeImage{name: "b", err: errors.New("500")},
	}})
	out := p.Process(context.Background(), Request{
		Capability: domain.CapabilityImage,
		Artifact:   domain.Artifact{Kind: domain.ArtifactImage, Data: []byte{1}},
	})
	var se *domain.StageError
	require.ErrorAs(t, out.Err, &se)
	require.Equal(t, domain.StageExtract, se.Stage)
	require.ErrorIs(t, out.Err, domain.ErrRateLimited)
}

func TestImageAnalyzeThenListen(t *testing.T) {
	model := &fakeImage{name: "flash", analysis: "📋 RESUMEN: factura"}
	synth := &fakeSynth{}
	p := New(Options{Images: []ImageReader{model}, Synthesizer: synth})
	prior := &domain.ExtractedArtifact{Kind: domain.ArtifactImage, Text: "Factura 123", Language: "es"}

	analysed := p.Process(context.Background(), Request{Capability: domain.CapabilityImage, Action: ActionAnalyze, Prior: prior})
	require.NoError(t, analysed.Err)
	require.True(t, analysed.Pending)
	require.Equal(t, "📋 RESUMEN: factura", analysed.Extracted.Analysis)
	require.Contains(t, analysed.Trace, RunAnalyzing)
	require.Empty(t, prior.Analysis, "prior artifact is not mutated")

	listened := p.Process(context.Background(), Request{Capability: domain.CapabilityImage, Action: ActionAnalysisAudio, Prior: analysed.Extracted})
	require.NoError(t, listened.Err)
	require.Equal(t, []string{"📋 RESUMEN: factura"}, synth.texts)
	require.False(t, ActionAnalysisAudio.Consumes())
	require.True(t, ActionAnalyze.Consumes())
}

func TestImageTranslatedAudio(t *testing.T) {
	tr, synth := &fakeTranslator{}, &fakeSynth{}
	p := New(Options{Translator: tr, Synthesizer: synth})
	out := p.Process(context.Background(), Request{
		Capability: domain.CapabilityImage,
		Action:     ActionAudioTranslated,
		Prior:      &domain.ExtractedArtifact{Text: "good morning", Language: "en"},
	})
	require.NoError(t, out.Err)
	require.Equal(t, []string{"es"}, synth.langs)
	require.Equal(t, "GOOD MORNING", out.Text)
}

func TestDetectionFailureDegradesToUnknown(t *testing.T) {
	det := &fakeDetector{err: errors.New("undetermined")}
	p := New(Options{Detector: det, DetectPrefixChars: 5})
	out := p.Process(context.Background(), Request{Capability: domain.CapabilityText, Artifact: textArtifact("1234567890")})
	require.NoError(t, out.Err)
	require.Equal(t, domain.LanguageUnknown, out.Extracted.Language)
	require.Equal(t, []string{"12345"}, det.seen, "detection only reads the bounded prefix")
	require.Equal(t, "es", p.Target(domain.LanguageUnknown))
	require.Equal(t, "en", p.Target("es"))
	require.Equal(t, "es", p.Target("fr"))
}

func TestAudioFallsBackToSecondLanguage(t *testing.T) {
	rec := &fakeRecognizer{results: map[string]string{"es-ES": "hola amigo"}}
	tr, synth := &fakeTranslator{}, &fakeSynth{}
	p := New(Options{Recognizer: rec, Translator: tr, Synthesizer: synth})

	out := p.Process(context.Background(), Request{
		Capability: domain.CapabilityAudioTranslate,
		Artifact:   domain.Artifact{Kind: domain.ArtifactAudio, Data: []byte("ogg")},
	})
	require.NoError(t, out.Err)
	require.Equal(t, []string{"en-US", "es-ES"}, rec.tried)
	require.Equal(t, []string{"en"}, synth.langs)
	require.Contains(t, out.Text, "hola amigo")
	require.Contains(t, out.Text, "HOLA AMIGO")
}

func TestAudioRecognitionExhausted(t *testing.T) {
	rec := &fakeRecognizer{}
	tr := &fakeTranslator{}
	p := New(Options{Recognizer: rec, Translator: tr, Synthesizer: &fakeSynth{}})
	out := p.Process(context.Background(), Request{
		Capability: domain.CapabilityAudioTranslate,
		Artifact:   domain.Artifact{Kind: domain.ArtifactAudio, Data: []byte("ogg")},
	})
	var se *domain.StageError
	require.ErrorAs(t, out.Err, &se)
	require.Equal(t, domain.StageRecognize, se.Stage)
	require.Len(t, rec.tried, 2)
	require.Empty(t, tr.calls)
}

func TestSynthesisFailureIsStageFailure(t *testing.T) {
	p := New(Options{Synthesizer: &fakeSynth{err: errors.New("tts down")}})
	out := p.Process(context.Background(), Request{
		Capability: domain.CapabilityText,
		Action:     ActionSpeak,
		Prior:      &domain.ExtractedArtifact{Text: "hola", Language: "es"},
	})
	var se *domain.StageError
	require.ErrorAs(t, out.Err, &se)
	require.Equal(t, domain.StageSynthesize, se.Stage)
}

func TestInputRejected(t *testing.T) {
	p := New(Options{MaxArtifactBytes: 8})
	tests := []struct {
		name string
		req  Request
		want Rejection
	}{
		{
			name: "wrong kind",
			req:  Request{Capability: domain.CapabilityAudioTranslate, Artifact: textArtifact("hola")},
			want: RejectWrongKind,
		},
		{
			name: "too large",
			req:  Request{Capability: domain.CapabilityImage, Artifact: domain.Artifact{Kind: domain.ArtifactImage, Data: make([]byte, 9)}},
			want: RejectTooLarge,
		},
		{
			name: "unsupported document",
			req:  Request{Capability: domain.CapabilityDocTranslate, Artifact: domain.Artifact{Kind: domain.ArtifactDocument, Filename: "notes.txt", Data: []byte("x")}},
			want: RejectFormat,
		},
		{
			name: "blank text",
			req:  Request{Capability: domain.CapabilityText, Artifact: textArtifact("   ")},
			want: RejectEmpty,
		},
		{
			name: "follow-up without prior",
			req:  Request{Capability: domain.CapabilityImage, Action: ActionAnalyze},
			want: RejectNoPrior,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := p.Process(context.Background(), tc.req)
			require.ErrorIs(t, out.Err, domain.ErrInputRejected)
			var re *RejectedError
			require.ErrorAs(t, out.Err, &re)
			require.Equal(t, tc.want, re.Reason)
			require.False(t, errors.Is(out.Err, domain.ErrStageFailure))
		})
	}
}

const docxBody = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
	`<w:p><w:r><w:t>Hola mundo</w:t></w:r></w:p>` +
	`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>uno</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>dos</w:t></w:r></w:p></w:tc></w:tr></w:tbl>` +
	`<w:p/>` +
	`</w:body></w:document>`

func TestDocumentTranslationPreservesParagraphCount(t *testing.T) {
	src, err := zip.Build([]zip.Entry{{Name: "word/document.xml", Data: []byte(docxBody)}})
	require.NoError(t, err)
	tr := &fakeTranslator{}
	p := New(Options{Translator: tr, Detector: &fakeDetector{lang: "es"}})

	out := p.Process(context.Background(), Request{
		Capability: domain.CapabilityDocTranslate,
		Artifact:   domain.Artifact{Kind: domain.ArtifactDocument, Filename: "carta.docx", Data: src},
	})
	require.NoError(t, out.Err)
	require.Equal(t, domain.MediaDocument, out.Media.Kind)
	require.Equal(t, "traducido_ES_EN_carta.docx", out.Media.Filename)

	before, err := document.Codec{}.Extract(src, domain.FormatDOCX)
	require.NoError(t, err)
	after, err := document.Codec{}.Extract(out.Media.Data, domain.FormatDOCX)
	require.NoError(t, err)
	require.Len(t, after.Paragraphs, len(before.Paragraphs))
	require.Equal(t, "HOLA MUNDO\nUNO\nDOS", after.Text())
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{name: "fits", text: "corto", max: 10, want: []string{"corto"}},
		{name: "paragraph break first", text: "uno dos\n\ntres cuatro", max: 12, want: []string{"uno dos", "tres cuatro"}},
		{name: "sentence end", text: "Hola. Adiós", max: 10, want: []string{"Hola.", "Adiós"}},
		{name: "space when count allows", text: "uno dos tres", max: 10, want: []string{"uno dos", "tres"}},
		{name: "boundary would add a chunk", text: "Hola. Adiós amigo", max: 10, want: []string{"Hola. Adió", "s amigo"}},
		{name: "hard cut", text: "abcdefgh", max: 3, want: []string{"abc", "def", "gh"}},
		{name: "multibyte runes", text: "ñññññ", max: 2, want: []string{"ññ", "ññ", "ñ"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			chunks := SplitChunks(tc.text, tc.max)
			var got []string
			for _, c := range chunks {
				require.LessOrEqual(t, utf8.RuneCountInString(c.Text), tc.max)
				got = append(got, c.Text)
			}
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.text, JoinChunks(chunks), "joining chunks reproduces the input")
		})
	}
}

func TestTruncate(t *testing.T) {
	text := strings.Repeat("palabra ", 20)
	out, cut := Truncate(text, 50, "es")
	require.True(t, cut)
	require.LessOrEqual(t, utf8.RuneCountInString(out), 50)
	require.True(t, strings.HasSuffix(out, "… (texto truncado)"))

	out, cut = Truncate(text, 50, "xx")
	require.True(t, cut)
	require.True(t, strings.HasSuffix(out, "… (text truncated)"))

	out, cut = Truncate("breve", 50, "es")
	require.False(t, cut)
	require.Equal(t, "breve", out)
}

func TestSynthesisTruncatesWithMarker(t *testing.T) {
	synth := &fakeSynth{}
	p := New(Options{Synthesizer: synth, TTSMaxChars: 30})
	out := p.Process(context.Background(), Request{
		Capability: domain.CapabilityText,
		Action:     ActionSpeak,
		Prior:      &domain.ExtractedArtifact{Text: strings.Repeat("hola ", 20), Language: "es"},
	})
	require.NoError(t, out.Err)
	require.True(t, out.Truncated)
	require.Contains(t, out.Media.Caption, "truncado")
	require.True(t, strings.HasSuffix(synth.texts[0], "… (texto truncado)"))
	require.LessOrEqual(t, utf8.RuneCountInString(synth.texts[0]), 30)
}
