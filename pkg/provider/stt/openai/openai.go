// Package openai provides an STT provider backed by the OpenAI audio API
// (transcriptions and translations endpoints).
//
// Each utterance is uploaded as a 16 kHz mono WAV file. No audio is streamed;
// the provider is a drop-in replacement for a local whisper model when a
// network service is acceptable.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/uttermon/pkg/audio"
	"github.com/MrWong99/uttermon/pkg/provider/stt"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = oai.AudioModelWhisper1

const uploadSampleRate = 16000

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. to target a
// compatible self-hosted server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI STT Provider. If model is empty, DefaultModel
// (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// verbose is the subset of the verbose_json transcription response not
// modelled by the SDK's Transcription type.
type verbose struct {
	Language string `json:"language"`
	Segments []struct {
		Text         string  `json:"text"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Samples) == 0 {
		return nil, nil
	}
	start := time.Now()

	samples, err := audio.ResampleMono(req.Samples, req.SampleRate, uploadSampleRate)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	wav := audio.EncodeWAV(audio.Float32ToInt16(samples), uploadSampleRate)
	file := oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav")

	var res *stt.Result
	if req.Task == stt.TaskTranscribe {
		res, err = p.transcribe(ctx, file, req.Language)
	} else {
		res, err = p.translate(ctx, file, req.Language)
	}
	if err != nil || res == nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func (p *Provider) transcribe(ctx context.Context, file io.Reader, lang string) (*stt.Result, error) {
	params := oai.AudioTranscriptionNewParams{
		File:           file,
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	res := &stt.Result{Language: lang, Text: strings.TrimSpace(resp.Text)}
	applyVerbose(res, resp.RawJSON())
	if res.Text == "" {
		return nil, nil
	}
	return res, nil
}

func (p *Provider) translate(ctx context.Context, file io.Reader, lang string) (*stt.Result, error) {
	resp, err := p.client.Audio.Translations.New(ctx, oai.AudioTranslationNewParams{
		File:  file,
		Model: p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai stt: translate: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, nil
	}
	// The endpoint reports no language and always answers in English.
	if lang == "" {
		lang = "en"
	}
	return &stt.Result{Language: lang, Text: text}, nil
}

// applyVerbose fills language, segments and the no-speech estimate from a
// verbose_json body. Malformed or partial bodies are ignored.
func applyVerbose(res *stt.Result, raw string) {
	if raw == "" {
		return
	}
	var v verbose
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return
	}
	if v.Language != "" {
		res.Language = languageCode(v.Language)
	}
	if len(v.Segments) == 0 {
		return
	}
	var sum float64
	for _, seg := range v.Segments {
		sum += seg.NoSpeechProb
		res.Segments = append(res.Segments, stt.Segment{
			Text:  strings.TrimSpace(seg.Text),
			Start: time.Duration(seg.Start * float64(time.Second)),
			End:   time.Duration(seg.End * float64(time.Second)),
		})
	}
	res.NoSpeechProb = sum / float64(len(v.Segments))
}

// languageCode maps the English language names returned by verbose_json
// ("english", "german") to ISO-639-1 codes where known.
func languageCode(name string) string {
	if code, ok := languageNames[strings.ToLower(name)]; ok {
		return code
	}
	return name
}

var languageNames = map[string]string{
	"english":    "en",
	"german":     "de",
	"french":     "fr",
	"spanish":    "es",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"polish":     "pl",
	"russian":    "ru",
	"japanese":   "ja",
	"chinese":    "zh",
	"korean":     "ko",
}
