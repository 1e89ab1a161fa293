// Package whisper provides whisper.cpp-backed STT providers.
//
// Two flavours are available:
//
//   - [NativeProvider] links whisper.cpp through its cgo Go bindings and runs
//     the model in-process. The model is loaded once; every utterance gets a
//     fresh decoding context.
//   - [Provider] talks to a running whisper-server binary over its REST API
//     (POST /inference) and needs no cgo.
//
// Both accept a complete utterance, resample it to the 16 kHz whisper expects,
// and report the detected language, the text and a no-speech estimate.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	res, err := p.Transcribe(ctx, stt.Request{Samples: s, SampleRate: 16000, Task: stt.TaskTranslate})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/uttermon/pkg/audio"
	"github.com/MrWong99/uttermon/pkg/provider/stt"
)

const (
	// modelSampleRate is the only rate whisper models accept.
	modelSampleRate = 16000

	defaultHTTPTimeout = 60 * time.Second
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language hint sent to the server when a
// request does not carry one. Empty (the default) lets the server detect it.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider that sends audio to the whisper-server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// verboseResponse is the subset of whisper-server's verbose_json output that
// the provider uses.
type verboseResponse struct {
	Text             string `json:"text"`
	Language         string `json:"language"`
	DetectedLanguage string `json:"detected_language"`
	Segments         []struct {
		Text         string  `json:"text"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// Transcribe encodes the utterance as a WAV file and POSTs it to /inference.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Samples) == 0 {
		return nil, nil
	}
	start := time.Now()

	samples, err := audio.ResampleMono(req.Samples, req.SampleRate, modelSampleRate)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	wav := audio.EncodeWAV(audio.Float32ToInt16(samples), modelSampleRate)

	body, contentType, err := p.form(wav, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	res := &stt.Result{
		Language: firstNonEmpty(out.DetectedLanguage, req.Language, p.language, out.Language),
		Text:     strings.TrimSpace(out.Text),
		Elapsed:  time.Since(start),
	}
	if len(out.Segments) > 0 {
		var sum float64
		for _, seg := range out.Segments {
			sum += seg.NoSpeechProb
			res.Segments = append(res.Segments, stt.Segment{
				Text:  strings.TrimSpace(seg.Text),
				Start: secondsToDuration(seg.Start),
				End:   secondsToDuration(seg.End),
			})
		}
		res.NoSpeechProb = sum / float64(len(out.Segments))
	}
	if res.Text == "" && len(res.Segments) == 0 {
		return nil, nil
	}
	return res, nil
}

func (p *Provider) form(wav []byte, req stt.Request) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"translate":       strconv.FormatBool(req.Task != stt.TaskTranscribe),
		"language":        firstNonEmpty(req.Language, p.language, "auto"),
	}
	if p.model != "" {
		fields["model"] = p.model
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
