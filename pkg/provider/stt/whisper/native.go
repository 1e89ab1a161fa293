// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/uttermon/pkg/audio"
	"github.com/MrWong99/uttermon/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// ModelSizes lists the model sizes accepted by [ModelPath].
var ModelSizes = []string{"tiny", "base", "small", "medium", "large"}

// DefaultModelSize is the model used when none is configured.
const DefaultModelSize = "small"

// ModelPath resolves a model size to the ggml file inside dir, e.g.
// ModelPath("models", "small") is "models/ggml-small.bin". A size that
// already names a file (has an extension or a path separator) is returned
// as-is.
func ModelPath(dir, size string) (string, error) {
	if size == "" {
		size = DefaultModelSize
	}
	if filepath.Ext(size) != "" || strings.ContainsRune(size, filepath.Separator) {
		return size, nil
	}
	if !slices.Contains(ModelSizes, size) {
		return "", fmt.Errorf("whisper: unknown model size %q (want one of %v)", size, ModelSizes)
	}
	return filepath.Join(dir, "ggml-"+size+".bin"), nil
}

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO). The model is loaded once at startup.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint

	// whisper_full runs on state owned by the shared model; calls must not
	// overlap.
	mu sync.Mutex
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language hint (e.g., "en", "de").
// Empty (the default) enables automatic language detection.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of CPU threads whisper.cpp may use. Zero
// keeps the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	slog.Info("whisper: loading model", "path", modelPath)
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{model: model}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		err := p.model.Close()
		p.model = nil
		return err
	}
	return nil
}

// Transcribe runs the model over one utterance. It returns (nil, nil) when the
// model produced no segments.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Samples) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	samples, err := audio.ResampleMono(req.Samples, req.SampleRate, modelSampleRate)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil, errors.New("whisper: provider closed")
	}
	// The lock may have been held by a long inference.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	start := time.Now()
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := firstNonEmpty(req.Language, p.language, "auto")
	if wctx.IsMultilingual() {
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
		}
		wctx.SetTranslate(req.Task != stt.TaskTranscribe)
	} else {
		lang = "en"
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts    []string
		segments []stt.Segment
		probs    []float32
	)
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text != "" {
			parts = append(parts, text)
		}
		segments = append(segments, stt.Segment{Text: text, Start: seg.Start, End: seg.End})
		for _, tok := range seg.Tokens {
			if isSpecialToken(tok.Text) {
				continue
			}
			probs = append(probs, tok.P)
		}
	}
	if len(segments) == 0 {
		return nil, nil
	}

	if lang == "auto" {
		lang = wctx.DetectedLanguage()
	}
	return &stt.Result{
		Language:     lang,
		Text:         strings.Join(parts, " "),
		NoSpeechProb: noSpeechFromTokens(probs),
		Elapsed:      time.Since(start),
		Segments:     segments,
	}, nil
}
