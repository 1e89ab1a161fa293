package stt

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Filter inspects a result and reports whether it should be suppressed, along
// with a short reason for logs and metrics.
type Filter func(Result) (reason string, suppress bool)

// DefaultNoSpeechThreshold is the no-speech probability at or above which a
// result is dropped.
const DefaultNoSpeechThreshold = 0.5

// DefaultPhraseSimilarity disables fuzzy phrase matching; only results that
// start with a suppressed phrase are dropped.
const DefaultPhraseSimilarity = 0.0

// DefaultSuppressPhrases are captions whisper models tend to hallucinate on
// near-silent input.
var DefaultSuppressPhrases = []string{
	"Thank you for watching",
	"Thanks for watching",
}

// NoSpeechFilter suppresses results whose NoSpeechProb is at least threshold.
func NoSpeechFilter(threshold float64) Filter {
	return func(r Result) (string, bool) {
		if r.NoSpeechProb >= threshold {
			return "no_speech", true
		}
		return "", false
	}
}

// EmptyFilter suppresses results without any text.
func EmptyFilter(r Result) (string, bool) {
	if strings.TrimSpace(r.Text) == "" {
		return "empty", true
	}
	return "", false
}

// PhraseFilter suppresses results that start with one of phrases
// (case-insensitive, ignoring surrounding whitespace and punctuation). With a
// similarity above zero, a result whose leading runes are at least that close
// to a phrase by Jaro-Winkler similarity is dropped too; only as many runes as
// the phrase has are compared, so the rest of the sentence cannot help or hurt.
// Values around 0.97 tolerate a dropped letter without catching other
// sentences that share the opening words.
func PhraseFilter(phrases []string, similarity float64) Filter {
	norm := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = normalize(p); p != "" {
			norm = append(norm, p)
		}
	}
	return func(r Result) (string, bool) {
		text := normalize(r.Text)
		if text == "" {
			return "", false
		}
		for _, p := range norm {
			if strings.HasPrefix(text, p) {
				return "phrase", true
			}
			if similarity > 0 && matchr.JaroWinkler(leading(text, p), p, false) >= similarity {
				return "phrase", true
			}
		}
		return "", false
	}
}

// leading returns the first len(p) runes of text.
func leading(text, p string) string {
	n := utf8.RuneCountInString(p)
	for i := range text {
		if n == 0 {
			return text[:i]
		}
		n--
	}
	return text
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimFunc(s, func(r rune) bool {
		return strings.ContainsRune(`.,!?…"'-–— `, r)
	})
}

// SuppressingProvider wraps a Provider and drops results matched by any of its
// filters. The filter set can be swapped at runtime.
type SuppressingProvider struct {
	inner      Provider
	onSuppress func(reason string, r Result)
	filters    atomic.Pointer[[]Filter]
}

// Suppress wraps p so that results matched by any filter become (nil, nil).
// onSuppress, if non-nil, is called for every suppressed result.
func Suppress(p Provider, onSuppress func(reason string, r Result), filters ...Filter) *SuppressingProvider {
	s := &SuppressingProvider{inner: p, onSuppress: onSuppress}
	s.SetFilters(filters...)
	return s
}

// SetFilters replaces the active filter set. Safe for concurrent use with
// Transcribe.
func (s *SuppressingProvider) SetFilters(filters ...Filter) {
	fs := append([]Filter(nil), filters...)
	s.filters.Store(&fs)
}

// Transcribe implements [Provider].
func (s *SuppressingProvider) Transcribe(ctx context.Context, req Request) (*Result, error) {
	res, err := s.inner.Transcribe(ctx, req)
	if err != nil || res == nil {
		return res, err
	}
	for _, f := range *s.filters.Load() {
		if reason, drop := f(*res); drop {
			if s.onSuppress != nil {
				s.onSuppress(reason, *res)
			}
			return nil, nil
		}
	}
	return res, nil
}

// Unwrap returns the wrapped provider.
func (s *SuppressingProvider) Unwrap() Provider { return s.inner }

// String describes the wrapper for logs.
func (s *SuppressingProvider) String() string {
	return fmt.Sprintf("suppress(%d filters)", len(*s.filters.Load()))
}

var _ Provider = (*SuppressingProvider)(nil)
