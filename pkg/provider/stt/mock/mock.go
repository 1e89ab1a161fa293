// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify which utterances the caller submitted and to script
// the results (or errors) returned for them.
//
// Example:
//
//	p := &mock.Provider{Results: []*stt.Result{{Language: "en", Text: "hello"}}}
//	res, _ := p.Transcribe(ctx, stt.Request{Samples: samples, SampleRate: 16000})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/uttermon/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
//
// Result selection per call: Func if set; otherwise the next entry of Results;
// once Results is exhausted, Result. Err, if non-nil, is returned instead.
type Provider struct {
	mu sync.Mutex

	// Func, if set, handles every call.
	Func func(ctx context.Context, req stt.Request) (*stt.Result, error)

	// Results is consumed one entry per call.
	Results []*stt.Result

	// Result is returned once Results is exhausted.
	Result *stt.Result

	// Err, if non-nil, is returned by every call.
	Err error

	// Block, if non-nil, makes Transcribe wait until it is closed or ctx ends.
	Block chan struct{}

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall

	next int
}

// Transcribe records the call and returns the scripted result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: req})
	fn, block, err := p.Func, p.Block, p.Err
	var res *stt.Result
	if fn == nil && err == nil {
		if p.next < len(p.Results) {
			res = p.Results[p.next]
			p.next++
		} else {
			res = p.Result
		}
	}
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}

// CallCount returns the number of Transcribe calls so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls and rewinds Results. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.next = 0
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
