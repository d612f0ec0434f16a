package orchestration

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/llms"
	"github.com/koscakluka/ema-voice/core/speechengine"
)

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

// blockUntilCleanup returns a call that never settles on its own; it only
// returns once the test has finished.
func blockUntilCleanup(t *testing.T) func(context.Context) error {
	t.Helper()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	return func(context.Context) error {
		<-release
		return nil
	}
}

type stubAdapter struct {
	startListening func(context.Context) error
	stopListening  func(context.Context) error
	speak          func(context.Context, string) error
	stopSpeaking   func(context.Context) error
	setLanguage    func(context.Context, speechengine.Language) error
	dispose        func()

	mu        sync.Mutex
	calls     []string
	spoken    []string
	languages []speechengine.Language
	onInterim func(string)
	onFinal   func(string)

	disposed atomic.Int32
}

func (a *stubAdapter) record(name string) {
	a.mu.Lock()
	a.calls = append(a.calls, name)
	a.mu.Unlock()
}

func (a *stubAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calls)
}

func (a *stubAdapter) Count(name string) int {
	count := 0
	for _, call := range a.Calls() {
		if call == name {
			count++
		}
	}
	return count
}

func (a *stubAdapter) Spoken() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.spoken)
}

func (a *stubAdapter) EmitInterim(text string) {
	a.mu.Lock()
	onInterim := a.onInterim
	a.mu.Unlock()
	onInterim(text)
}

func (a *stubAdapter) EmitFinal(text string) {
	a.mu.Lock()
	onFinal := a.onFinal
	a.mu.Unlock()
	onFinal(text)
}

func (a *stubAdapter) StartListening(ctx context.Context, onInterim, onFinal func(text string)) error {
	a.record("startListening")
	a.mu.Lock()
	a.onInterim, a.onFinal = onInterim, onFinal
	a.mu.Unlock()
	if a.startListening != nil {
		return a.startListening(ctx)
	}
	return nil
}

func (a *stubAdapter) StopListening(ctx context.Context) error {
	a.record("stopListening")
	if a.stopListening != nil {
		return a.stopListening(ctx)
	}
	return nil
}

func (a *stubAdapter) Speak(ctx context.Context, text string) error {
	a.record("speak")
	a.mu.Lock()
	a.spoken = append(a.spoken, text)
	a.mu.Unlock()
	if a.speak != nil {
		return a.speak(ctx, text)
	}
	return nil
}

func (a *stubAdapter) StopSpeaking(ctx context.Context) error {
	a.record("stopSpeaking")
	if a.stopSpeaking != nil {
		return a.stopSpeaking(ctx)
	}
	return nil
}

func (a *stubAdapter) SetLanguage(ctx context.Context, lang speechengine.Language) error {
	a.record("setLanguage")
	a.mu.Lock()
	a.languages = append(a.languages, lang)
	a.mu.Unlock()
	if a.setLanguage != nil {
		return a.setLanguage(ctx, lang)
	}
	return nil
}

func (a *stubAdapter) Dispose() {
	if a.dispose != nil {
		a.dispose()
	}
	a.disposed.Add(1)
}

// playbackAdapter keeps playing until finish is closed.
type playbackAdapter struct {
	*stubAdapter
	finish chan struct{}
}

func (a *playbackAdapter) AwaitPlayback(ctx context.Context) error {
	select {
	case <-a.finish:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// adapterFactory hands out the prepared adapters in order, then fresh stubs.
type adapterFactory struct {
	// beforeCreate runs at the start of every New call.
	beforeCreate func()

	mu       sync.Mutex
	prepared []speechengine.Adapter
	created  []speechengine.Adapter
	failures int
}

func newAdapterFactory(prepared ...speechengine.Adapter) *adapterFactory {
	return &adapterFactory{prepared: prepared}
}

func (f *adapterFactory) New(context.Context) (speechengine.Adapter, error) {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return nil, errFactoryUnavailable
	}

	var adapter speechengine.Adapter = &stubAdapter{}
	if len(f.prepared) > 0 {
		adapter = f.prepared[0]
		f.prepared = f.prepared[1:]
	}
	f.created = append(f.created, adapter)
	return adapter, nil
}

func (f *adapterFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *adapterFactory) Latest() *stubAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	switch adapter := f.created[len(f.created)-1].(type) {
	case *stubAdapter:
		return adapter
	case *playbackAdapter:
		return adapter.stubAdapter
	}
	return nil
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const (
	errFactoryUnavailable = sentinelError("engine unavailable")
	errEngineRejected     = sentinelError("engine rejected")
	errProviderFailed     = sentinelError("provider failed")
)

// scriptedStream yields tokens, then fails with err if set. If gate is set,
// every token after the first waits for a value from it.
type scriptedStream struct {
	tokens []string
	err    error
	gate   chan struct{}
}

func (s *scriptedStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		for i, token := range s.tokens {
			if i > 0 && s.gate != nil {
				select {
				case <-s.gate:
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				}
			}
			if !yield(llms.NewContentChunk(token, nil), nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

type scriptedProvider struct {
	mu      sync.Mutex
	streams []llms.Stream
	prompts []string
	options []llms.StreamingPromptOptions
}

func newScriptedProvider(streams ...llms.Stream) *scriptedProvider {
	return &scriptedProvider{streams: streams}
}

func (p *scriptedProvider) PromptWithStream(_ context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prompt != nil {
		p.prompts = append(p.prompts, *prompt)
	}
	p.options = append(p.options, llms.NewStreamingPromptOptions("", opts...))

	if len(p.streams) == 0 {
		return &scriptedStream{}
	}
	stream := p.streams[0]
	p.streams = p.streams[1:]
	return stream
}

func (p *scriptedProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.prompts)
}

func (p *scriptedProvider) Options() []llms.StreamingPromptOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.options)
}

type recordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (s *recordingSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *recordingSpeaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.spoken)
}
