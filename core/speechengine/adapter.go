// Package speechengine defines the contract between the speech coordinator and
// the engine that performs continuous recognition and speech synthesis.
package speechengine

import (
	"context"
	"errors"
)

// Adapter wraps a recognition/synthesis engine.
//
// Every blocking method must honour ctx cancellation; the coordinator cancels
// the context of any call it has stopped waiting for. Callbacks passed to
// StartListening may be invoked from any goroutine, in emission order, until
// StopListening or Dispose returns.
type Adapter interface {
	StartListening(ctx context.Context, onInterim, onFinal func(text string)) error
	StopListening(ctx context.Context) error
	Speak(ctx context.Context, text string) error
	StopSpeaking(ctx context.Context) error
	SetLanguage(ctx context.Context, lang Language) error
	// Dispose releases every engine handle. The adapter is unusable
	// afterwards.
	Dispose()
}

// Factory constructs a fresh adapter. It is called once on coordinator
// construction and again every time a stuck engine has to be replaced.
type Factory func(ctx context.Context) (Adapter, error)

// ErrUnsupportedLanguage is returned by SetLanguage for languages the engine
// cannot recognise or synthesise.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// PlaybackAwaiter is implemented by adapters whose Speak returns once the
// utterance is synthesized while its audio keeps playing. AwaitPlayback
// blocks until the queued audio has finished playing or ctx is done.
type PlaybackAwaiter interface {
	AwaitPlayback(ctx context.Context) error
}
