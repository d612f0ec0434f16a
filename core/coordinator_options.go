package orchestration

import (
	"time"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/speechengine"
)

const (
	// DefaultMaxOperationTime is how long a single engine call may run before
	// it is abandoned and the engine is reset.
	DefaultMaxOperationTime = 3000 * time.Millisecond
	// DefaultHeartbeatInterval is how often the watchdog inspects the
	// in-flight operation.
	DefaultHeartbeatInterval = 1000 * time.Millisecond
	// DefaultSilenceThreshold is how long recognition may stay quiet after an
	// interim result before the result is treated as final.
	DefaultSilenceThreshold = 280 * time.Millisecond
)

type CoordinatorOption func(*Coordinator)

// WithAdapterFactory sets the factory used to construct the speech engine and
// to replace it after a forced reset.
func WithAdapterFactory(factory speechengine.Factory) CoordinatorOption {
	return func(c *Coordinator) { c.factory = factory }
}

// WithAdapter uses adapter as the initial engine. Without a factory the
// coordinator cannot replace it after a forced reset.
func WithAdapter(adapter speechengine.Adapter) CoordinatorOption {
	return func(c *Coordinator) { c.adapter = adapter }
}

func WithMaxOperationTime(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.maxOperationTime = d }
}

func WithHeartbeatInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.heartbeatInterval = d }
}

func WithSilenceThreshold(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.silenceThreshold = d }
}

// WithInitialLanguage sets the language applied to every engine the
// coordinator constructs until SetLanguage changes it.
func WithInitialLanguage(lang speechengine.Language) CoordinatorOption {
	return func(c *Coordinator) { c.state.Language = lang }
}

// WithStateChangedCallback registers a callback receiving a snapshot after
// every state change. It runs synchronously and should not block.
func WithStateChangedCallback(callback func(SpeechState)) CoordinatorOption {
	return func(c *Coordinator) { c.onStateChanged = callback }
}

// WithErrorCallback registers a callback for every failure recorded as the
// coordinator's last error.
func WithErrorCallback(callback func(error)) CoordinatorOption {
	return func(c *Coordinator) { c.onError = callback }
}

// WithEventCallback registers a receiver for the typed events emitted by the
// coordinator and its recognition sessions.
func WithEventCallback(callback func(events.Event)) CoordinatorOption {
	return func(c *Coordinator) { c.emitEvent = newCallbackEventEmitter(callback) }
}
