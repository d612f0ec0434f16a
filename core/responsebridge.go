package orchestration

import (
	"context"
	"strings"
	"sync"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultFallbackNotice replaces the partial text of a response whose stream
// failed.
const DefaultFallbackNotice = "Sorry, I couldn't respond just now. Please try again."

// Speaker synthesizes finished responses. *Coordinator implements it.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// ResponseBridge streams chat responses into a provisional assistant
// utterance and speaks each response once it is complete.
//
// Only the most recent response is live: starting a new one abandons the
// previous stream, and an abandoned stream never publishes again.
type ResponseBridge struct {
	provider       llms.StreamingProvider
	speaker        Speaker
	fallbackNotice string
	onUtterance    func(Utterance)
	emitEvent      eventEmitter

	// publishMu orders publications against generation changes, so nothing
	// from an abandoned stream is published once Respond or Abandon returned.
	publishMu sync.Mutex

	mu            sync.Mutex
	generation    uint64
	cancelCurrent context.CancelFunc
}

type ResponseBridgeOption func(*ResponseBridge)

// WithFallbackNotice sets the text shown instead of a response whose stream
// failed.
func WithFallbackNotice(notice string) ResponseBridgeOption {
	return func(b *ResponseBridge) { b.fallbackNotice = notice }
}

// WithUtteranceCallback registers a callback receiving the assistant
// utterance after every streamed token and once more when it is final. The
// callback must not call Respond or Abandon synchronously.
func WithUtteranceCallback(callback func(Utterance)) ResponseBridgeOption {
	return func(b *ResponseBridge) { b.onUtterance = callback }
}

// WithResponseEventCallback registers a receiver for assistant response
// events.
func WithResponseEventCallback(callback func(events.Event)) ResponseBridgeOption {
	return func(b *ResponseBridge) { b.emitEvent = newCallbackEventEmitter(callback) }
}

func NewResponseBridge(provider llms.StreamingProvider, speaker Speaker, opts ...ResponseBridgeOption) *ResponseBridge {
	b := &ResponseBridge{
		provider:       provider,
		speaker:        speaker,
		fallbackNotice: DefaultFallbackNotice,
		emitEvent:      noopEventEmitter,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PendingResponse is a response slot reserved by Claim.
type PendingResponse struct {
	bridge     *ResponseBridge
	generation uint64
}

// Claim abandons any response still in flight and reserves the next one. The
// reservation is lost to any later Claim, Respond or Abandon.
func (b *ResponseBridge) Claim() *PendingResponse {
	return &PendingResponse{bridge: b, generation: b.begin(nil)}
}

// Live reports whether the reservation has not been superseded yet.
func (p *PendingResponse) Live() bool {
	return p.bridge.isCurrent(p.generation)
}

// Respond streams a response to userText, abandoning any response still in
// flight.
//
// The returned utterance is final unless the error is ErrStreamAbandoned. A
// failed stream returns the fallback utterance and an error matching
// ErrStream; nothing is spoken in that case.
func (b *ResponseBridge) Respond(ctx context.Context, userText string, opts ...llms.StreamingPromptOption) (Utterance, error) {
	return b.Claim().Respond(ctx, userText, opts...)
}

// Respond streams the reserved response. It returns ErrStreamAbandoned
// without prompting the provider if the reservation was already superseded.
func (p *PendingResponse) Respond(ctx context.Context, userText string, opts ...llms.StreamingPromptOption) (Utterance, error) {
	b := p.bridge
	if b.provider == nil {
		return Utterance{}, misuse(opRespond, "no chat provider configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	generation := p.generation
	if !b.activate(generation, cancel) {
		return Utterance{}, ErrStreamAbandoned
	}
	defer b.end(generation)

	ctx, span := tracer.Start(ctx, "respond")
	defer span.End()

	utterance := newUtterance(RoleAssistant, "", true)
	span.SetAttributes(attribute.String("utterance.id", utterance.ID))

	buffer := newTextBuffer()
	contextDone := withContextCancelHook(ctx, buffer.Abandon)
	defer close(contextDone)

	prompt := userText
	stream := b.provider.PromptWithStream(ctx, &prompt, opts...)
	readerDone := make(chan error, 1)
	go func() {
		err := panicSafeNamedWorker("response stream", func(ctx context.Context) error {
			return readStream(ctx, stream, buffer)
		})(ctx)
		buffer.Complete()
		readerDone <- err
	}()

	var text strings.Builder
	for token := range buffer.Tokens() {
		text.WriteString(token)
		utterance.Text = text.String()
		if !b.publish(generation, utterance, events.NewAssistantResponseUpdated(utterance.ID, utterance.Text)) {
			break
		}
	}

	if !b.isCurrent(generation) || ctx.Err() != nil {
		span.SetAttributes(attribute.Bool("response.abandoned", true))
		return utterance, ErrStreamAbandoned
	}

	if err := <-readerDone; err != nil {
		if !b.isCurrent(generation) || ctx.Err() != nil {
			return utterance, ErrStreamAbandoned
		}

		streamErr := newOperationError(opRespond, ErrStream, err)
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, streamErr.Error())
		logger.Warn("response stream failed", "utterance_id", utterance.ID, "error", err)

		utterance.Text = b.fallbackNotice
		utterance.IsProvisional = false
		b.publish(generation, utterance, events.NewAssistantResponseFailed(utterance.ID, b.fallbackNotice, streamErr))
		return utterance, streamErr
	}

	utterance.IsProvisional = false
	if !b.publish(generation, utterance, events.NewAssistantResponseFinal(utterance.ID, utterance.Text)) {
		return utterance, ErrStreamAbandoned
	}

	if strings.TrimSpace(utterance.Text) == "" || b.speaker == nil {
		return utterance, nil
	}
	if err := b.speaker.Speak(ctx, utterance.Text); err != nil {
		if !b.isCurrent(generation) || ctx.Err() != nil {
			return utterance, ErrStreamAbandoned
		}
		return utterance, err
	}
	return utterance, nil
}

// Abandon stops the response in flight, if any, without starting a new one.
func (b *ResponseBridge) Abandon() {
	b.begin(nil)
}

func (b *ResponseBridge) begin(cancel context.CancelFunc) uint64 {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelCurrent != nil {
		b.cancelCurrent()
	}
	b.generation++
	b.cancelCurrent = cancel
	return b.generation
}

// activate attaches cancel to generation if it is still the live one.
func (b *ResponseBridge) activate(generation uint64, cancel context.CancelFunc) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.generation != generation {
		return false
	}
	b.cancelCurrent = cancel
	return true
}

func (b *ResponseBridge) end(generation uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.generation == generation {
		b.cancelCurrent = nil
	}
}

func (b *ResponseBridge) isCurrent(generation uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation == generation
}

// publish delivers utterance and event if generation is still live and
// reports whether it was.
func (b *ResponseBridge) publish(generation uint64, utterance Utterance, event events.Event) bool {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	if !b.isCurrent(generation) {
		return false
	}
	b.emitEvent(event)
	if b.onUtterance != nil {
		safeCall("utterance", func() { b.onUtterance(utterance) })
	}
	return true
}

func readStream(ctx context.Context, stream llms.Stream, buffer *textBuffer) error {
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			return err
		}
		if content, ok := chunk.(llms.StreamContentChunk); ok && content.Content() != "" {
			buffer.Add(content.Content())
		}
	}
	return ctx.Err()
}
