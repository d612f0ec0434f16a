package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/llms"
	"github.com/koscakluka/ema-voice/core/speechengine"
)

// DefaultHistoryLimit is how many finished utterances are sent along with
// each prompt.
const DefaultHistoryLimit = 20

// Conversation wires a Coordinator and a ResponseBridge into a voice
// conversation: every final user utterance is answered by a streamed
// response that is spoken once complete.
//
// A new user utterance barges in: ongoing speech is stopped and the response
// in flight is abandoned before the next one starts. Utterances are answered
// one at a time in the order they were heard; one that is superseded before
// its turn is never answered.
type Conversation struct {
	coordinator *Coordinator
	bridge      *ResponseBridge

	coordinatorOpts []CoordinatorOption
	bridgeOpts      []ResponseBridgeOption
	provider        llms.StreamingProvider
	historyLimit    int

	onTranscript     func(Utterance)
	onInterim        func(string)
	onStateChanged   func(SpeechState)
	onError          func(error)
	onEventCallbacks []func(events.Event)

	baseContext context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once

	// turnMu orders enqueued turns against each other and against Close.
	turnMu     sync.Mutex
	turnReady  chan struct{}
	workerDone chan struct{}

	mu         sync.Mutex
	transcript []Utterance
	pending    *turn
}

// turn is a user utterance waiting to be answered.
type turn struct {
	ctx      context.Context
	text     string
	history  []llms.Message
	response *PendingResponse
	done     chan turnResult
}

type turnResult struct {
	utterance Utterance
	err       error
}

type ConversationOption func(*Conversation)

// WithSpeechEngine sets the factory constructing the speech engine.
func WithSpeechEngine(factory speechengine.Factory) ConversationOption {
	return func(c *Conversation) {
		c.coordinatorOpts = append(c.coordinatorOpts, WithAdapterFactory(factory))
	}
}

func WithChatProvider(provider llms.StreamingProvider) ConversationOption {
	return func(c *Conversation) { c.provider = provider }
}

// WithCoordinatorOptions passes opts to the underlying Coordinator.
func WithCoordinatorOptions(opts ...CoordinatorOption) ConversationOption {
	return func(c *Conversation) { c.coordinatorOpts = append(c.coordinatorOpts, opts...) }
}

// WithResponseBridgeOptions passes opts to the underlying ResponseBridge.
func WithResponseBridgeOptions(opts ...ResponseBridgeOption) ConversationOption {
	return func(c *Conversation) { c.bridgeOpts = append(c.bridgeOpts, opts...) }
}

// WithHistoryLimit sets how many finished utterances are sent with each
// prompt. Zero sends no history.
func WithHistoryLimit(limit int) ConversationOption {
	return func(c *Conversation) { c.historyLimit = max(limit, 0) }
}

// WithTranscriptCallback registers a callback receiving every new or updated
// transcript entry. The callback must not call SendText synchronously.
func WithTranscriptCallback(callback func(Utterance)) ConversationOption {
	return func(c *Conversation) { c.onTranscript = callback }
}

// WithInterimTranscriptCallback registers a callback receiving the user's
// in-progress speech.
func WithInterimTranscriptCallback(callback func(string)) ConversationOption {
	return func(c *Conversation) { c.onInterim = callback }
}

func WithSpeechStateCallback(callback func(SpeechState)) ConversationOption {
	return func(c *Conversation) { c.onStateChanged = callback }
}

// WithConversationErrorCallback registers a callback for speech and response
// failures.
func WithConversationErrorCallback(callback func(error)) ConversationOption {
	return func(c *Conversation) { c.onError = callback }
}

// WithConversationEventCallback registers a receiver for every typed event of
// the conversation.
func WithConversationEventCallback(callback func(events.Event)) ConversationOption {
	return func(c *Conversation) { c.onEventCallbacks = append(c.onEventCallbacks, callback) }
}

func NewConversation(ctx context.Context, opts ...ConversationOption) (*Conversation, error) {
	c := &Conversation{historyLimit: DefaultHistoryLimit}
	for _, opt := range opts {
		opt(c)
	}
	if c.provider == nil {
		return nil, fmt.Errorf("%w: no chat provider configured", ErrInitialization)
	}

	emitEvent := newCallbackEventEmitter(c.onEventCallbacks...)

	coordinatorOpts := append(slices.Clone(c.coordinatorOpts),
		WithStateChangedCallback(c.onStateChanged),
		WithErrorCallback(c.onError),
		WithEventCallback(emitEvent),
	)
	coordinator, err := NewCoordinator(ctx, coordinatorOpts...)
	if err != nil {
		return nil, err
	}

	bridgeOpts := append(slices.Clone(c.bridgeOpts),
		WithUtteranceCallback(c.upsert),
		WithResponseEventCallback(emitEvent),
	)

	c.coordinator = coordinator
	c.bridge = NewResponseBridge(c.provider, coordinator, bridgeOpts...)
	c.baseContext, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.turnReady = make(chan struct{}, 1)
	c.workerDone = make(chan struct{})
	go c.run()
	return c, nil
}

// Start starts listening for the user.
func (c *Conversation) Start(ctx context.Context) error {
	return c.coordinator.StartListening(ctx, c.handleInterim, c.handleFinal)
}

// Stop stops listening, abandons the response in flight and stops speaking.
func (c *Conversation) Stop(ctx context.Context) error {
	c.bridge.Abandon()
	return errors.Join(
		c.coordinator.StopSpeaking(ctx),
		c.coordinator.StopListening(ctx),
	)
}

func (c *Conversation) Pause(ctx context.Context) error {
	return c.coordinator.PauseListening(ctx)
}

func (c *Conversation) Resume(ctx context.Context) error {
	return c.coordinator.ResumeListening(ctx)
}

func (c *Conversation) SetMuted(ctx context.Context, muted bool) error {
	return c.coordinator.SetMuted(ctx, muted)
}

func (c *Conversation) SetLanguage(ctx context.Context, lang speechengine.Language) error {
	return c.coordinator.SetLanguage(ctx, lang)
}

// SendText answers a typed prompt the same way as a spoken one and returns
// the assistant utterance.
func (c *Conversation) SendText(ctx context.Context, text string) (Utterance, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Utterance{}, misuse(opRespond, "prompt must not be empty")
	}

	next, err := c.enqueue(ctx, text)
	if err != nil {
		return Utterance{}, err
	}
	select {
	case result := <-next.done:
		return result.utterance, result.err
	case <-ctx.Done():
		return Utterance{}, ctx.Err()
	}
}

// State returns the speech flags.
func (c *Conversation) State() SpeechState {
	return c.coordinator.State()
}

// Transcript returns a copy of the conversation so far.
func (c *Conversation) Transcript() []Utterance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.transcript)
}

// Close abandons any response, releases the speech engine and waits for the
// turn in progress to finish.
func (c *Conversation) Close() {
	c.closeOnce.Do(func() {
		c.turnMu.Lock()
		c.cancel()
		c.turnMu.Unlock()

		c.bridge.Abandon()
		c.coordinator.Close()
		<-c.workerDone
	})
}

func (c *Conversation) handleInterim(text string) {
	if c.onInterim != nil {
		safeCall("interim transcript", func() { c.onInterim(text) })
	}
}

func (c *Conversation) handleFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if _, err := c.enqueue(c.baseContext, text); err != nil {
		logger.Debug("dropped user utterance", "error", err)
	}
}

// enqueue records the user utterance and makes it the next turn, abandoning
// the response in flight and any turn still waiting.
func (c *Conversation) enqueue(ctx context.Context, text string) (*turn, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	if c.baseContext.Err() != nil {
		return nil, fmt.Errorf("%s: %w", opRespond, ErrCoordinatorClosed)
	}

	next := &turn{
		ctx:      ctx,
		text:     text,
		history:  c.history(),
		response: c.bridge.Claim(),
		done:     make(chan turnResult, 1),
	}
	c.upsert(newUtterance(RoleUser, text, false))

	c.mu.Lock()
	superseded := c.pending
	c.pending = next
	c.mu.Unlock()

	if superseded != nil {
		superseded.done <- turnResult{err: ErrStreamAbandoned}
	}
	select {
	case c.turnReady <- struct{}{}:
	default:
	}
	return next, nil
}

func (c *Conversation) takePending() *turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.pending
	c.pending = nil
	return next
}

// run answers turns one at a time until the conversation is closed.
func (c *Conversation) run() {
	defer close(c.workerDone)

	for {
		select {
		case <-c.baseContext.Done():
			if next := c.takePending(); next != nil {
				next.done <- turnResult{err: ErrStreamAbandoned}
			}
			return
		case <-c.turnReady:
		}

		if next := c.takePending(); next != nil {
			utterance, err := c.answer(next)
			next.done <- turnResult{utterance: utterance, err: err}
		}
	}
}

func (c *Conversation) answer(t *turn) (Utterance, error) {
	if !t.response.Live() {
		return Utterance{}, ErrStreamAbandoned
	}
	if c.coordinator.State().IsSpeaking {
		if err := c.coordinator.StopSpeaking(t.ctx); err != nil {
			logger.Warn("could not stop speaking for barge-in", "error", err)
		}
	}

	utterance, err := t.response.Respond(t.ctx, t.text, llms.WithHistory(t.history...))
	switch {
	case err == nil:
	case errors.Is(err, ErrStreamAbandoned):
		c.remove(utterance.ID)
	case errors.Is(err, ErrStream):
		if c.onError != nil {
			safeCall("error", func() { c.onError(err) })
		}
	default:
		logger.Warn("could not respond to user utterance", "error", err)
	}
	return utterance, err
}

// history returns the most recent finished utterances as chat messages.
func (c *Conversation) history() []llms.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := make([]llms.Message, 0, len(c.transcript))
	for _, utterance := range c.transcript {
		if utterance.IsProvisional || utterance.Text == "" {
			continue
		}
		role := llms.MessageRoleUser
		if utterance.Role == RoleAssistant {
			role = llms.MessageRoleAssistant
		}
		messages = append(messages, llms.Message{Role: role, Content: utterance.Text})
	}
	if len(messages) > c.historyLimit {
		messages = messages[len(messages)-c.historyLimit:]
	}
	return messages
}

func (c *Conversation) upsert(utterance Utterance) {
	c.mu.Lock()
	index := slices.IndexFunc(c.transcript, func(u Utterance) bool { return u.ID == utterance.ID })
	if index >= 0 {
		c.transcript[index] = utterance
	} else {
		c.transcript = append(c.transcript, utterance)
	}
	c.mu.Unlock()

	if c.onTranscript != nil {
		safeCall("transcript", func() { c.onTranscript(utterance) })
	}
}

func (c *Conversation) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = slices.DeleteFunc(c.transcript, func(u Utterance) bool { return u.ID == id && u.IsProvisional })
}
