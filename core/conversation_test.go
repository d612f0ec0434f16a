package orchestration

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/llms"
)

func newTestConversation(t *testing.T, factory *adapterFactory, provider llms.StreamingProvider, opts ...ConversationOption) *Conversation {
	t.Helper()

	opts = append([]ConversationOption{
		WithSpeechEngine(factory.New),
		WithChatProvider(provider),
		WithCoordinatorOptions(
			WithMaxOperationTime(200*time.Millisecond),
			WithHeartbeatInterval(20*time.Millisecond),
		),
	}, opts...)
	c, err := NewConversation(context.Background(), opts...)
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNewConversationRequiresProvider(t *testing.T) {
	_, err := NewConversation(context.Background(), WithSpeechEngine(newAdapterFactory().New))
	if !errors.Is(err, ErrInitialization) {
		t.Fatalf("expected ErrInitialization, got %v", err)
	}
}

func TestConversationAnswersFinalUtterance(t *testing.T) {
	adapter := &stubAdapter{}
	provider := newScriptedProvider(&scriptedStream{tokens: []string{"Hola", " ", "mundo"}})
	c := newTestConversation(t, newAdapterFactory(adapter), provider)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	adapter.EmitFinal("hola")

	waitForCondition(t, time.Second, "response to be spoken", func() bool {
		return slices.Equal(adapter.Spoken(), []string{"Hola mundo"})
	})

	transcript := c.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("expected user and assistant utterances, got %+v", transcript)
	}
	if transcript[0].Role != RoleUser || transcript[0].Text != "hola" {
		t.Fatalf("unexpected user utterance: %+v", transcript[0])
	}
	if transcript[1].Role != RoleAssistant || transcript[1].Text != "Hola mundo" || transcript[1].IsProvisional {
		t.Fatalf("unexpected assistant utterance: %+v", transcript[1])
	}
}

func TestConversationAnswersSynthesizedFinal(t *testing.T) {
	adapter := &stubAdapter{}
	provider := newScriptedProvider(&scriptedStream{tokens: []string{"Sí"}})
	c := newTestConversation(t, newAdapterFactory(adapter), provider,
		WithCoordinatorOptions(WithSilenceThreshold(30*time.Millisecond)))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	adapter.EmitInterim("¿me oyes")

	waitForCondition(t, time.Second, "response to the synthesized final", func() bool {
		return slices.Equal(adapter.Spoken(), []string{"Sí"})
	})
	if transcript := c.Transcript(); transcript[0].Text != "¿me oyes" {
		t.Fatalf("expected the last interim to become the user utterance, got %+v", transcript)
	}
}

func TestConversationSendsHistoryWithPrompt(t *testing.T) {
	provider := newScriptedProvider(
		&scriptedStream{tokens: []string{"first answer"}},
		&scriptedStream{tokens: []string{"second answer"}},
	)
	c := newTestConversation(t, newAdapterFactory(), provider)

	if _, err := c.SendText(context.Background(), "first question"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.SendText(context.Background(), "second question"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	options := provider.Options()
	if len(options) != 2 {
		t.Fatalf("expected two prompts, got %d", len(options))
	}
	if len(options[0].History) != 0 {
		t.Fatalf("expected no history for the first prompt, got %+v", options[0].History)
	}
	history := options[1].History
	if len(history) != 2 || history[0].Content != "first question" || history[1].Content != "first answer" {
		t.Fatalf("unexpected history for the second prompt: %+v", history)
	}
	if history[0].Role != llms.MessageRoleUser || history[1].Role != llms.MessageRoleAssistant {
		t.Fatalf("unexpected history roles: %+v", history)
	}
}

func TestConversationLimitsHistory(t *testing.T) {
	provider := newScriptedProvider(
		&scriptedStream{tokens: []string{"a1"}},
		&scriptedStream{tokens: []string{"a2"}},
	)
	c := newTestConversation(t, newAdapterFactory(), provider, WithHistoryLimit(1))

	for _, prompt := range []string{"q1", "q2"} {
		if _, err := c.SendText(context.Background(), prompt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	history := provider.Options()[1].History
	if len(history) != 1 || history[0].Content != "a1" {
		t.Fatalf("expected only the latest utterance, got %+v", history)
	}
}

func TestConversationBargeInStopsSpeechAndAbandonsResponse(t *testing.T) {
	adapter := &playbackAdapter{stubAdapter: &stubAdapter{}, finish: make(chan struct{})}
	gate := make(chan struct{})
	defer close(gate)
	provider := newScriptedProvider(
		&scriptedStream{tokens: []string{"first"}},
		&scriptedStream{tokens: []string{"long", " answer"}, gate: gate},
		&scriptedStream{tokens: []string{"third"}},
	)
	c := newTestConversation(t, newAdapterFactory(adapter), provider)

	if _, err := c.SendText(context.Background(), "one"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.State().IsSpeaking {
		t.Fatalf("expected first answer to be playing")
	}

	secondDone := make(chan error, 1)
	go func() {
		_, err := c.SendText(context.Background(), "two")
		secondDone <- err
	}()

	waitForCondition(t, time.Second, "second response to start streaming", func() bool {
		for _, utterance := range c.Transcript() {
			if utterance.Text == "long" && utterance.IsProvisional {
				return true
			}
		}
		return false
	})
	if adapter.Count("stopSpeaking") != 1 {
		t.Fatalf("expected barge-in to stop the first answer, got %v", adapter.Calls())
	}

	if _, err := c.SendText(context.Background(), "three"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case err := <-secondDone:
		if !errors.Is(err, ErrStreamAbandoned) {
			t.Fatalf("expected second response to be abandoned, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("second response was not abandoned")
	}

	var texts []string
	for _, utterance := range c.Transcript() {
		texts = append(texts, utterance.Text)
	}
	expected := []string{"one", "first", "two", "three", "third"}
	if !slices.Equal(texts, expected) {
		t.Fatalf("expected transcript %v, got %v", expected, texts)
	}
	if spoken := adapter.Spoken(); !slices.Equal(spoken, []string{"first", "third"}) {
		t.Fatalf("expected only completed answers to be spoken, got %v", spoken)
	}
}

func TestConversationReportsFailedResponse(t *testing.T) {
	provider := newScriptedProvider(&scriptedStream{err: errProviderFailed})

	var mu sync.Mutex
	var reported []error
	c := newTestConversation(t, newAdapterFactory(), provider, WithConversationErrorCallback(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))

	utterance, err := c.SendText(context.Background(), "hola")
	if !errors.Is(err, ErrStream) {
		t.Fatalf("expected stream error, got %v", err)
	}
	if utterance.Text != DefaultFallbackNotice {
		t.Fatalf("expected fallback notice, got %q", utterance.Text)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || !errors.Is(reported[0], ErrStream) {
		t.Fatalf("expected the failure to be reported once, got %v", reported)
	}
}

func TestConversationRejectsEmptyPrompt(t *testing.T) {
	c := newTestConversation(t, newAdapterFactory(), newScriptedProvider())

	if _, err := c.SendText(context.Background(), "  "); !errors.Is(err, ErrMisuse) {
		t.Fatalf("expected ErrMisuse, got %v", err)
	}
}

func TestConversationPauseResumeAndStop(t *testing.T) {
	adapter := &stubAdapter{}
	c := newTestConversation(t, newAdapterFactory(adapter), newScriptedProvider())

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := c.Pause(context.Background()); err != nil {
		t.Fatalf("unexpected pause error: %v", err)
	}
	if !c.State().IsPaused {
		t.Fatalf("expected paused")
	}
	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("unexpected resume error: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	state := c.State()
	if state.IsListening || state.IsPaused || state.IsSpeaking {
		t.Fatalf("expected everything stopped, got %+v", state)
	}
	if err := c.Resume(context.Background()); !errors.Is(err, ErrMisuse) {
		t.Fatalf("expected resume after stop to be a misuse, got %v", err)
	}
}

func TestConversationAnswersLatestOfQuickFinals(t *testing.T) {
	adapter := &playbackAdapter{stubAdapter: &stubAdapter{}, finish: make(chan struct{})}
	provider := newScriptedProvider(
		&scriptedStream{tokens: []string{"first"}},
		&scriptedStream{tokens: []string{"answer"}},
	)
	c := newTestConversation(t, newAdapterFactory(adapter), provider)

	if _, err := c.SendText(context.Background(), "zero"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.State().IsSpeaking {
		t.Fatalf("expected first answer to be playing")
	}
	adapter.stopSpeaking = func(context.Context) error {
		time.Sleep(120 * time.Millisecond)
		return nil
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	adapter.EmitFinal("older")
	time.Sleep(30 * time.Millisecond)
	adapter.EmitFinal("newer")

	waitForCondition(t, 2*time.Second, "newer utterance to be answered", func() bool {
		return slices.Equal(adapter.Spoken(), []string{"first", "answer"})
	})

	if prompts := provider.Prompts(); !slices.Equal(prompts, []string{"zero", "newer"}) {
		t.Fatalf("expected only the newer utterance to be prompted, got %v", prompts)
	}
	var texts []string
	for _, utterance := range c.Transcript() {
		texts = append(texts, utterance.Text)
	}
	expected := []string{"zero", "first", "older", "newer", "answer"}
	if !slices.Equal(texts, expected) {
		t.Fatalf("expected transcript %v, got %v", expected, texts)
	}
	if adapter.Count("stopSpeaking") != 1 {
		t.Fatalf("expected a single barge-in stop, got %v", adapter.Calls())
	}
}

func TestConversationStopInterruptsSpeechInFlight(t *testing.T) {
	adapter := &stubAdapter{}
	adapter.speak = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	provider := newScriptedProvider(&scriptedStream{tokens: []string{"Hola"}})
	c := newTestConversation(t, newAdapterFactory(adapter), provider)

	done := make(chan error, 1)
	go func() {
		_, err := c.SendText(context.Background(), "hola")
		done <- err
	}()
	waitForCondition(t, time.Second, "speech to start", func() bool { return adapter.Count("speak") == 1 })

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrStreamAbandoned) {
			t.Fatalf("expected the response to be abandoned, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("response did not return after stop")
	}
	if adapter.Count("stopSpeaking") != 1 {
		t.Fatalf("expected the engine to be told to stop speaking, got %v", adapter.Calls())
	}
	if c.State().IsSpeaking {
		t.Fatalf("expected not speaking after stop")
	}
}

func TestConversationSendTextAfterCloseFails(t *testing.T) {
	c := newTestConversation(t, newAdapterFactory(), newScriptedProvider())
	c.Close()

	if _, err := c.SendText(context.Background(), "hola"); !errors.Is(err, ErrCoordinatorClosed) {
		t.Fatalf("expected ErrCoordinatorClosed, got %v", err)
	}
}
