package orchestration

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/events"
)

func TestRecognitionSessionDeliversInEmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var received []string
	record := func(prefix string) func(string) {
		return func(text string) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, prefix+text)
		}
	}

	session := newRecognitionSession(CallbackPair{
		OnInterimResult: record("interim:"),
		OnFinalResult:   record("final:"),
	}, time.Hour, nil)

	session.OnInterim("H")
	session.OnInterim("He")
	session.OnInterim("Hel")
	session.OnFinal("Hello")
	session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := session.Wait(ctx); err != nil {
		t.Fatalf("expected session to drain, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	expected := []string{"interim:H", "interim:He", "interim:Hel", "final:Hello"}
	if !slices.Equal(received, expected) {
		t.Fatalf("expected %v, got %v", expected, received)
	}
}

func TestRecognitionSessionDropsResultsAfterClose(t *testing.T) {
	var mu sync.Mutex
	var received []string

	session := newRecognitionSession(CallbackPair{
		OnFinalResult: func(text string) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, text)
		},
	}, time.Hour, nil)

	session.Close()
	session.OnFinal("stale")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := session.Wait(ctx); err != nil {
		t.Fatalf("expected closed session to finish, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 0 {
		t.Fatalf("expected no results after close, got %v", received)
	}
}

func TestRecognitionSessionSurvivesPanickingConsumer(t *testing.T) {
	finals := make(chan string, 2)
	session := newRecognitionSession(CallbackPair{
		OnInterimResult: func(string) { panic("consumer bug") },
		OnFinalResult:   func(text string) { finals <- text },
	}, time.Hour, nil)
	defer session.Close()

	session.OnInterim("boom")
	session.OnFinal("still delivered")

	select {
	case text := <-finals:
		if text != "still delivered" {
			t.Fatalf("expected final after panic, got %q", text)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected final to be delivered after a panicking interim callback")
	}
}

func TestRecognitionSessionEmitsTranscriptEvents(t *testing.T) {
	var mu sync.Mutex
	var kinds []events.Kind
	session := newRecognitionSession(CallbackPair{}, 20*time.Millisecond, func(event events.Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, event.Kind())
	})

	session.OnInterim("hola")

	waitForCondition(t, time.Second, "synthesized final event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 2
	})
	session.Close()

	mu.Lock()
	defer mu.Unlock()
	expected := []events.Kind{events.KindUserTranscriptInterimUpdated, events.KindUserTranscriptFinal}
	if !slices.Equal(kinds, expected) {
		t.Fatalf("expected %v, got %v", expected, kinds)
	}
}
