package orchestration

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/koscakluka/ema-voice/core/events"
)

type recognitionEvent struct {
	text        string
	final       bool
	synthesized bool
}

// recognitionSession scopes the recognition results of one listening session.
//
// Adapter callbacks only enqueue; a single dispatcher goroutine delivers the
// results to the consumer in emission order, so a slow or panicking consumer
// can never stall or break the engine's recognition loop. Results arriving
// after Close are dropped.
type recognitionSession struct {
	callbacks CallbackPair
	emitEvent eventEmitter
	silence   *SilenceDetector

	mu     sync.Mutex
	queue  []recognitionEvent
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newRecognitionSession(callbacks CallbackPair, silenceThreshold time.Duration, emitEvent eventEmitter) *recognitionSession {
	if emitEvent == nil {
		emitEvent = noopEventEmitter
	}

	s := &recognitionSession{
		callbacks: callbacks,
		emitEvent: emitEvent,
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	s.silence = NewSilenceDetector(silenceThreshold,
		func(text string) { s.enqueue(recognitionEvent{text: text}) },
		func(text string, synthesized bool) {
			s.enqueue(recognitionEvent{text: text, final: true, synthesized: synthesized})
		},
	)

	go s.dispatch()
	return s
}

// OnInterim is handed to the adapter as the interim callback.
func (s *recognitionSession) OnInterim(text string) { s.silence.Interim(text) }

// OnFinal is handed to the adapter as the final callback.
func (s *recognitionSession) OnFinal(text string) { s.silence.Final(text) }

func (s *recognitionSession) enqueue(event recognitionEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()
	s.signalUpdate()
}

// Events yields queued results in order until the session is closed and
// drained.
func (s *recognitionSession) Events() iter.Seq[recognitionEvent] {
	return func(yield func(recognitionEvent) bool) {
		for {
			s.mu.Lock()
			if len(s.queue) > 0 {
				event := s.queue[0]
				s.queue = s.queue[1:]
				s.mu.Unlock()
				if !yield(event) {
					return
				}
				continue
			}

			if s.closed {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.signal
		}
	}
}

// Close stops accepting results. Results already queued are still delivered.
func (s *recognitionSession) Close() {
	s.silence.Stop()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signalUpdate()
}

// Wait blocks until every queued result has been delivered or ctx is done.
func (s *recognitionSession) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *recognitionSession) dispatch() {
	defer close(s.done)

	for event := range s.Events() {
		if event.final {
			s.emitEvent(events.NewUserTranscriptFinal(event.text, event.synthesized))
			s.deliver("final result", s.callbacks.OnFinalResult, event.text)
		} else {
			s.emitEvent(events.NewUserTranscriptInterimUpdated(event.text))
			s.deliver("interim result", s.callbacks.OnInterimResult, event.text)
		}
	}
}

func (s *recognitionSession) deliver(name string, callback func(string), text string) {
	if callback == nil {
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error(fmt.Sprintf("%s callback panicked", name), "panic", recovered)
		}
	}()
	callback(text)
}

func (s *recognitionSession) signalUpdate() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}
