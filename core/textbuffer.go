package orchestration

import (
	"iter"
	"strings"
	"sync"
)

// textBuffer hands streamed tokens from the stream reader to the consumer.
// Tokens are kept in arrival order; Abandon makes a waiting consumer return
// immediately, Complete lets it drain what is left first.
type textBuffer struct {
	mu           sync.Mutex
	tokens       []string
	consumed     int
	complete     bool
	abandoned    bool
	updateSignal chan struct{}
}

func newTextBuffer() *textBuffer {
	return &textBuffer{
		updateSignal: make(chan struct{}, 1),
	}
}

func (b *textBuffer) Add(token string) {
	b.mu.Lock()
	if b.complete || b.abandoned {
		b.mu.Unlock()
		return
	}
	b.tokens = append(b.tokens, token)
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) Complete() {
	b.mu.Lock()
	b.complete = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) Abandon() {
	b.mu.Lock()
	b.abandoned = true
	b.mu.Unlock()
	b.signalUpdate()
}

// Tokens yields every token once, blocking for more until the buffer is
// complete or abandoned.
func (b *textBuffer) Tokens() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			b.mu.Lock()
			if b.abandoned {
				b.mu.Unlock()
				return
			}

			if b.consumed < len(b.tokens) {
				token := b.tokens[b.consumed]
				b.consumed++
				b.mu.Unlock()
				if !yield(token) {
					return
				}
				continue
			}

			if b.complete {
				b.mu.Unlock()
				return
			}

			b.mu.Unlock()
			<-b.updateSignal
		}
	}
}

func (b *textBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return strings.Join(b.tokens, "")
}

func (b *textBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}
