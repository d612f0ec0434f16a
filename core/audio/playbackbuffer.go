package audio

import (
	"context"
	"sync"
)

// PlaybackBuffer queues audio for a device to drain and tracks marks placed
// at the end of the queued audio.
type PlaybackBuffer struct {
	mu     sync.Mutex
	audio  []byte
	marks  []playbackMark
	closed bool
}

type playbackMark struct {
	position int
	reached  chan struct{}
}

func (b *PlaybackBuffer) Write(audio []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrDeviceClosed
	}
	b.audio = append(b.audio, audio...)
	return nil
}

// Read moves up to len(p) queued bytes into p and releases every mark that
// has been played.
func (b *PlaybackBuffer) Read(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := copy(p, b.audio)
	b.audio = b.audio[n:]
	if len(b.audio) == 0 {
		b.audio = nil
	}

	passed := 0
	for i := range b.marks {
		b.marks[i].position -= n
		if b.marks[i].position <= 0 {
			close(b.marks[i].reached)
			passed++
		}
	}
	b.marks = b.marks[passed:]
	return n
}

func (b *PlaybackBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.audio)
}

// Clear drops queued audio and releases all marks.
func (b *PlaybackBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clear()
}

// Close clears the buffer and rejects further writes.
func (b *PlaybackBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.clear()
}

func (b *PlaybackBuffer) clear() {
	b.audio = nil
	for _, mark := range b.marks {
		close(mark.reached)
	}
	b.marks = nil
}

// AwaitMark blocks until the audio queued so far has been read, the buffer is
// cleared, or ctx is done.
func (b *PlaybackBuffer) AwaitMark(ctx context.Context) error {
	b.mu.Lock()
	if len(b.audio) == 0 {
		b.mu.Unlock()
		return nil
	}
	mark := playbackMark{position: len(b.audio), reached: make(chan struct{})}
	b.marks = append(b.marks, mark)
	b.mu.Unlock()

	select {
	case <-mark.reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
