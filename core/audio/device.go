// Package audio defines the capture and playback devices a speech engine
// drives.
package audio

import (
	"context"
	"errors"
)

// ErrDeviceClosed is returned by devices used after Close.
var ErrDeviceClosed = errors.New("audio device closed")

// Capture streams microphone audio.
type Capture interface {
	// StartCapture delivers captured audio to onAudio until StopCapture is
	// called. Starting an already capturing device replaces the receiver.
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

// Playback plays queued audio.
type Playback interface {
	// SendAudio queues audio behind everything queued before it.
	SendAudio(audio []byte) error
	// ClearBuffer drops all queued audio and releases pending AwaitMark
	// calls.
	ClearBuffer()
	// AwaitMark blocks until everything queued so far has been played, the
	// buffer is cleared, or ctx is done.
	AwaitMark(ctx context.Context) error
}

// Device is a full-duplex audio device.
type Device interface {
	Capture
	Playback
	EncodingInfo() EncodingInfo
	Close()
}
