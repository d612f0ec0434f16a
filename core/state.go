package orchestration

import "github.com/koscakluka/ema-voice/core/speechengine"

// SpeechState is a point-in-time snapshot of the coordinator flags.
//
// IsPaused is only ever true while a listening session was active when the
// pause was requested. IsSpeaking is only true while the engine may be
// producing audio.
type SpeechState struct {
	IsListening bool
	IsSpeaking  bool
	IsPaused    bool
	IsMuted     bool
	Language    speechengine.Language

	// LastError is the human readable message of the most recent failure, or
	// empty if no operation failed yet.
	LastError string
}

// CallbackPair holds the consumer handlers of a listening session. The pair is
// kept across pause/resume and language changes.
type CallbackPair struct {
	OnInterimResult func(text string)
	OnFinalResult   func(text string)
}

func (s SpeechState) baseline() SpeechState {
	s.IsListening = false
	s.IsSpeaking = false
	s.IsPaused = false
	return s
}
