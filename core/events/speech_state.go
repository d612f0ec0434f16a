package events

// KindSpeechStateChanged identifies a change of any coordinator speech flag.
const KindSpeechStateChanged Kind = "speech_state.changed"

// SpeechStateChanged carries a snapshot of the coordinator flags.
type SpeechStateChanged struct {
	Base
	IsListening bool
	IsSpeaking  bool
	IsPaused    bool
	IsMuted     bool
	Language    string
}

// NewSpeechStateChanged creates a speech state changed event.
func NewSpeechStateChanged(isListening, isSpeaking, isPaused, isMuted bool, language string) SpeechStateChanged {
	return SpeechStateChanged{
		Base:        NewBase(KindSpeechStateChanged),
		IsListening: isListening,
		IsSpeaking:  isSpeaking,
		IsPaused:    isPaused,
		IsMuted:     isMuted,
		Language:    language,
	}
}
