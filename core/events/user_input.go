package events

const (
	// KindUserTranscriptInterimUpdated identifies mutable interim transcript updates.
	KindUserTranscriptInterimUpdated Kind = "user_input.transcript_interim_updated"
	// KindUserTranscriptFinal identifies the final transcript for the utterance.
	KindUserTranscriptFinal Kind = "user_input.transcript_final"
)

// UserTranscriptInterimUpdated carries the mutable interim transcript snapshot.
type UserTranscriptInterimUpdated struct {
	Base
	Transcript string
}

// NewUserTranscriptInterimUpdated creates an interim transcript snapshot update event.
func NewUserTranscriptInterimUpdated(transcript string) UserTranscriptInterimUpdated {
	return UserTranscriptInterimUpdated{Base: NewBase(KindUserTranscriptInterimUpdated), Transcript: transcript}
}

// UserTranscriptFinal carries the final transcript for the utterance.
type UserTranscriptFinal struct {
	Base
	Transcript  string
	Synthesized bool
}

// NewUserTranscriptFinal creates a final transcript event.
func NewUserTranscriptFinal(transcript string, synthesized bool) UserTranscriptFinal {
	return UserTranscriptFinal{
		Base:        NewBase(KindUserTranscriptFinal),
		Transcript:  transcript,
		Synthesized: synthesized,
	}
}
