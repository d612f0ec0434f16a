package orchestration

import "github.com/google/uuid"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Utterance is one entry of the conversation transcript. An assistant
// utterance stays provisional while its response is still streaming.
type Utterance struct {
	ID            string
	Role          Role
	Text          string
	IsProvisional bool
}

func newUtterance(role Role, text string, provisional bool) Utterance {
	return Utterance{
		ID:            uuid.NewString(),
		Role:          role,
		Text:          text,
		IsProvisional: provisional,
	}
}
