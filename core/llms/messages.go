package llms

// Message is a single finished utterance of the conversation history sent
// along with a prompt.
type Message struct {
	Role    MessageRole
	Content string
}

// MessageRole describes who the message is from.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)
