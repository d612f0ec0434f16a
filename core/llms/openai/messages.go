package openai

import "github.com/koscakluka/ema-voice/core/llms"

type openAIMessage struct {
	Type messageType `json:"type"`

	Role    messageRole `json:"role,omitempty"`
	Content string      `json:"content,omitempty"`
}

type messageRole string

const (
	messageRoleDeveloper messageRole = "developer"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

type messageType string

const (
	messageTypeMessage messageType = "message"
)

func toOpenAIMessages(instructions string, history []llms.Message) []openAIMessage {
	messages := []openAIMessage{}
	if instructions != "" {
		messages = append(messages, openAIMessage{
			Role:    messageRoleDeveloper,
			Type:    messageTypeMessage,
			Content: instructions,
		})
	}

	for _, message := range history {
		if message.Content == "" {
			continue
		}

		msg := openAIMessage{Type: messageTypeMessage, Content: message.Content}
		switch message.Role {
		case llms.MessageRoleSystem:
			msg.Role = messageRoleDeveloper
		case llms.MessageRoleAssistant:
			msg.Role = messageRoleAssistant
		default:
			msg.Role = messageRoleUser
		}
		messages = append(messages, msg)
	}
	return messages
}
