package events

const (
	// KindAssistantResponseUpdated identifies provisional assistant response text.
	KindAssistantResponseUpdated Kind = "assistant_response.updated"
	// KindAssistantResponseFinal identifies the finalized assistant response.
	KindAssistantResponseFinal Kind = "assistant_response.final"
	// KindAssistantResponseFailed identifies a failed response stream.
	KindAssistantResponseFailed Kind = "assistant_response.failed"
)

// AssistantResponseUpdated carries the provisional response after a token.
type AssistantResponseUpdated struct {
	Base
	UtteranceID string
	Text        string
}

// NewAssistantResponseUpdated creates a provisional response update event.
func NewAssistantResponseUpdated(utteranceID, text string) AssistantResponseUpdated {
	return AssistantResponseUpdated{Base: NewBase(KindAssistantResponseUpdated), UtteranceID: utteranceID, Text: text}
}

// AssistantResponseFinal carries the finalized response text.
type AssistantResponseFinal struct {
	Base
	UtteranceID string
	Text        string
}

// NewAssistantResponseFinal creates an assistant response final event.
func NewAssistantResponseFinal(utteranceID, text string) AssistantResponseFinal {
	return AssistantResponseFinal{Base: NewBase(KindAssistantResponseFinal), UtteranceID: utteranceID, Text: text}
}

// AssistantResponseFailed marks a response stream that failed mid-way.
type AssistantResponseFailed struct {
	Base
	UtteranceID string
	Notice      string
	Err         error
}

// NewAssistantResponseFailed creates an assistant response failed event.
func NewAssistantResponseFailed(utteranceID, notice string, err error) AssistantResponseFailed {
	return AssistantResponseFailed{Base: NewBase(KindAssistantResponseFailed), UtteranceID: utteranceID, Notice: notice, Err: err}
}
