package llms

import "slices"

type StreamingPromptOptions struct {
	Instructions string
	History      []Message
}

type StreamingPromptOption func(*StreamingPromptOptions)

// NewStreamingPromptOptions applies opts on top of the provider default
// instructions.
func NewStreamingPromptOptions(instructions string, opts ...StreamingPromptOption) StreamingPromptOptions {
	options := StreamingPromptOptions{Instructions: instructions}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithSystemPrompt sets the system prompt for the prompt.
// Repeating this option will overwrite the previous system prompt.
func WithSystemPrompt(prompt string) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.Instructions = prompt
	}
}

// WithHistory adds passed messages before the prompt.
// Repeating this option will sequentially add more messages.
func WithHistory(messages ...Message) StreamingPromptOption {
	return func(opts *StreamingPromptOptions) {
		opts.History = append(opts.History, slices.Clone(messages)...)
	}
}
