package llms

import "context"

// StreamingProvider produces token-streamed chat responses.
//
// A nil prompt streams a response to the history alone.
type StreamingProvider interface {
	PromptWithStream(ctx context.Context, prompt *string, opts ...StreamingPromptOption) Stream
}
