package llms

import "context"

// Stream is a lazily started chat completion. Ranging over Chunks sends the
// request. A chunk paired with a non-nil error ends the stream as failed;
// ending without one means the response is complete.
type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

type StreamChunk interface {
	FinishReason() *string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	// QueueTime represents the time it took to queue the request.
	//
	// Note: This might be just an approximation.
	QueueTime float64
	// InputProcessingTime represents the time it took to process the input.
	//
	// Note: This might be just an approximation.
	InputProcessingTime float64
	// OutputProcessingTime represents the time it took to generate the output.
	//
	// Note: This might be just an approximation.
	OutputProcessingTime float64
	// TotalTime represents the total time it took to complete the request.
	TotalTime float64
}

// ContentChunk is a piece of response text.
type ContentChunk struct {
	finishReason *string
	content      string
}

func NewContentChunk(content string, finishReason *string) ContentChunk {
	return ContentChunk{content: content, finishReason: finishReason}
}

func (c ContentChunk) FinishReason() *string {
	return c.finishReason
}

func (c ContentChunk) Content() string {
	return c.content
}

// UsageChunk reports token usage, usually right before the stream ends.
type UsageChunk struct {
	finishReason *string
	usage        Usage
}

func NewUsageChunk(usage Usage, finishReason *string) UsageChunk {
	return UsageChunk{usage: usage, finishReason: finishReason}
}

func (c UsageChunk) FinishReason() *string {
	return c.finishReason
}

func (c UsageChunk) Usage() Usage {
	return c.usage
}
