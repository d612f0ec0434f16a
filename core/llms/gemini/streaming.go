package gemini

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-voice/core/llms"
	"github.com/koscakluka/ema-voice/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

type Stream struct {
	client   *Client
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.client.model))

		var usage *genai.GenerateContentResponseUsageMetadata
		var finishReason *string
		for resp, err := range s.client.genai.Models.GenerateContentStream(ctx, s.client.model, s.contents, s.config) {
			if err != nil {
				err = fmt.Errorf("error streaming response: %w", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield(nil, err)
				return
			}
			if resp == nil {
				continue
			}

			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
				finishReason = utils.Ptr(string(resp.Candidates[0].FinishReason))
			}
			if resp.UsageMetadata != nil {
				usage = resp.UsageMetadata
			}

			if text := resp.Text(); text != "" {
				if !yield(llms.NewContentChunk(text, finishReason), nil) {
					return
				}
			}
		}

		if usage != nil {
			span.SetAttributes(attribute.Int("usage.total", int(usage.TotalTokenCount)))
			yield(llms.NewUsageChunk(llms.Usage{
				InputTokens:  int(usage.PromptTokenCount),
				OutputTokens: int(usage.CandidatesTokenCount),
				TotalTokens:  int(usage.TotalTokenCount),
			}, finishReason), nil)
		} else {
			logger.Debug("stream finished without usage metadata", "model", s.client.model)
		}
	}
}
