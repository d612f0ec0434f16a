package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koscakluka/ema-voice/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	endMessage  = "[DONE]"
	chunkPrefix = "data:"
)

type Stream struct {
	client   *Client
	messages []message
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	requestToFirstTokenTime := time.Time{}
	setRequestToFirstTokenTime := func(span trace.Span) {
		if requestToFirstTokenTime.IsZero() {
			return
		}
		span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestToFirstTokenTime).Seconds()))
		span.AddEvent("received first chunk")
		requestToFirstTokenTime = time.Time{}
	}

	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.client.model))

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}

		requestBodyBytes, err := json.Marshal(requestBody{
			Model:    s.client.model,
			Messages: s.messages,
			Stream:   true,
		})
		if err != nil {
			fail(fmt.Errorf("error marshalling JSON: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.url, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			fail(fmt.Errorf("error creating HTTP request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.client.apiKey)

		span.SetAttributes(attribute.String("request.url", req.URL.String()))
		requestToFirstTokenTime = time.Now()
		span.AddEvent("request started")
		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			fail(fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			if errorBody, err := io.ReadAll(resp.Body); err != nil {
				span.SetAttributes(attribute.String("error", err.Error()))
			} else {
				span.SetAttributes(attribute.String("response.error", string(errorBody)))
			}
			fail(fmt.Errorf("non-OK HTTP status: %s", resp.Status))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
			setRequestToFirstTokenTime(span)

			if len(chunk) == 0 {
				continue
			}

			if chunk == endMessage {
				return
			}

			var responseBody streamingResponseBody
			if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
				fail(fmt.Errorf("error unmarshalling JSON: %w", err))
				return
			}
			if responseBody.Error != nil {
				fail(fmt.Errorf("response failed: %s", responseBody.Error.Message))
				return
			}

			var finishReason *string
			if len(responseBody.Choices) > 0 {
				choice := responseBody.Choices[0]
				finishReason = choice.FinishReason

				if choice.Delta.Content != "" {
					if !yield(llms.NewContentChunk(choice.Delta.Content, finishReason), nil) {
						return
					}
				}
			}

			usage := responseBody.Usage
			if usage == nil && responseBody.XGroq != nil {
				usage = responseBody.XGroq.Usage
			}
			if usage != nil {
				span.SetAttributes(attribute.Int("usage.input", usage.PromptTokens))
				span.SetAttributes(attribute.Int("usage.output", usage.CompletionTokens))
				span.SetAttributes(attribute.Int("usage.total", usage.TotalTokens))
				span.SetAttributes(attribute.Float64("usage.queue_time", usage.QueueTime))
				span.SetAttributes(attribute.Float64("usage.total_time", usage.TotalTime))

				if !yield(llms.NewUsageChunk(llms.Usage{
					InputTokens:          usage.PromptTokens,
					OutputTokens:         usage.CompletionTokens,
					TotalTokens:          usage.TotalTokens,
					QueueTime:            usage.QueueTime,
					InputProcessingTime:  usage.PromptTime,
					OutputProcessingTime: usage.CompletionTime,
					TotalTime:            usage.TotalTime,
				}, finishReason), nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			fail(fmt.Errorf("error reading streamed response: %w", err))
			return
		}
		fail(errors.New("stream ended before the response completed"))
	}
}

type requestBody struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type streamingUsage struct {
	QueueTime        float64 `json:"queue_time"`
	PromptTokens     int     `json:"prompt_tokens"`
	PromptTime       float64 `json:"prompt_time"`
	CompletionTokens int     `json:"completion_tokens"`
	CompletionTime   float64 `json:"completion_time"`
	TotalTokens      int     `json:"total_tokens"`
	TotalTime        float64 `json:"total_time"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *streamingUsage `json:"usage"`
	XGroq *struct {
		Usage *streamingUsage `json:"usage"`
	} `json:"x_groq"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
