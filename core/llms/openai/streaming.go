package openai

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
	"github.com/koscakluka/ema-voice/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	eventPrefix = "event:"
	chunkPrefix = "data:"
)

type Stream struct {
	client   *Client
	messages []openAIMessage
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
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
			Model:  s.client.model,
			Input:  s.messages,
			Stream: true,
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

		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			fail(fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			if errorBody, err := io.ReadAll(resp.Body); err == nil {
				span.SetAttributes(attribute.String("response.error", string(errorBody)))
			}
			fail(fmt.Errorf("non-OK HTTP status: %s", resp.Status))
			return
		}

		usage := llms.Usage{}
		lapTime := time.Now()
		startTime := lapTime

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, eventPrefix) {
				continue
			}

			event := streamingEventType(strings.TrimSpace(strings.TrimPrefix(line, eventPrefix)))
			if !scanner.Scan() {
				break
			}
			chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))

			switch event {
			case streamingEventResponseInProgress:
				usage.QueueTime = time.Since(lapTime).Seconds()
				lapTime = time.Now()

			case streamingEventResponseOutputItemAdded:
				usage.InputProcessingTime = time.Since(lapTime).Seconds()
				lapTime = time.Now()

			case streamingEventResponseOutputTextDelta:
				var responseBody streamingBodyResponseTextDelta
				if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
					fail(fmt.Errorf("error unmarshalling JSON: %w", err))
					return
				}
				if !yield(llms.NewContentChunk(responseBody.Delta, nil), nil) {
					return
				}

			case streamingEventResponseCompleted:
				usage.OutputProcessingTime = time.Since(lapTime).Seconds()
				usage.TotalTime = time.Since(startTime).Seconds()

				var responseBody streamingBodyResponseCompleted
				if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
					logger.Warn("could not read response usage", "error", err)
				} else if responseBody.Response.Usage != nil {
					usage.InputTokens = responseBody.Response.Usage.InputTokens
					usage.OutputTokens = responseBody.Response.Usage.OutputTokens
					usage.TotalTokens = responseBody.Response.Usage.TotalTokens
				}

				yield(llms.NewUsageChunk(usage, utils.Ptr(finishReasonStop)), nil)
				return

			case streamingEventResponseFailed, streamingEventError:
				var responseBody streamingBodyError
				if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
					fail(fmt.Errorf("response failed: %s", chunk))
					return
				}
				fail(fmt.Errorf("response failed: %w", responseBody.err()))
				return
			}
		}

		if err := scanner.Err(); err != nil {
			fail(fmt.Errorf("error reading streamed response: %w", err))
			return
		}
		fail(errors.New("stream ended before the response completed"))
	}
}

const finishReasonStop = "stop"

type requestBody struct {
	Model  string          `json:"model"`
	Input  []openAIMessage `json:"input"`
	Stream bool            `json:"stream"`
}

type streamingEventType string

const (
	streamingEventResponseOutputTextDelta streamingEventType = "response.output_text.delta"
	streamingEventResponseOutputItemAdded streamingEventType = "response.output_item.added"
	streamingEventResponseInProgress      streamingEventType = "response.in_progress"
	streamingEventResponseCompleted       streamingEventType = "response.completed"
	streamingEventResponseFailed          streamingEventType = "response.failed"
	streamingEventError                   streamingEventType = "error"
)

type streamingBodyResponseTextDelta struct {
	Delta string `json:"delta"`
}

// streamingBodyResponseCompleted is emitted when the model response is complete
type streamingBodyResponseCompleted struct {
	Response struct {
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	} `json:"response"`
}

// streamingBodyError covers both the top level "error" event and the error
// nested in "response.failed".
type streamingBodyError struct {
	Message  string `json:"message"`
	Response struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

func (b streamingBodyError) err() error {
	if b.Response.Error != nil && b.Response.Error.Message != "" {
		return errors.New(b.Response.Error.Message)
	}
	if b.Message != "" {
		return errors.New(b.Message)
	}
	return errors.New("unknown error")
}
