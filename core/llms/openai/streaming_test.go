package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koscakluka/ema-voice/core/llms"
)

func TestStreamYieldsTextDeltasAndUsage(t *testing.T) {
	var received requestBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("could not decode request: %v", err)
		}
		writeEvent(w, "response.in_progress", `{}`)
		writeEvent(w, "response.output_text.delta", `{"delta":"Hola"}`)
		writeEvent(w, "response.output_text.delta", `{"delta":" mundo"}`)
		writeEvent(w, "response.completed", `{"response":{"usage":{"input_tokens":3,"output_tokens":2,"total_tokens":5}}}`)
	}))
	defer server.Close()

	client := New("key", WithURL(server.URL), WithHTTPClient(server.Client()), WithInstructions("be brief"))
	prompt := "hi"
	stream := client.PromptWithStream(context.Background(), &prompt,
		llms.WithHistory(llms.Message{Role: llms.MessageRoleAssistant, Content: "earlier"}))

	var text strings.Builder
	var usage *llms.Usage
	for chunk, err := range stream.Chunks(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		switch chunk := chunk.(type) {
		case llms.StreamContentChunk:
			text.WriteString(chunk.Content())
		case llms.StreamUsageChunk:
			u := chunk.Usage()
			usage = &u
		}
	}

	if text.String() != "Hola mundo" {
		t.Fatalf("expected streamed text %q, got %q", "Hola mundo", text.String())
	}
	if usage == nil || usage.TotalTokens != 5 {
		t.Fatalf("expected usage with 5 total tokens, got %+v", usage)
	}
	if len(received.Input) != 3 {
		t.Fatalf("expected instructions, history and prompt, got %+v", received.Input)
	}
	if received.Input[0].Role != messageRoleDeveloper || received.Input[1].Role != messageRoleAssistant || received.Input[2].Content != "hi" {
		t.Fatalf("unexpected request input: %+v", received.Input)
	}
}

func TestStreamReportsFailedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, "response.output_text.delta", `{"delta":"Hola"}`)
		writeEvent(w, "response.failed", `{"response":{"error":{"message":"overloaded"}}}`)
	}))
	defer server.Close()

	client := New("key", WithURL(server.URL), WithHTTPClient(server.Client()))
	prompt := "hi"

	var streamErr error
	for _, err := range client.PromptWithStream(context.Background(), &prompt).Chunks(context.Background()) {
		if err != nil {
			streamErr = err
		}
	}

	if streamErr == nil || !strings.Contains(streamErr.Error(), "overloaded") {
		t.Fatalf("expected overloaded error, got %v", streamErr)
	}
}

func TestStreamTreatsTruncatedResponseAsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, "response.output_text.delta", `{"delta":"Hola"}`)
	}))
	defer server.Close()

	client := New("key", WithURL(server.URL), WithHTTPClient(server.Client()))

	var streamErr error
	for _, err := range client.PromptWithStream(context.Background(), nil).Chunks(context.Background()) {
		if err != nil {
			streamErr = err
		}
	}

	if streamErr == nil {
		t.Fatalf("expected an error for a stream without completion event")
	}
}

func TestStreamReportsNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := New("key", WithURL(server.URL), WithHTTPClient(server.Client()))

	var streamErr error
	for _, err := range client.PromptWithStream(context.Background(), nil).Chunks(context.Background()) {
		streamErr = err
	}

	if streamErr == nil || !strings.Contains(streamErr.Error(), "401") {
		t.Fatalf("expected non-OK status error, got %v", streamErr)
	}
}

func TestToOpenAIMessagesSkipsEmptyHistory(t *testing.T) {
	messages := toOpenAIMessages("", []llms.Message{
		{Role: llms.MessageRoleUser, Content: "first prompt"},
		{Role: llms.MessageRoleAssistant, Content: ""},
		{Role: llms.MessageRoleAssistant, Content: "answer"},
	})

	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != messageRoleUser || messages[1].Role != messageRoleAssistant {
		t.Fatalf("unexpected roles: %+v", messages)
	}
}

func writeEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
