package openai

import (
	"context"
	"net/http"

	"github.com/koscakluka/ema-voice/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultModel = "gpt-4.1-mini"

	defaultURL = "https://api.openai.com/v1/responses"
)

// Client streams responses from the OpenAI Responses API.
type Client struct {
	apiKey       string
	model        string
	url          string
	instructions string
	httpClient   *http.Client
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithURL overrides the Responses API endpoint.
func WithURL(url string) ClientOption {
	return func(c *Client) { c.url = url }
}

// WithInstructions sets the default system prompt.
func WithInstructions(instructions string) ClientOption {
	return func(c *Client) { c.instructions = instructions }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func New(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey: apiKey,
		model:  DefaultModel,
		url:    defaultURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)}
	}
	return c
}

func (c *Client) PromptWithStream(_ context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.NewStreamingPromptOptions(c.instructions, opts...)

	messages := toOpenAIMessages(options.Instructions, options.History)
	if prompt != nil {
		messages = append(messages, openAIMessage{
			Type:    messageTypeMessage,
			Role:    messageRoleUser,
			Content: *prompt,
		})
	}

	return &Stream{client: c, messages: messages}
}
