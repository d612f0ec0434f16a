package groq

import (
	"context"
	"net/http"

	"github.com/koscakluka/ema-voice/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultModel = "llama-3.3-70b-versatile"

	defaultURL = "https://api.groq.com/openai/v1/chat/completions"
)

// Client streams chat completions from Groq.
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

// WithURL overrides the chat completions endpoint.
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

	messages := toMessages(options.Instructions, options.History)
	if prompt != nil {
		messages = append(messages, message{
			Role:    messageRoleUser,
			Content: *prompt,
		})
	}

	return &Stream{client: c, messages: messages}
}
