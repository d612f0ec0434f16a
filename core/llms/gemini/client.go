package gemini

import (
	"context"
	"fmt"
	"net/http"

	"github.com/koscakluka/ema-voice/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

// Client streams responses from the Gemini API.
type Client struct {
	model        string
	instructions string
	baseURL      string
	httpClient   *http.Client

	genai *genai.Client
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithInstructions sets the default system prompt.
func WithInstructions(instructions string) ClientOption {
	return func(c *Client) { c.instructions = instructions }
}

// WithBaseURL overrides the Gemini API endpoint.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func New(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	c := &Client{model: DefaultModel}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  c.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: c.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("error creating gemini client: %w", err)
	}
	c.genai = client
	return c, nil
}

func (c *Client) PromptWithStream(_ context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.NewStreamingPromptOptions(c.instructions, opts...)

	contents := toContents(options.History)
	if prompt != nil {
		contents = append(contents, genai.NewContentFromText(*prompt, genai.RoleUser))
	}

	var config *genai.GenerateContentConfig
	if options.Instructions != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(options.Instructions, genai.RoleUser),
		}
	}

	return &Stream{client: c, contents: contents, config: config}
}

func toContents(history []llms.Message) []*genai.Content {
	contents := []*genai.Content{}
	for _, message := range history {
		if message.Content == "" {
			continue
		}
		switch message.Role {
		case llms.MessageRoleAssistant:
			contents = append(contents, genai.NewContentFromText(message.Content, genai.RoleModel))
		default:
			// Only one system instruction is accepted, so system history is
			// sent as user turns.
			contents = append(contents, genai.NewContentFromText(message.Content, genai.RoleUser))
		}
	}
	return contents
}
