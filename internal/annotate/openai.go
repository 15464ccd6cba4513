package annotate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Prompt is one text-in/JSON-out request
type Prompt struct {
	// Kind names the call for logs and metrics: annotate, analyze_full, correct_speakers
	Kind        string
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completer is the language analysis provider boundary
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// OpenAICompleter implements Completer against any OpenAI-compatible chat
// completions endpoint using JSON response mode
type OpenAICompleter struct {
	client oai.Client
	model  string
}

// OpenAIOption configures the completer
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// WithBaseURL overrides the API base URL
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *openAIConfig) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openAIConfig) { c.httpClient = hc }
}

// NewOpenAICompleter creates a completer. Retries are left to the caller.
func NewOpenAICompleter(apiKey, model string, opts ...OpenAIOption) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &openAIConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &OpenAICompleter{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete sends the prompt and returns the raw message content
func (c *OpenAICompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(p.System),
			oai.UserMessage(p.User),
		},
		Temperature: oai.Float(p.Temperature),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if p.MaxTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(p.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: %s: %w", p.Kind, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: %s: response has no choices", p.Kind)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" && resp.Choices[0].Message.Refusal != "" {
		return "", fmt.Errorf("openai: %s: refused: %s", p.Kind, resp.Choices[0].Message.Refusal)
	}
	return content, nil
}
