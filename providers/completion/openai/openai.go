package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/leofalp/stategraph/providers/observability"
	"github.com/leofalp/stategraph/providers/webpage"
	"github.com/leofalp/stategraph/research"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultModel    = "gpt-4o-mini"
	defaultTimeout  = 2 * time.Minute
	chatEndpoint    = "/chat/completions"
	maxErrorPreview = 500
)

var _ research.Completion = (*Client)(nil)

// ErrMissingAPIKey is returned by Complete when no key was configured.
var ErrMissingAPIKey = errors.New("API key is not set")

// Client implements research.Completion with single-turn chat requests.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	systemPrompt string
	temperature  *float64
	maxTokens    *int
	httpClient   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey overrides OPENAI_API_KEY.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithBaseURL overrides OPENAI_API_BASE_URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithModel sets the model name sent with every request.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithSystemPrompt prepends a system message to every prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) {
		c.systemPrompt = prompt
	}
}

// WithTemperature sets the sampling temperature. Unset, the server default applies.
func WithTemperature(temperature float64) Option {
	return func(c *Client) {
		c.temperature = &temperature
	}
}

// WithMaxTokens caps the completion length (max_completion_tokens).
func WithMaxTokens(tokens int) Option {
	return func(c *Client) {
		c.maxTokens = &tokens
	}
}

// WithHTTPClient replaces the default client with its two minute timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// New reads the environment defaults and applies opts.
func New(opts ...Option) *Client {
	c := &Client{
		apiKey:     os.Getenv("OPENAI_API_KEY"),
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	if baseURL := os.Getenv("OPENAI_API_BASE_URL"); baseURL != "" {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_completion_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// Complete sends prompt as a user message and returns the first choice with
// any <think> reasoning block removed. Rate limits and server errors come
// back as a temporary *webpage.StatusError.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	request := chatRequest{Model: c.model, Temperature: c.temperature, MaxTokens: c.maxTokens}
	if c.systemPrompt != "" {
		request.Messages = append(request.Messages, chatMessage{Role: "system", Content: c.systemPrompt})
	}
	request.Messages = append(request.Messages, chatMessage{Role: "user", Content: prompt})

	var span observability.Span
	observer := observability.ObserverFromContext(ctx)
	if observer != nil {
		ctx, span = observer.StartSpan(ctx, observability.SpanCompletion,
			observability.String(observability.AttrCompletionModel, c.model),
		)
		defer span.End()
	}

	response, err := c.post(ctx, request)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(observability.StatusError, err.Error())
		}
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response from model %q", c.model)
	}
	choice := response.Choices[0]
	if choice.Message.Content == "" && choice.Message.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", choice.Message.Refusal)
	}

	if span != nil {
		attrs := []observability.Attribute{
			observability.String(observability.AttrCompletionFinishReason, choice.FinishReason),
		}
		if response.Usage != nil {
			attrs = append(attrs, observability.Int(observability.AttrCompletionTokens, response.Usage.TotalTokens))
		}
		span.SetAttributes(attrs...)
		span.SetStatus(observability.StatusOK, "")
	}
	return cleanThinkTags(choice.Message.Content), nil
}

func (c *Client) post(ctx context.Context, request chatRequest) (*chatResponse, error) {
	url := c.baseURL + chatEndpoint
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("error marshaling body: %w", err)
	}

	span := observability.SpanFromContext(ctx)
	if span != nil {
		span.AddEvent("http.request.prepared",
			observability.String(observability.AttrHTTPMethod, http.MethodPost),
			observability.String(observability.AttrHTTPURL, url),
			observability.Int(observability.AttrHTTPRequestBodySize, len(body)),
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer func() {
		if closeErr := res.Body.Close(); closeErr != nil {
			if observer := observability.ObserverFromContext(ctx); observer != nil {
				observer.Warn(ctx, "failed to close response body",
					observability.String(observability.AttrHTTPURL, url),
					observability.Error(closeErr),
				)
			}
		}
	}()

	responseBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	if span != nil {
		span.AddEvent("http.response.received",
			observability.Int(observability.AttrHTTPStatusCode, res.StatusCode),
			observability.Int(observability.AttrHTTPResponseBodySize, len(responseBody)),
			observability.Duration(observability.AttrDuration, time.Since(start)),
		)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("completion request failed: %w: %s", &webpage.StatusError{
			URL:        url,
			StatusCode: res.StatusCode,
			Status:     http.StatusText(res.StatusCode),
		}, observability.TruncateString(string(responseBody), maxErrorPreview))
	}

	var response chatResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return nil, fmt.Errorf("error unmarshaling completion response (status %d): %w\nResponse preview: %s",
			res.StatusCode, err, observability.TruncateString(string(responseBody), maxErrorPreview))
	}
	return &response, nil
}

// cleanThinkTags removes a <think>...</think> reasoning block some models
// put before their answer. Without the closing tag the content is kept.
func cleanThinkTags(content string) string {
	const startTag, endTag = "<think>", "</think>"
	end := strings.Index(content, endTag)
	if end == -1 {
		return strings.TrimSpace(content)
	}
	start := strings.Index(content, startTag)
	if start == -1 || start > end {
		start = 0
	}
	return strings.TrimSpace(content[:start] + content[end+len(endTag):])
}
