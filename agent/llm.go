package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Provider selects the reasoning-service API.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderOpenAI Provider = "openai"
)

const (
	ClaudeURL = "https://api.anthropic.com/v1/messages"
	OpenAIURL = "https://api.openai.com/v1/chat/completions"

	anthropicVersion = "2023-06-01"
)

// ClientConfig holds LLM client configuration.
type ClientConfig struct {
	Provider    Provider      `yaml:"provider" json:"provider"`
	APIKey      string        `yaml:"-" json:"-"`
	BaseURL     string        `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Provider:    ProviderOpenAI,
		MaxTokens:   4096,
		Temperature: 0.3,
		Timeout:     60 * time.Second,
	}
}

// Request is one completion call.
type Request struct {
	Model  string
	System string
	Prompt string
}

// Completion is the reply text and the tokens it was billed for.
type Completion struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// LLM is anything that can answer a Request.
type LLM interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// HTTPError is a non-2xx reply from the service.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("LLM API error (status %d): %s", e.Status, e.Message)
}

// Transient reports whether err is worth one more attempt: timeouts,
// dropped connections, rate limiting and server errors.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status == http.StatusTooManyRequests || he.Status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Client is the LLM API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

func NewClient(config ClientConfig) *Client {
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultClientConfig().MaxTokens
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

func (c *Client) Provider() Provider { return c.config.Provider }

func (c *Client) IsConfigured() bool { return c.config.APIKey != "" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends one request to the configured provider.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	switch c.config.Provider {
	case ProviderClaude:
		return c.completeClaude(ctx, req)
	case ProviderOpenAI:
		return c.completeOpenAI(ctx, req)
	default:
		return Completion{}, fmt.Errorf("unsupported provider: %s", c.config.Provider)
	}
}

func (c *Client) completeClaude(ctx context.Context, req Request) (Completion, error) {
	body := claudeRequest{
		Model:       req.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		System:      req.System,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
	}
	headers := map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var resp claudeResponse
	status, err := c.post(ctx, c.url(ClaudeURL), headers, body, &resp)
	if err != nil {
		return Completion{}, err
	}
	if resp.Error != nil || status/100 != 2 {
		msg := http.StatusText(status)
		if resp.Error != nil {
			msg = resp.Error.Type + " - " + resp.Error.Message
		}
		return Completion{}, &HTTPError{Status: status, Message: msg}
	}

	out := Completion{TokensIn: resp.Usage.InputTokens, TokensOut: resp.Usage.OutputTokens}
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.Text += block.Text
		}
	}
	if out.Text == "" {
		return out, errors.New("empty response from Claude")
	}
	return out, nil
}

func (c *Client) completeOpenAI(ctx context.Context, req Request) (Completion, error) {
	body := openAIRequest{
		Model: req.Model,
		Messages: []message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:      c.config.MaxTokens,
		Temperature:    c.config.Temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	headers := map[string]string{"Authorization": "Bearer " + c.config.APIKey}

	var resp openAIResponse
	status, err := c.post(ctx, c.url(OpenAIURL), headers, body, &resp)
	if err != nil {
		return Completion{}, err
	}
	if resp.Error != nil || status/100 != 2 {
		msg := http.StatusText(status)
		if resp.Error != nil {
			msg = resp.Error.Type + " - " + resp.Error.Message
		}
		return Completion{}, &HTTPError{Status: status, Message: msg}
	}

	out := Completion{TokensIn: resp.Usage.PromptTokens, TokensOut: resp.Usage.CompletionTokens}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return out, errors.New("empty response from OpenAI")
	}
	out.Text = resp.Choices[0].Message.Content
	return out, nil
}

func (c *Client) url(def string) string {
	if c.config.BaseURL != "" {
		return c.config.BaseURL
	}
	return def
}

// post sends body as JSON and decodes the reply into out. A reply that is
// not JSON surfaces as an HTTPError carrying the raw body.
func (c *Client) post(ctx context.Context, url string, headers map[string]string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, &HTTPError{Status: resp.StatusCode, Message: string(raw)}
	}
	return resp.StatusCode, nil
}
