package generation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/devdenneg/chupik/common/redact"
	"github.com/devdenneg/chupik/common/retry"
	"github.com/devdenneg/chupik/common/version"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultTimeout     = 30 * time.Second
	defaultMaxTokens   = 400
	defaultTemperature = 0.8
	defaultRPS         = 2
)

// Config configures the OpenAI-compatible chat completions client.
type Config struct {
	// APIKey is the bearer token sent with every request.
	APIKey string

	// BaseURL overrides the API endpoint, for local or self-hosted
	// OpenAI-compatible servers. Defaults to https://api.openai.com/v1.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// Timeout bounds each HTTP round trip. A timeout is a failed attempt.
	// Defaults to 30 s.
	Timeout time.Duration

	MaxTokens   int
	Temperature float64

	// RequestsPerSecond caps the outbound request rate across all
	// conversations. Defaults to 2.
	RequestsPerSecond float64

	// Retry controls attempts on 429, 5xx and transport errors.
	Retry retry.Config

	// Budget, when set, meters completion usage per Request.BudgetKey.
	Budget *TokenBudget

	// Now is the clock used for budget accounting. Defaults to time.Now.
	Now func() time.Time
}

// Client implements Provider against an OpenAI-compatible API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

var _ Provider = (*Client)(nil)

// NewClient returns a Client with zero-valued fields defaulted.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRPS
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

// --- minimal chat completions wire types ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate sends the request and returns the trimmed reply text.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c.cfg.Budget != nil && req.BudgetKey != "" && !c.cfg.Budget.AllowAt(req.BudgetKey, c.cfg.Now()) {
		return "", ErrBudgetExceeded
	}

	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    buildMessages(req),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		body.Temperature = req.Temperature
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("generation: marshal request: %w", err)
	}

	resp, err := retry.Value(ctx, c.cfg.Retry, func() (*chatResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(fmt.Errorf("generation: rate limiter: %w", err))
		}
		return c.do(ctx, data)
	})
	if err != nil {
		return "", err
	}

	if resp.Usage != nil && c.cfg.Budget != nil && req.BudgetKey != "" {
		c.cfg.Budget.RecordAt(req.BudgetKey, resp.Usage.TotalTokens, c.cfg.Now())
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func buildMessages(req Request) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, t := range req.History {
		role := t.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		msgs = append(msgs, chatMessage{Role: role, Content: t.Content})
	}
	if req.UserMessage != "" {
		msgs = append(msgs, chatMessage{Role: RoleUser, Content: req.UserMessage})
	}
	return msgs
}

// do performs one HTTP round trip. Client errors other than 429 are
// permanent; everything else may be retried.
func (c *Client) do(ctx context.Context, data []byte) (*chatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("generation: create http request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation: http request: %s", redact.Error(err, c.cfg.APIKey))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("generation: read response body: %w", err)
	}
	slog.Debug("generation: response received", "status", resp.StatusCode, "latency_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimit
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("generation: upstream status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, retry.Permanent(fmt.Errorf("generation: upstream status %d: %.200s", resp.StatusCode, redact.String(string(raw), c.cfg.APIKey)))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, retry.Permanent(fmt.Errorf("generation: decode response: %w", err))
	}
	if out.Error != nil {
		return nil, retry.Permanent(fmt.Errorf("generation: API error (%s): %s", out.Error.Type, out.Error.Message))
	}
	return &out, nil
}
