package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stock-alarm/internal/application/alert"
	"stock-alarm/internal/infrastructure/config"

	"github.com/rs/zerolog"
)

var (
	// ErrNotConfigured 未設定 API key。
	ErrNotConfigured = errors.New("llm api key not configured")
	// ErrAuth 認證失敗，不重試。
	ErrAuth = errors.New("llm authentication failed")
	// ErrEmptyResponse 回應沒有內容。
	ErrEmptyResponse = errors.New("llm returned empty content")
)

const systemPrompt = "You are a stock market analyst. Answer objectively and concisely."

// Client OpenAI 相容的 chat completion 客戶端，實作 alert.Commentator。
type Client struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	baseDelay  time.Duration
	log        zerolog.Logger
}

func NewClient(cfg config.LLMConfig, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseDelay:  time.Second,
		log:        log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// retryable 可重試的錯誤（連線、429、5xx）。
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// Generate 產生評論；暫時性錯誤以指數退避重試，並遵守 ctx 期限。
func (c *Client) Generate(ctx context.Context, in alert.CommentaryContext) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrNotConfigured
	}
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(in)},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<(attempt-1))
			c.log.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying commentary request")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, err := c.complete(ctx, req)
		if err == nil {
			return text, nil
		}
		var r retryable
		if !errors.As(err, &r) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("commentary failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Client) complete(ctx context.Context, payload chatRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", retryable{err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", retryable{fmt.Errorf("llm api status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("llm api status %d: %s", resp.StatusCode, string(raw))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	c.log.Debug().Int("total_tokens", out.Usage.TotalTokens).Msg("commentary generated")
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// BuildPrompt 依觸發資訊組出 user prompt。
func BuildPrompt(in alert.CommentaryContext) string {
	return fmt.Sprintf(`Write a short investment comment based on the following.

Stock: %s (%s)
Change from registered price: %+.2f%%
Threshold: %s
KOSPI: %.2f (%+.2f%%), KOSDAQ: %.2f (%+.2f%%)

Requirements: 3-5 sentences, factual, no investment recommendation.`,
		in.Name, in.Ticker, in.ChangeRate, alert.Direction(in.Kind),
		in.Market.KOSPI.Close, in.Market.KOSPI.ChangeRate,
		in.Market.KOSDAQ.Close, in.Market.KOSDAQ.ChangeRate)
}

var _ alert.Commentator = (*Client)(nil)
