package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stock-alarm/internal/application/alert"
)

// TelegramClient 提供簡單的 sendMessage API 封裝，用於推送批次摘要給維運人員。
type TelegramClient struct {
	token      string
	chatID     int64
	prefix     string
	baseURL    string
	httpClient *http.Client
}

func NewTelegramClient(token string, chatID int64, prefix string) *TelegramClient {
	return &TelegramClient{
		token:   token,
		chatID:  chatID,
		prefix:  prefix,
		baseURL: "https://api.telegram.org",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendMessage 將文字訊息推送到指定 chat。
func (c *TelegramClient) SendMessage(ctx context.Context, text string) error {
	if c == nil {
		return fmt.Errorf("telegram client is nil")
	}
	if c.token == "" || c.chatID == 0 {
		return fmt.Errorf("telegram token or chat_id missing")
	}

	fullText := text
	if c.prefix != "" {
		fullText = fmt.Sprintf("[%s] %s", c.prefix, text)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"chat_id": c.chatID,
		"text":    fullText,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram send failed status=%d body=%s", resp.StatusCode, string(raw))
	}
	return nil
}

// ReportPass 實作 alert.PassReporter，推送批次統計。
func (c *TelegramClient) ReportPass(ctx context.Context, s alert.Summary, elapsed time.Duration, err error) error {
	return c.SendMessage(ctx, FormatPassSummary(s, elapsed, err))
}

// FormatPassSummary 批次摘要的文字格式。
func FormatPassSummary(s alert.Summary, elapsed time.Duration, err error) string {
	var b strings.Builder
	if err != nil {
		fmt.Fprintf(&b, "evaluation pass failed: %v\n", err)
	} else {
		b.WriteString("evaluation pass finished\n")
	}
	fmt.Fprintf(&b, "listed=%d evaluated=%d fired=%d notified=%d\n", s.Listed, s.Evaluated, s.Fired, s.Notified)
	fmt.Fprintf(&b, "failed_lookup=%d failed_notify=%d invalid=%d store_errors=%d\n", s.FailedLookup, s.FailedNotify, s.Invalid, s.StoreErrors)
	fmt.Fprintf(&b, "elapsed=%s", elapsed.Round(time.Millisecond))
	return b.String()
}

var _ alert.PassReporter = (*TelegramClient)(nil)
