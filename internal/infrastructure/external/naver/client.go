package naver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// errNotFound 來源回傳 404。
var errNotFound = errors.New("naver: not found")

// Client 行動版報價 API 的封裝。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://m.stock.naver.com"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) call(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("naver api error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode naver response: %w", err)
	}
	return nil
}

// number 接受 "70,000" 或 70000 兩種格式。
type number struct {
	value float64
	set   bool
}

func (n *number) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	raw = strings.ReplaceAll(raw, ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("parse number %q: not finite", raw)
	}
	n.value, n.set = v, true
	return nil
}

// StockBasic /api/stock/{code}/basic 回應。
type StockBasic struct {
	ItemCode                    string `json:"itemCode"`
	StockName                   string `json:"stockName"`
	StockExchangeName           string `json:"stockExchangeName"`
	ClosePrice                  number `json:"closePrice"`
	CompareToPreviousClosePrice number `json:"compareToPreviousClosePrice"`
	FluctuationsRatio           number `json:"fluctuationsRatio"`
}

// IndexBasic /api/index/{code}/basic 回應。
type IndexBasic struct {
	IndexName                   string `json:"indexName"`
	ClosePrice                  number `json:"closePrice"`
	CompareToPreviousClosePrice number `json:"compareToPreviousClosePrice"`
	FluctuationsRatio           number `json:"fluctuationsRatio"`
}

func (c *Client) GetStockBasic(ctx context.Context, code string) (*StockBasic, error) {
	var res StockBasic
	if err := c.call(ctx, "/api/stock/"+code+"/basic", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetIndexBasic(ctx context.Context, index string) (*IndexBasic, error) {
	var res IndexBasic
	if err := c.call(ctx, "/api/index/"+index+"/basic", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
