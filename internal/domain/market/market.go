package market

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrTickerNotFound 查無此代號。
	ErrTickerNotFound = errors.New("ticker not found")
	// ErrUnavailable 資料來源暫時無法使用。
	ErrUnavailable = errors.New("market data unavailable")
)

var tickerPattern = regexp.MustCompile(`^\d{6}$`)

// ValidTicker 檢查代號格式（6 碼數字）。
func ValidTicker(ticker string) bool {
	return tickerPattern.MatchString(strings.TrimSpace(ticker))
}

// Quote 單一標的的最新報價。PrevClose、Volume、AvgVolume 可能為 0（來源未提供）。
type Quote struct {
	Ticker    string
	Name      string
	Market    string
	Price     float64
	PrevClose float64
	Volume    float64
	AvgVolume float64
}

// IndexSnapshot 指數收盤資訊。
type IndexSnapshot struct {
	Close      float64
	Change     float64
	ChangeRate float64
}

// Summary 市場指數摘要，查詢失敗時以零值代替。
type Summary struct {
	KOSPI  IndexSnapshot
	KOSDAQ IndexSnapshot
}
