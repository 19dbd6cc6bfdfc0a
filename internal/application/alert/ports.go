package alert

import (
	"context"
	"errors"
	"time"

	"stock-alarm/internal/domain/market"
	"stock-alarm/internal/domain/user"
	"stock-alarm/internal/domain/watch"
)

var (
	// ErrAlreadyTransitioned 監控已非 active（先前或並行的批次已處理）。
	ErrAlreadyTransitioned = errors.New("watch already transitioned")
	// ErrPassInProgress 另一個批次正在執行。
	ErrPassInProgress = errors.New("evaluation pass already in progress")
	// ErrInterrupted 批次因 context 取消而提前結束；已完成的監控仍有效。
	ErrInterrupted = errors.New("pass interrupted")
	// ErrStoreUnavailable 無法列出 active 監控，整個批次未執行。
	ErrStoreUnavailable = errors.New("watch store unavailable")
)

// ActiveWatch 待評估的監控與其擁有者。
type ActiveWatch struct {
	Watch watch.Watch
	Owner user.User
}

// TransitionResult 狀態轉換結果。
type TransitionResult string

const (
	Committed           TransitionResult = "committed"
	AlreadyTransitioned TransitionResult = "already_transitioned"
)

// WatchStore 引擎所需的持久層操作。
type WatchStore interface {
	ListActiveWatches(ctx context.Context) ([]ActiveWatch, error)
	// LockWatch 取得單一監控的列鎖並重新讀取；非 active 時回傳 ErrAlreadyTransitioned。
	LockWatch(ctx context.Context, watchID string) (WatchTx, watch.Watch, error)
}

// WatchTx 持有單一監控鎖的交易；Commit 前的寫入不可見。
type WatchTx interface {
	TryTransitionAndLog(ctx context.Context, watchID string, status watch.Status, triggeredAt time.Time, entry watch.EvaluationRecord) (TransitionResult, error)
	AppendLog(ctx context.Context, entry watch.EvaluationRecord) error
	Commit() error
	Rollback() error
}

// PriceLookup 查詢報價；失敗時回傳 market.ErrTickerNotFound 或 market.ErrUnavailable。
type PriceLookup interface {
	GetQuote(ctx context.Context, ticker string) (market.Quote, error)
}

// MarketSummarizer 提供指數摘要，僅作為評論內容。
type MarketSummarizer interface {
	GetMarketSummary(ctx context.Context) (market.Summary, error)
}

// CommentaryContext 產生評論所需資訊。
type CommentaryContext struct {
	Ticker     string
	Name       string
	ChangeRate float64
	Kind       watch.ThresholdKind
	Market     market.Summary
}

// Commentator 產生投資評論，可能逾時或失敗。
type Commentator interface {
	Generate(ctx context.Context, in CommentaryContext) (string, error)
}

// Message 已渲染的通知內容。
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier 寄送通知；一般寄送失敗以 Delivery 回報，不回傳 error。
type Notifier interface {
	Send(ctx context.Context, msg Message) Delivery
}

// DeliveryStatus 寄送結果狀態。
type DeliveryStatus string

const (
	StatusDelivered    DeliveryStatus = "delivered"
	StatusFailed       DeliveryStatus = "failed"
	StatusNotAttempted DeliveryStatus = "not_attempted"
)

// Delivery 寄送結果。
type Delivery struct {
	Status DeliveryStatus
	Reason string
}

// Delivered 寄送成功。
func Delivered() Delivery { return Delivery{Status: StatusDelivered} }

// DeliveryFailed 已嘗試但失敗。
func DeliveryFailed(reason string) Delivery {
	return Delivery{Status: StatusFailed, Reason: reason}
}

// NotAttempted 未嘗試寄送（例如缺少收件者或設定）。
func NotAttempted(reason string) Delivery {
	return Delivery{Status: StatusNotAttempted, Reason: reason}
}

// OK 是否成功送達。
func (d Delivery) OK() bool { return d.Status == StatusDelivered }
