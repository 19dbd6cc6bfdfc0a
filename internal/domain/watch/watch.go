package watch

import (
	"errors"
	"fmt"
	"time"

	"stock-alarm/internal/domain/market"
)

// Status 監控狀態。
type Status string

const (
	StatusActive    Status = "active"
	StatusTriggered Status = "triggered"
	StatusInactive  Status = "inactive"
)

// Valid 檢查是否為已知狀態。
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusTriggered, StatusInactive:
		return true
	}
	return false
}

// ErrNoThreshold 上下限皆未設定。
var ErrNoThreshold = errors.New("at least one threshold is required")

// Watch 使用者對單一代號設定的門檻。BasePrice 於建立時記錄，之後不可變。
// ThresholdUpper / ThresholdLower 為百分比，nil 表示未設定。
type Watch struct {
	ID             string
	UserID         string
	Ticker         string
	DisplayName    string
	BasePrice      float64
	ThresholdUpper *float64
	ThresholdLower *float64
	Status         Status
	TriggeredAt    *time.Time
	CreatedAt      time.Time
}

// Validate 檢查引擎假設成立的不變量。
func (w Watch) Validate() error {
	if w.ID == "" {
		return errors.New("id is required")
	}
	if w.UserID == "" {
		return errors.New("user id is required")
	}
	if w.Ticker == "" {
		return errors.New("ticker is required")
	}
	if w.BasePrice <= 0 {
		return fmt.Errorf("base price must be positive: %v", w.BasePrice)
	}
	if w.ThresholdUpper == nil && w.ThresholdLower == nil {
		return ErrNoThreshold
	}
	if !w.Status.Valid() {
		return fmt.Errorf("unsupported status: %s", w.Status)
	}
	return nil
}

// ValidateNew 建立時的額外檢查：代號格式與門檻方向。
func (w Watch) ValidateNew() error {
	if !market.ValidTicker(w.Ticker) {
		return fmt.Errorf("invalid ticker format: %q", w.Ticker)
	}
	if w.ThresholdUpper != nil && *w.ThresholdUpper <= 0 {
		return errors.New("upper threshold must be positive")
	}
	if w.ThresholdLower != nil && *w.ThresholdLower >= 0 {
		return errors.New("lower threshold must be negative")
	}
	return w.Validate()
}

// IsActive 是否仍需評估。
func (w Watch) IsActive() bool {
	return w.Status == StatusActive
}

// Conditions 回傳此監控實際評估的條件（目前僅相對建立價的百分比）。
func (w Watch) Conditions() []Condition {
	return []Condition{PercentFromBase{Upper: w.ThresholdUpper, Lower: w.ThresholdLower}}
}

var (
	// ErrNotFound 查無監控。
	ErrNotFound = errors.New("watch not found")
	// ErrNotActive 監控已非 active，無法再變更。
	ErrNotActive = errors.New("watch is not active")
)
