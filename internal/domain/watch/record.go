package watch

import (
	"errors"
	"time"
)

// ThresholdKind 觸發方向。
type ThresholdKind string

const (
	KindUpper ThresholdKind = "upper"
	KindLower ThresholdKind = "lower"
)

// EvaluationRecord 觸發紀錄，只新增不修改。
type EvaluationRecord struct {
	ID            string
	WatchID       string
	UserID        string
	Ticker        string
	BasePrice     float64
	ObservedPrice float64
	ChangeRate    float64
	ThresholdKind ThresholdKind
	Notified      bool
	EvaluatedAt   time.Time
}

// Validate 基本欄位檢查。
func (r EvaluationRecord) Validate() error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	if r.WatchID == "" || r.UserID == "" {
		return errors.New("watch id and user id are required")
	}
	switch r.ThresholdKind {
	case KindUpper, KindLower:
	default:
		return errors.New("unsupported threshold kind")
	}
	if r.EvaluatedAt.IsZero() {
		return errors.New("evaluated_at is required")
	}
	return nil
}
