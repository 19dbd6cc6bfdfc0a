package watch

import "stock-alarm/internal/domain/market"

// ConditionKind 條件種類。
type ConditionKind string

const (
	ConditionPercentFromBase   ConditionKind = "percent_from_base"
	ConditionAbsoluteLevel     ConditionKind = "absolute_level"
	ConditionPercentPriorClose ConditionKind = "percent_from_prior_close"
	ConditionVolumeMultiple    ConditionKind = "volume_multiple"
)

// Condition 可擴充的觸發條件，依監控設定與報價判斷是否觸發。
type Condition interface {
	Kind() ConditionKind
	Evaluate(w Watch, q market.Quote) Outcome
}

// PercentFromBase 相對建立價的漲跌幅門檻（%）。
type PercentFromBase struct {
	Upper *float64
	Lower *float64
}

func (PercentFromBase) Kind() ConditionKind { return ConditionPercentFromBase }

func (c PercentFromBase) Evaluate(w Watch, q market.Quote) Outcome {
	if w.BasePrice == 0 {
		return NoFire
	}
	return Evaluate(w.BasePrice, q.Price, c.Upper, c.Lower)
}

// AbsoluteLevel 絕對價位：價格 >= Above 或 <= Below。
type AbsoluteLevel struct {
	Above *float64
	Below *float64
}

func (AbsoluteLevel) Kind() ConditionKind { return ConditionAbsoluteLevel }

func (c AbsoluteLevel) Evaluate(_ Watch, q market.Quote) Outcome {
	if c.Above != nil && q.Price >= *c.Above {
		return FireUpper
	}
	if c.Below != nil && q.Price <= *c.Below {
		return FireLower
	}
	return NoFire
}

// PercentFromPriorClose 相對前一日收盤的漲跌幅門檻（%）。
type PercentFromPriorClose struct {
	Upper *float64
	Lower *float64
}

func (PercentFromPriorClose) Kind() ConditionKind { return ConditionPercentPriorClose }

func (c PercentFromPriorClose) Evaluate(_ Watch, q market.Quote) Outcome {
	if q.PrevClose == 0 {
		return NoFire
	}
	return Evaluate(q.PrevClose, q.Price, c.Upper, c.Lower)
}

// VolumeMultiple 成交量為均量的 Min 倍以上時觸發（視為上限方向）。
type VolumeMultiple struct {
	Min float64
}

func (VolumeMultiple) Kind() ConditionKind { return ConditionVolumeMultiple }

func (c VolumeMultiple) Evaluate(_ Watch, q market.Quote) Outcome {
	if c.Min <= 0 || q.AvgVolume == 0 {
		return NoFire
	}
	if q.Volume/q.AvgVolume >= c.Min {
		return FireUpper
	}
	return NoFire
}

// EvaluateConditions 逐一評估條件；任一上限方向觸發即優先回傳，與條件順序無關。
func EvaluateConditions(w Watch, q market.Quote, conds []Condition) Outcome {
	result := NoFire
	for _, c := range conds {
		switch c.Evaluate(w, q) {
		case FireUpper:
			return FireUpper
		case FireLower:
			result = FireLower
		}
	}
	return result
}
