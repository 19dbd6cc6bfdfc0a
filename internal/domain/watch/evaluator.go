package watch

// Outcome 門檻評估結果。
type Outcome string

const (
	NoFire    Outcome = "no_fire"
	FireUpper Outcome = "fire_upper"
	FireLower Outcome = "fire_lower"
)

// Fired 是否觸發。
func (o Outcome) Fired() bool {
	return o == FireUpper || o == FireLower
}

// Kind 對應紀錄中的方向；未觸發時回傳空字串。
func (o Outcome) Kind() ThresholdKind {
	switch o {
	case FireUpper:
		return KindUpper
	case FireLower:
		return KindLower
	}
	return ""
}

// ChangeRate 計算相對 base 的漲跌幅（%）。呼叫端需保證 base 不為 0。
func ChangeRate(base, observed float64) float64 {
	return (observed - base) / base * 100
}

// Evaluate 依上下限判斷是否觸發；兩者同時成立時上限優先。
func Evaluate(base, observed float64, upper, lower *float64) Outcome {
	return evaluateRate(ChangeRate(base, observed), upper, lower)
}

func evaluateRate(rate float64, upper, lower *float64) Outcome {
	if upper != nil && rate >= *upper {
		return FireUpper
	}
	if lower != nil && rate <= *lower {
		return FireLower
	}
	return NoFire
}
