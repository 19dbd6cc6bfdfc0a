package alert

import "sync"

// Summary 單次批次的統計，由 RunPass 回傳。
type Summary struct {
	Listed              int `json:"listed"`
	Evaluated           int `json:"evaluated"`
	Fired               int `json:"fired"`
	Notified            int `json:"notified"`
	FailedLookup        int `json:"failed_lookup"`
	FailedNotify        int `json:"failed_notify"`
	Invalid             int `json:"invalid"`
	Superseded          int `json:"superseded"`
	StoreErrors         int `json:"store_errors"`
	CommentaryFallbacks int `json:"commentary_fallbacks"`
}

// tally 批次內的計數器，並行處理時共用。
type tally struct {
	mu sync.Mutex
	s  Summary
}

func (t *tally) add(fn func(s *Summary)) {
	t.mu.Lock()
	fn(&t.s)
	t.mu.Unlock()
}

func (t *tally) snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}
