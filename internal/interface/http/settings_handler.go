package httpapi

import (
	"errors"
	"net/http"
	"time"

	"stock-alarm/internal/application/account"
	"stock-alarm/internal/domain/user"
	"stock-alarm/internal/domain/watch"

	"github.com/gin-gonic/gin"
)

type watchView struct {
	ID             string     `json:"id"`
	Ticker         string     `json:"ticker"`
	Name           string     `json:"name"`
	BasePrice      float64    `json:"base_price"`
	ThresholdUpper *float64   `json:"threshold_upper,omitempty"`
	ThresholdLower *float64   `json:"threshold_lower,omitempty"`
	Status         string     `json:"status"`
	TriggeredAt    *time.Time `json:"triggered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toWatchView(w watch.Watch) watchView {
	return watchView{
		ID:             w.ID,
		Ticker:         w.Ticker,
		Name:           w.DisplayName,
		BasePrice:      w.BasePrice,
		ThresholdUpper: w.ThresholdUpper,
		ThresholdLower: w.ThresholdLower,
		Status:         string(w.Status),
		TriggeredAt:    w.TriggeredAt,
		CreatedAt:      w.CreatedAt,
	}
}

type recordView struct {
	ID            string    `json:"id"`
	WatchID       string    `json:"watch_id"`
	Ticker        string    `json:"ticker"`
	BasePrice     float64   `json:"base_price"`
	ObservedPrice float64   `json:"observed_price"`
	ChangeRate    float64   `json:"change_rate"`
	ThresholdKind string    `json:"threshold_kind"`
	Notified      bool      `json:"notified"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var body struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, errCodeBadRequest, "invalid body")
		return
	}

	res, err := s.accounts.Register(c.Request.Context(), body.Email)
	if err != nil {
		s.writeAccountError(c, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	s.log.Info().Str("user_id", res.User.ID).Bool("created", res.Created).Bool("mail_sent", res.MailSent).Msg("user registered")
	c.JSON(status, gin.H{
		"success":      true,
		"user_id":      res.User.ID,
		"settings_url": res.SettingsURL,
		"created":      res.Created,
		"mail_sent":    res.MailSent,
	})
}

func (s *Server) handleSettings(c *gin.Context) {
	view, err := s.accounts.Settings(c.Request.Context(), c.Param("token"))
	if err != nil {
		s.writeAccountError(c, err)
		return
	}
	items := make([]watchView, 0, len(view.Watches))
	for _, w := range view.Watches {
		items = append(items, toWatchView(w))
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"email":   view.User.Email,
		"watches": items,
	})
}

func (s *Server) handleAddWatch(c *gin.Context) {
	var body struct {
		Ticker         string   `json:"ticker"`
		ThresholdUpper *float64 `json:"threshold_upper"`
		ThresholdLower *float64 `json:"threshold_lower"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, errCodeBadRequest, "invalid body")
		return
	}

	w, err := s.accounts.AddWatch(c.Request.Context(), c.Param("token"), account.AddWatchInput{
		Ticker:         body.Ticker,
		ThresholdUpper: body.ThresholdUpper,
		ThresholdLower: body.ThresholdLower,
	})
	if err != nil {
		s.writeAccountError(c, err)
		return
	}
	s.log.Info().Str("watch_id", w.ID).Str("ticker", w.Ticker).Float64("base_price", w.BasePrice).Msg("watch created")
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"watch":   toWatchView(w),
	})
}

func (s *Server) handleDisableWatch(c *gin.Context) {
	if err := s.accounts.DisableWatch(c.Request.Context(), c.Param("token"), c.Param("id")); err != nil {
		s.writeAccountError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"watch_id": c.Param("id"),
		"status":   string(watch.StatusInactive),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := parseIntDefault(c.Query("limit"), 50)
	records, err := s.accounts.History(c.Request.Context(), c.Param("token"), limit)
	if err != nil {
		s.writeAccountError(c, err)
		return
	}
	items := make([]recordView, 0, len(records))
	for _, r := range records {
		items = append(items, recordView{
			ID:            r.ID,
			WatchID:       r.WatchID,
			Ticker:        r.Ticker,
			BasePrice:     r.BasePrice,
			ObservedPrice: r.ObservedPrice,
			ChangeRate:    r.ChangeRate,
			ThresholdKind: string(r.ThresholdKind),
			Notified:      r.Notified,
			EvaluatedAt:   r.EvaluatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"total_count": len(items),
		"items":       items,
	})
}

func (s *Server) writeAccountError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, account.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, errCodeBadRequest, err.Error())
	case errors.Is(err, user.ErrNotFound):
		writeError(c, http.StatusNotFound, errCodeNotFound, "settings not found")
	case errors.Is(err, watch.ErrNotFound):
		writeError(c, http.StatusNotFound, errCodeNotFound, "watch not found")
	case errors.Is(err, watch.ErrNotActive):
		writeError(c, http.StatusConflict, errCodeConflict, "watch is not active")
	case errors.Is(err, account.ErrLookupFailed):
		writeError(c, http.StatusServiceUnavailable, errCodeUnavailable, "price lookup failed, try again later")
	default:
		s.log.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
		writeError(c, http.StatusInternalServerError, errCodeInternal, "internal error")
	}
}
