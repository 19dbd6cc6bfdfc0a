package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"stock-alarm/internal/application/alert"

	"github.com/gin-gonic/gin"
)

// handleRunPass 同步執行一次評估批次；呼叫端中斷連線不會取消批次。
func (s *Server) handleRunPass(c *gin.Context) {
	if s.runner == nil {
		writeError(c, http.StatusServiceUnavailable, errCodeUnavailable, "evaluation runner not configured")
		return
	}

	start := time.Now()
	s.log.Info().Str("subject", c.GetString("subject")).Msg("manual evaluation pass requested")
	summary, err := s.runner.RunOnce(context.WithoutCancel(c.Request.Context()))
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, alert.ErrPassInProgress):
		writeError(c, http.StatusConflict, errCodeConflict, "evaluation pass already running")
		return
	case errors.Is(err, alert.ErrStoreUnavailable):
		writeError(c, http.StatusServiceUnavailable, errCodeUnavailable, "watch store unavailable")
		return
	case alert.IsInterrupted(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success":    false,
			"error":      "evaluation pass interrupted",
			"error_code": errCodeUnavailable,
			"summary":    summary,
		})
		return
	case err != nil:
		s.log.Error().Err(err).Msg("manual evaluation pass failed")
		writeError(c, http.StatusInternalServerError, errCodeInternal, "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"summary":    summary,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}
