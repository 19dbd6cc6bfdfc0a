package httpapi

import (
	"net/http"
	"strings"
	"time"

	"stock-alarm/internal/infrastructure/db"
	"stock-alarm/internal/infrastructure/notify"

	"github.com/gin-gonic/gin"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "pong",
		"timestamp": time.Now().Unix(),
		"status":    "alive",
	})
}

// handleHealth 回報儲存層與寄信設定。DB 無法連線或 schema 未套用時回 503；
// 寄信未設定時仍回 200，但 health 為 degraded（觸發的監控會維持 active）。
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	health := "ok"
	body := gin.H{
		"store":  "memory",
		"db":     "using_memory",
		"schema": "n/a",
		"mail":   s.mailMode,
		"time":   time.Now().Format(time.RFC3339),
	}

	if s.db != nil {
		body["store"] = "postgres"
		ctx := c.Request.Context()
		if err := db.Ping(ctx, s.db); err != nil {
			body["db"] = "error: " + err.Error()
			body["schema"] = "unknown"
			status, health = http.StatusServiceUnavailable, "down"
		} else {
			body["db"] = "ok"
			missing, err := db.MissingTables(ctx, s.db)
			switch {
			case err != nil:
				body["schema"] = "error: " + err.Error()
				status, health = http.StatusServiceUnavailable, "down"
			case len(missing) > 0:
				body["schema"] = "missing: " + strings.Join(missing, ",")
				status, health = http.StatusServiceUnavailable, "down"
			default:
				body["schema"] = "ok"
			}
		}
	}

	if health == "ok" && s.mailMode == notify.ModeUnconfigured {
		health = "degraded"
	}
	body["success"] = status == http.StatusOK
	body["health"] = health
	c.JSON(status, body)
}
