package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"stock-alarm/internal/application/account"
	"stock-alarm/internal/application/alert"
	authinfra "stock-alarm/internal/infrastructure/auth"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	errCodeBadRequest   = "BAD_REQUEST"
	errCodeNotFound     = "NOT_FOUND"
	errCodeUnauthorized = "AUTH_UNAUTHORIZED"
	errCodeForbidden    = "AUTH_FORBIDDEN"
	errCodeConflict     = "CONFLICT"
	errCodeUnavailable  = "UNAVAILABLE"
	errCodeInternal     = "INTERNAL_ERROR"
)

// PassTrigger 手動觸發評估批次。
type PassTrigger interface {
	RunOnce(ctx context.Context) (alert.Summary, error)
}

// Deps HTTP 層依賴；DB 為 nil 代表使用記憶體 Store。
type Deps struct {
	DB       *sql.DB
	Accounts *account.Service
	Runner   PassTrigger
	Tokens   *authinfra.ServiceTokens
	MailMode string
	Log      zerolog.Logger
}

// Server 封裝 gin 路由與依賴。
type Server struct {
	router   *gin.Engine
	db       *sql.DB
	accounts *account.Service
	runner   PassTrigger
	tokens   *authinfra.ServiceTokens
	mailMode string
	log      zerolog.Logger
}

// NewServer 建立 API 伺服器並註冊路由。
func NewServer(deps Deps) *Server {
	s := &Server{
		router:   gin.New(),
		db:       deps.DB,
		accounts: deps.Accounts,
		runner:   deps.Runner,
		tokens:   deps.Tokens,
		mailMode: deps.MailMode,
		log:      deps.Log,
	}
	s.registerRoutes()
	return s
}

// Handler 回傳路由處理器，供 HTTP server 掛載。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(gin.Recovery(), s.ginLogger(), metricsMiddleware(), corsMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/ping", s.handlePing)
	api.GET("/health", s.handleHealth)
	api.POST("/users", s.handleRegister)

	settings := api.Group("/settings/:token")
	settings.GET("", s.handleSettings)
	settings.POST("/watches", s.handleAddWatch)
	settings.DELETE("/watches/:id", s.handleDisableWatch)
	settings.GET("/logs", s.handleHistory)

	admin := api.Group("/admin", s.requireService())
	admin.POST("/passes", s.handleRunPass)
}
