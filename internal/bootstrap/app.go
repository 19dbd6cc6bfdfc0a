package bootstrap

import (
	"database/sql"

	"stock-alarm/internal/application/account"
	"stock-alarm/internal/application/alert"
	"stock-alarm/internal/infra/memory"
	authinfra "stock-alarm/internal/infrastructure/auth"
	"stock-alarm/internal/infrastructure/config"
	"stock-alarm/internal/infrastructure/external/naver"
	"stock-alarm/internal/infrastructure/llm"
	"stock-alarm/internal/infrastructure/lock"
	"stock-alarm/internal/infrastructure/metrics"
	"stock-alarm/internal/infrastructure/notify"
	"stock-alarm/internal/infrastructure/persistence/postgres"

	"github.com/rs/zerolog"
)

// App 組裝完成的應用程式依賴，供 API 與批次指令共用。
type App struct {
	Config   config.Config
	DB       *sql.DB
	Memory   *memory.Store
	Accounts *account.Service
	Engine   *alert.Engine
	Runner   *alert.Runner
	Tokens   *authinfra.ServiceTokens
	// MailMode notify.ModeSMTP、notify.ModeLogOnly 或 notify.ModeUnconfigured。
	MailMode string

	closers []func() error
}

// New 依設定組裝依賴；db 為 nil 時改用記憶體 Store。
func New(cfg config.Config, db *sql.DB, log zerolog.Logger) *App {
	app := &App{Config: cfg, DB: db}

	var (
		users   account.UserRepository
		watches account.WatchRepository
		store   alert.WatchStore
	)
	if db != nil {
		repo := postgres.NewWatchRepo(db)
		users, watches, store = postgres.NewUserRepo(db), repo, repo
	} else {
		app.Memory = memory.NewStore()
		users, watches, store = app.Memory, app.Memory, app.Memory
	}

	quotes := naver.NewQuoteAdapter(naver.NewClient(cfg.Market.BaseURL, cfg.Market.Timeout))

	var commentary alert.Commentator
	if cfg.LLM.APIKey != "" {
		commentary = llm.NewClient(cfg.LLM, log.With().Str("component", "llm").Logger())
	} else {
		log.Info().Msg("no LLM api key configured; notifications use fallback commentary")
	}

	mailLog := log.With().Str("component", "mail").Logger()
	var notifier alert.Notifier
	if cfg.Mail.LogOnly {
		log.Warn().Msg("mail log_only enabled; notifications are logged and treated as delivered")
		notifier = notify.NewLogNotifier(mailLog, true)
		app.MailMode = notify.ModeLogOnly
	} else {
		email := notify.NewEmailNotifier(cfg.Mail, mailLog)
		app.MailMode = notify.ModeSMTP
		if !email.Configured() {
			log.Warn().Msg("mail credentials missing; fired watches stay active until mail is configured")
			app.MailMode = notify.ModeUnconfigured
		}
		notifier = email
	}

	app.Engine = alert.NewEngine(store, quotes, quotes, commentary, notifier, alert.Options{
		Concurrency:       cfg.Engine.Concurrency,
		LookupTimeout:     cfg.Engine.LookupTimeout,
		CommentaryTimeout: cfg.Engine.CommentaryTimeout,
		NotifyTimeout:     cfg.Engine.NotifyTimeout,
		StoreTimeout:      cfg.Engine.StoreTimeout,
		BaseURL:           cfg.App.BaseURL,
		Brand:             cfg.App.Brand,
	}, log.With().Str("component", "engine").Logger())

	var locker alert.PassLocker
	if cfg.Redis.Addr != "" {
		client := lock.NewRedisClient(cfg.Redis.Addr)
		app.closers = append(app.closers, client.Close)
		locker = lock.NewRedisLocker(client, cfg.Redis.LockTTL, log.With().Str("component", "lock").Logger())
	}

	var reporter alert.PassReporter
	tg := cfg.Notifier.Telegram
	if tg.Enabled && tg.Token != "" && tg.ChatID != 0 {
		reporter = notify.NewTelegramClient(tg.Token, tg.ChatID, tg.Prefix)
	}

	app.Runner = alert.NewRunner(app.Engine, locker, metrics.NewPassObserver(), reporter, log.With().Str("component", "runner").Logger())
	app.Accounts = account.NewService(users, watches, quotes, notifier, cfg.App.BaseURL, log.With().Str("component", "account").Logger())
	app.Tokens = authinfra.NewServiceTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	return app
}

// Close 釋放外部連線（不含 DB，由呼叫端管理）。
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
