package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stock-alarm/internal/application/alert"
	"stock-alarm/internal/domain/market"
	"stock-alarm/internal/domain/user"
	"stock-alarm/internal/domain/watch"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidInput 輸入格式錯誤。
	ErrInvalidInput = errors.New("invalid input")
	// ErrLookupFailed 建立監控時無法取得報價。
	ErrLookupFailed = errors.New("price lookup failed")
)

// UserRepository 使用者存取。
type UserRepository interface {
	// CreateOrGetUser 以 email 為鍵；已存在時回傳原資料（含原 token）且 created=false。
	CreateOrGetUser(ctx context.Context, candidate user.User) (user.User, bool, error)
	FindUserByToken(ctx context.Context, token string) (user.User, error)
}

// WatchRepository 監控與紀錄存取。
type WatchRepository interface {
	CreateWatch(ctx context.Context, w watch.Watch) error
	ListWatchesByUser(ctx context.Context, userID string) ([]watch.Watch, error)
	DisableWatch(ctx context.Context, userID, watchID string) error
	ListRecordsByUser(ctx context.Context, userID string, limit int) ([]watch.EvaluationRecord, error)
}

// QuoteLookup 查詢報價以記錄建立價。
type QuoteLookup interface {
	GetQuote(ctx context.Context, ticker string) (market.Quote, error)
}

// Service 註冊與監控管理。
type Service struct {
	users    UserRepository
	watches  WatchRepository
	quotes   QuoteLookup
	mailer   alert.Notifier
	baseURL  string
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
	newToken func() string
}

// NewService 建立帳號服務；mailer 可為 nil（不寄送歡迎信）。
func NewService(users UserRepository, watches WatchRepository, quotes QuoteLookup, mailer alert.Notifier, baseURL string, log zerolog.Logger) *Service {
	return &Service{
		users:    users,
		watches:  watches,
		quotes:   quotes,
		mailer:   mailer,
		baseURL:  baseURL,
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
		newToken: uuid.NewString,
	}
}

// RegisterResult 註冊結果。
type RegisterResult struct {
	User        user.User
	Created     bool
	MailSent    bool
	SettingsURL string
}

// Register 以 email 註冊；已註冊者沿用原 token 並重新寄送設定頁連結。
func (s *Service) Register(ctx context.Context, email string) (RegisterResult, error) {
	email = user.NormalizeEmail(email)
	if err := user.ValidateEmail(email); err != nil {
		return RegisterResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	u, created, err := s.users.CreateOrGetUser(ctx, user.User{
		ID:          s.newID(),
		Email:       email,
		AccessToken: s.newToken(),
		CreatedAt:   s.now(),
	})
	if err != nil {
		return RegisterResult{}, fmt.Errorf("register user: %w", err)
	}

	res := RegisterResult{
		User:        u,
		Created:     created,
		SettingsURL: u.SettingsURL(s.baseURL),
	}
	if s.mailer != nil {
		d := s.mailer.Send(ctx, welcomeMessage(u.Email, res.SettingsURL, created))
		res.MailSent = d.OK()
		if !d.OK() {
			s.log.Warn().Str("user_id", u.ID).Str("reason", d.Reason).Msg("welcome mail not delivered")
		}
	}
	return res, nil
}

func welcomeMessage(to, settingsURL string, created bool) alert.Message {
	greeting := "Welcome to Stock Alarm."
	if !created {
		greeting = "Here is your Stock Alarm settings link again."
	}
	body := greeting + "\n\n" +
		"Add tickers and thresholds on your settings page. We check prices once every business day " +
		"after the market closes and email you when a threshold is reached.\n\n" +
		"Settings: " + settingsURL + "\n\n" +
		"Keep this link private; anyone with it can manage your alerts.\n"
	return alert.Message{To: to, Subject: "[Stock Alarm] Your settings link", Body: body}
}

// SettingsView 設定頁資料。
type SettingsView struct {
	User    user.User
	Watches []watch.Watch
}

// Settings 以 token 取得使用者與其監控。
func (s *Service) Settings(ctx context.Context, token string) (SettingsView, error) {
	u, err := s.userByToken(ctx, token)
	if err != nil {
		return SettingsView{}, err
	}
	list, err := s.watches.ListWatchesByUser(ctx, u.ID)
	if err != nil {
		return SettingsView{}, fmt.Errorf("list watches: %w", err)
	}
	return SettingsView{User: u, Watches: list}, nil
}

// AddWatchInput 新增監控參數，門檻為百分比。
type AddWatchInput struct {
	Ticker         string
	ThresholdUpper *float64
	ThresholdLower *float64
}

// AddWatch 以即時報價記錄建立價並新增監控；查價失敗則不建立。
func (s *Service) AddWatch(ctx context.Context, token string, in AddWatchInput) (watch.Watch, error) {
	u, err := s.userByToken(ctx, token)
	if err != nil {
		return watch.Watch{}, err
	}

	ticker := strings.TrimSpace(in.Ticker)
	if !market.ValidTicker(ticker) {
		return watch.Watch{}, fmt.Errorf("%w: ticker must be 6 digits", ErrInvalidInput)
	}
	if in.ThresholdUpper == nil && in.ThresholdLower == nil {
		return watch.Watch{}, fmt.Errorf("%w: %v", ErrInvalidInput, watch.ErrNoThreshold)
	}

	q, err := s.quotes.GetQuote(ctx, ticker)
	if err != nil {
		if errors.Is(err, market.ErrTickerNotFound) {
			return watch.Watch{}, fmt.Errorf("%w: unknown ticker %s", ErrInvalidInput, ticker)
		}
		return watch.Watch{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	name := q.Name
	if name == "" {
		name = ticker
	}
	w := watch.Watch{
		ID:             s.newID(),
		UserID:         u.ID,
		Ticker:         ticker,
		DisplayName:    name,
		BasePrice:      q.Price,
		ThresholdUpper: in.ThresholdUpper,
		ThresholdLower: in.ThresholdLower,
		Status:         watch.StatusActive,
		CreatedAt:      s.now(),
	}
	if err := w.ValidateNew(); err != nil {
		return watch.Watch{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.watches.CreateWatch(ctx, w); err != nil {
		return watch.Watch{}, fmt.Errorf("create watch: %w", err)
	}
	return w, nil
}

// DisableWatch 將 active 監控設為 inactive（僅擁有者）。
func (s *Service) DisableWatch(ctx context.Context, token, watchID string) error {
	u, err := s.userByToken(ctx, token)
	if err != nil {
		return err
	}
	if strings.TrimSpace(watchID) == "" {
		return fmt.Errorf("%w: watch id is required", ErrInvalidInput)
	}
	return s.watches.DisableWatch(ctx, u.ID, watchID)
}

// History 使用者的觸發紀錄，新到舊。
func (s *Service) History(ctx context.Context, token string, limit int) ([]watch.EvaluationRecord, error) {
	u, err := s.userByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.watches.ListRecordsByUser(ctx, u.ID, limit)
}

func (s *Service) userByToken(ctx context.Context, token string) (user.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return user.User{}, user.ErrNotFound
	}
	return s.users.FindUserByToken(ctx, token)
}
