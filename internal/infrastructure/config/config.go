package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 儲存 HTTP API、評估引擎及外部相依的執行設定。
type Config struct {
	App       AppConfig       `yaml:"app"`
	HTTP      HTTPConfig      `yaml:"http"`
	DB        DBConfig        `yaml:"db"`
	Auth      AuthConfig      `yaml:"auth"`
	Engine    EngineConfig    `yaml:"engine"`
	Mail      MailConfig      `yaml:"mail"`
	LLM       LLMConfig       `yaml:"llm"`
	Market    MarketConfig    `yaml:"market"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notifier  NotifierConfig  `yaml:"notifier"`
}

type AppConfig struct {
	BaseURL   string `yaml:"base_url"`
	Brand     string `yaml:"brand"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type DBConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	MaxIdleTime  time.Duration `yaml:"max_idle_time"`
}

// AuthConfig 服務 token（管理端觸發批次）設定。
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type EngineConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	LookupTimeout     time.Duration `yaml:"lookup_timeout"`
	CommentaryTimeout time.Duration `yaml:"commentary_timeout"`
	NotifyTimeout     time.Duration `yaml:"notify_timeout"`
	StoreTimeout      time.Duration `yaml:"store_timeout"`
}

type MailConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	FromAddress string        `yaml:"from_address"`
	FromName    string        `yaml:"from_name"`
	Timeout     time.Duration `yaml:"timeout"`
	// LogOnly 開發用：不寄信，只記錄通知並視為送達。
	LogOnly bool `yaml:"log_only"`
}

type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
}

type MarketConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Addr    string        `yaml:"addr"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type SchedulerConfig struct {
	Spec     string `yaml:"spec"`
	TimeZone string `yaml:"time_zone"`
}

type NotifierConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
	Prefix  string `yaml:"prefix"`
}

// LoadFromFile 從 YAML 組態檔載入設定；檔案不存在時僅使用預設值與環境變數。
func LoadFromFile(path string) (Config, error) {
	// 嘗試載入 .env 檔案（如果存在）
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg = applyDefaults(cfg)
	cfg = applyEnv(cfg)
	return cfg, nil
}

func applyDefaults(cfg Config) Config {
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = "http://localhost:8080"
	}
	if cfg.App.Brand == "" {
		cfg.App.Brand = "Stock Alarm"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.DB.MaxOpenConns == 0 {
		cfg.DB.MaxOpenConns = 5
	}
	if cfg.DB.MaxIdleConns == 0 {
		cfg.DB.MaxIdleConns = 2
	}
	if cfg.DB.MaxIdleTime == 0 {
		cfg.DB.MaxIdleTime = 15 * time.Minute
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = "dev-secret-change-me"
	}
	if cfg.Engine.Concurrency == 0 {
		cfg.Engine.Concurrency = 4
	}
	if cfg.Engine.LookupTimeout == 0 {
		cfg.Engine.LookupTimeout = 5 * time.Second
	}
	if cfg.Engine.CommentaryTimeout == 0 {
		cfg.Engine.CommentaryTimeout = 5 * time.Second
	}
	if cfg.Engine.NotifyTimeout == 0 {
		cfg.Engine.NotifyTimeout = 30 * time.Second
	}
	if cfg.Engine.StoreTimeout == 0 {
		cfg.Engine.StoreTimeout = 10 * time.Second
	}
	if cfg.Mail.Host == "" {
		cfg.Mail.Host = "smtp.gmail.com"
	}
	if cfg.Mail.Port == 0 {
		cfg.Mail.Port = 465
	}
	if cfg.Mail.FromName == "" {
		cfg.Mail.FromName = "Stock Alarm"
	}
	if cfg.Mail.Timeout == 0 {
		cfg.Mail.Timeout = 30 * time.Second
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 300
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.Market.BaseURL == "" {
		cfg.Market.BaseURL = "https://m.stock.naver.com"
	}
	if cfg.Market.Timeout == 0 {
		cfg.Market.Timeout = 5 * time.Second
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 30 * time.Minute
	}
	if cfg.Scheduler.Spec == "" {
		cfg.Scheduler.Spec = "30 11 * * 1-5"
	}
	if cfg.Scheduler.TimeZone == "" {
		cfg.Scheduler.TimeZone = "Asia/Seoul"
	}
	if cfg.Notifier.Telegram.Prefix == "" {
		cfg.Notifier.Telegram.Prefix = "stock-alarm"
	}
	return cfg
}

func applyEnv(cfg Config) Config {
	if val := os.Getenv("HTTP_ADDR"); val != "" {
		cfg.HTTP.Addr = val
	}
	if val := os.Getenv("PORT"); val != "" {
		cfg.HTTP.Addr = ":" + val
	}
	if val := os.Getenv("DB_DSN"); val != "" {
		cfg.DB.DSN = val
	}
	if val := os.Getenv("AUTH_SECRET"); val != "" {
		cfg.Auth.Secret = val
	}
	if val := os.Getenv("BASE_URL"); val != "" {
		cfg.App.BaseURL = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.App.LogLevel = val
	}
	if val := os.Getenv("GMAIL_ADDRESS"); val != "" {
		cfg.Mail.Username = val
		if cfg.Mail.FromAddress == "" {
			cfg.Mail.FromAddress = val
		}
	}
	if val := os.Getenv("GMAIL_APP_PASSWORD"); val != "" {
		cfg.Mail.Password = val
	}
	if val := os.Getenv("MAIL_FROM_ADDRESS"); val != "" {
		cfg.Mail.FromAddress = val
	}
	if val := os.Getenv("MAIL_FROM_NAME"); val != "" {
		cfg.Mail.FromName = val
	}
	if val := os.Getenv("MAIL_LOG_ONLY"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Mail.LogOnly = b
		}
	}
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		cfg.LLM.APIKey = val
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
	}
	if val := os.Getenv("CHECK_SCHEDULE"); val != "" {
		cfg.Scheduler.Spec = val
	}
	if val := os.Getenv("ENGINE_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Engine.Concurrency = n
		}
	}
	if val := os.Getenv("TELEGRAM_TOKEN"); val != "" {
		cfg.Notifier.Telegram.Token = val
	}
	if val := os.Getenv("TELEGRAM_CHAT_ID"); val != "" {
		if id, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Notifier.Telegram.ChatID = id
		}
	}
	if val := os.Getenv("TELEGRAM_ENABLED"); val != "" {
		cfg.Notifier.Telegram.Enabled = (val == "true")
	}
	return cfg
}
