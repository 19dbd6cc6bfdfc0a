package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stock-alarm/internal/application/alert"
	"stock-alarm/internal/infrastructure/config"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// 通知模式，供 health 檢查回報。
const (
	ModeSMTP         = "smtp"
	ModeLogOnly      = "log_only"
	ModeUnconfigured = "unconfigured"
)

// EmailNotifier 透過 SMTP（implicit TLS）寄送通知信。
type EmailNotifier struct {
	cfg  config.MailConfig
	log  zerolog.Logger
	send func(ctx context.Context, msg *mail.Msg) error
}

// NewEmailNotifier 建立 SMTP 寄信器。
func NewEmailNotifier(cfg config.MailConfig, log zerolog.Logger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, log: log}
	n.send = n.dialAndSend
	return n
}

// Configured 是否具備寄信所需的帳密與寄件者。
func (n *EmailNotifier) Configured() bool {
	return n.cfg.Username != "" && n.cfg.Password != "" && n.fromAddress() != ""
}

// Send 實作 alert.Notifier；缺少設定或收件者時回傳 NotAttempted。
func (n *EmailNotifier) Send(ctx context.Context, msg alert.Message) alert.Delivery {
	if !n.Configured() {
		return alert.NotAttempted("smtp credentials missing")
	}
	if strings.TrimSpace(msg.To) == "" {
		return alert.NotAttempted("recipient missing")
	}

	m := mail.NewMsg()
	if err := m.FromFormat(n.cfg.FromName, n.fromAddress()); err != nil {
		return alert.NotAttempted(fmt.Sprintf("invalid sender: %v", err))
	}
	if err := m.To(msg.To); err != nil {
		return alert.NotAttempted(fmt.Sprintf("invalid recipient: %v", err))
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	if err := n.send(ctx, m); err != nil {
		n.log.Warn().Err(err).Str("to", msg.To).Msg("smtp send failed")
		return alert.DeliveryFailed(err.Error())
	}
	n.log.Debug().Str("to", msg.To).Str("subject", msg.Subject).Msg("mail sent")
	return alert.Delivered()
}

func (n *EmailNotifier) fromAddress() string {
	if n.cfg.FromAddress != "" {
		return n.cfg.FromAddress
	}
	return n.cfg.Username
}

func (n *EmailNotifier) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	timeout := n.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client, err := mail.NewClient(n.cfg.Host,
		mail.WithPort(n.cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.Username),
		mail.WithPassword(n.cfg.Password),
		mail.WithTimeout(timeout),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// LogNotifier 開發用：只記錄通知內容。enabled 為 false 時回報 NotAttempted，
// 監控維持 active 等待真正寄送。
type LogNotifier struct {
	log     zerolog.Logger
	enabled bool
}

func NewLogNotifier(log zerolog.Logger, enabled bool) *LogNotifier {
	return &LogNotifier{log: log, enabled: enabled}
}

func (n *LogNotifier) Send(ctx context.Context, msg alert.Message) alert.Delivery {
	if strings.TrimSpace(msg.To) == "" {
		return alert.NotAttempted("recipient missing")
	}
	n.log.Info().Str("to", msg.To).Str("subject", msg.Subject).Bool("log_only", n.enabled).Msg("notification (log only)")
	if !n.enabled {
		return alert.NotAttempted("log-only delivery not enabled")
	}
	return alert.Delivered()
}

var (
	_ alert.Notifier = (*EmailNotifier)(nil)
	_ alert.Notifier = (*LogNotifier)(nil)
)
