package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger 全域 logger，Init 之前為停用狀態。
	Logger = zerolog.Nop()
)

// Init 設定全域 logger；pretty 為 true 時輸出人類可讀格式。
func Init(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var output io.Writer = os.Stdout
	if pretty || os.Getenv("ENV") == "development" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = New(output)
	Logger.Info().
		Str("level", logLevel.String()).
		Msg("logger initialized")
}

// New 以指定輸出建立 logger（測試可傳入 buffer）。
func New(w io.Writer) zerolog.Logger {
	return zerolog.New(w).
		With().
		Timestamp().
		Logger()
}

// WithComponent 附加 component 欄位。
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
