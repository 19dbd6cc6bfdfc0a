package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"stock-alarm/internal/bootstrap"
	"stock-alarm/internal/infrastructure/config"
	httpapi "stock-alarm/internal/interface/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

func newHTTPServer(cfg config.Config, app *bootstrap.App, log zerolog.Logger) *http.Server {
	if cfg.App.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	api := httpapi.NewServer(httpapi.Deps{
		DB:       app.DB,
		Accounts: app.Accounts,
		Runner:   app.Runner,
		Tokens:   app.Tokens,
		MailMode: app.MailMode,
		Log:      log,
	})
	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serve 啟動 HTTP server，ctx 結束時優雅關閉。
func serve(ctx context.Context, srv *http.Server, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
