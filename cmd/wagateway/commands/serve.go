package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/adminapi"
	"github.com/talkincode/wagateway/internal/webserver"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"github.com/talkincode/wagateway/internal/whatsapp/meow"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var noRestore bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway api",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := startApp()
			defer application.Release()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dialer, err := meow.NewDialer(ctx, application.DB(), cfg.Database.Type, cfg.System.Appid)
			if err != nil {
				zap.L().Error("serve: open protocol store failed", zap.Error(err))
				return err
			}
			svc, err := whatsapp.New(application, dialer, nil)
			if err != nil {
				return err
			}

			config.Watch(cfgView, func(next *config.AppConfig) {
				application.SetLogLevel(next.Logger.Level)
				zap.L().Info("serve: config reloaded", zap.String("log_level", next.Logger.Level))
			})

			webserver.Init(cfg)
			adminapi.Init(cfg, svc)

			if !noRestore {
				if _, err := svc.Restore(ctx); err != nil {
					zap.L().Error("serve: restore sessions failed", zap.Error(err))
				}
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- webserver.Listen()
			}()

			select {
			case <-ctx.Done():
				zap.L().Info("serve: shutting down")
			case err = <-errCh:
				if err != nil {
					zap.L().Error("serve: web server stopped", zap.Error(err))
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := webserver.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("serve: web server shutdown", zap.Error(err))
			}
			if err := svc.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("serve: session shutdown", zap.Error(err))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&noRestore, "no-restore", false, "do not reconnect stored sessions on startup")
	return cmd
}
