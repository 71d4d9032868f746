package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/talkincode/whatshttp/config"
	"github.com/talkincode/whatshttp/internal/adminapi"
	"github.com/talkincode/whatshttp/internal/app"
	"github.com/talkincode/whatshttp/internal/webserver"
	"go.uber.org/zap"
)

var cfile string

var rootCmd = &cobra.Command{
	Use:           "whatshttp",
	Short:         "Multi-tenant WhatsApp session relay",
	Long:          "whatshttp keeps one WhatsApp connection per client, relays inbound events to client webhooks and exposes an HTTP API for pairing and sending.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Drop and recreate the database tables",
	RunE:  runInitdb,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfile, "config", "c", "", "config file (yaml)")
	rootCmd.AddCommand(initdbCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfile)
	if err != nil {
		return err
	}

	application := app.NewApplication(cfg)
	if err := application.Init(cfg); err != nil {
		return err
	}
	defer application.Release()

	webserver.Init(cfg, application)
	adminapi.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- webserver.Start()
	}()

	go application.ReloadClients(ctx)

	select {
	case err = <-errCh:
	case <-ctx.Done():
		zap.L().Info("whatshttp: shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := webserver.Shutdown(sctx); serr != nil {
		zap.L().Error("whatshttp: web server shutdown", zap.Error(serr))
	}
	return err
}

func runInitdb(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfile)
	if err != nil {
		return err
	}
	application := app.NewApplication(cfg)
	if err := application.Init(cfg); err != nil {
		return err
	}
	defer application.Release()
	application.InitDb()
	zap.L().Info("whatshttp: database initialized")
	return nil
}
