package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/app"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/config"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/tools/chatcheck"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/tools/common"
)

func main() {
	root := &cobra.Command{
		Use:   "diosa-messaging-backend",
		Short: "Authenticated real-time message delivery service",
	}

	var envFile string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := common.LoadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			runErr := a.Run(ctx)

			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.Close(closeCtx); err != nil {
				a.Logger.Warn("close", "error", err)
			}
			return runErr
		},
	}
	serve.Flags().StringVar(&envFile, "env-file", ".env", "environment file loaded before config")

	root.AddCommand(serve, chatcheck.NewRootCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
