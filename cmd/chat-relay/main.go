package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"twitch-chat-relay/errutil"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		errutil.LogError(slog.Default(), "chat-relay: завершение с ошибкой", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chat-relay",
		Short:         "Ретранслятор чата Twitch в WebSocket-клиенты",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if err := godotenv.Load(); err != nil {
				slog.Debug("файл .env не найден, используются переменные окружения")
			}
		},
	}
	root.AddCommand(newServeCmd(), newAuthCmd())
	return root
}
