package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"twitch-chat-relay/config"
	"twitch-chat-relay/errutil"
)

func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Работа с токенами Twitch",
	}
	authCmd.AddCommand(&cobra.Command{
		Use:   "app",
		Short: "Получить и сохранить токен приложения (client credentials)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.Emotes.HelixEnabled() {
				return oops.Code(errutil.CodeConfig).Errorf("требуются TWITCH_CLIENT_ID и TWITCH_CLIENT_SECRET")
			}

			manager := newTokenManager(cfg.Emotes, &http.Client{Timeout: 10 * time.Second})
			token, err := manager.Get(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ok, expires at %s\n", token.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	})
	return authCmd
}
