/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"octopus/internal/sources/telegram"
)

// NewTelegramCmd creates the telegram command group
func NewTelegramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Fetch messages from Telegram channels",
		Long: `Fetch text messages from the configured Telegram channels.

Run 'octopus telegram login' once to create the session file at
telegram.session_path.`,
	}

	cmd.AddCommand(newTelegramLoginCmd())
	cmd.AddCommand(newTelegramFetchCmd())

	return cmd
}

func newTelegramLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize the Telegram session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Telegram.AppID == 0 || cfg.Telegram.AppHash == "" {
				return errors.New("telegram requires TELEGRAM_API_ID and TELEGRAM_API_HASH")
			}
			client, err := newTelegramClient(cfg.Telegram)
			if err != nil {
				return err
			}
			return client.Login(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}

func newTelegramFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Store new channel messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := fetchTelegram(cmd.Context(), a)
			if err != nil {
				return err
			}
			fmt.Printf("✅ telegram fetch: %s\n", stats)
			return nil
		},
	}
}

// fetchTelegram connects with the stored session and fetches every channel
func fetchTelegram(ctx context.Context, a *app) (telegram.Stats, error) {
	client, fetcher, err := a.Telegram()
	if err != nil {
		return telegram.Stats{}, err
	}

	var stats telegram.Stats
	err = client.Run(ctx, func(ctx context.Context, api telegram.HistoryAPI) error {
		var err error
		stats, err = fetcher.Fetch(ctx, api)
		return err
	})
	if errors.Is(err, telegram.ErrNotAuthorized) {
		return stats, fmt.Errorf("%w: run 'octopus telegram login' first", err)
	}
	if err != nil {
		return stats, fmt.Errorf("telegram fetch failed: %w", err)
	}
	return stats, nil
}
