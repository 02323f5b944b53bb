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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"octopus/internal/sources/gmail"
)

// NewEmailCmd creates the email command group
func NewEmailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "email",
		Short: "Ingest newsletter emails from Gmail",
		Long: `Ingest newsletter emails from Gmail and extract their links as email stories.

Run 'octopus email login' once to authorize read-only access; the token is
stored at gmail.token_path and refreshed automatically.`,
	}

	cmd.AddCommand(newEmailLoginCmd())
	cmd.AddCommand(newEmailIngestCmd())

	return cmd
}

func newEmailLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize Gmail access and store the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireGmail(); err != nil {
				return err
			}
			oauthCfg, err := gmail.OAuthConfig(cfg.Gmail.CredentialsPath)
			if err != nil {
				return err
			}
			if err := gmail.Login(cmd.Context(), oauthCfg, cfg.Gmail.TokenPath, os.Stdin, os.Stdout); err != nil {
				return err
			}
			fmt.Printf("✅ Token saved to %s\n", cfg.Gmail.TokenPath)
			return nil
		},
	}
}

func newEmailIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Store new digest emails and their links",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ingester, err := a.GmailIngester(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := ingester.Ingest(cmd.Context())
			if err != nil {
				return fmt.Errorf("email ingestion failed: %w", err)
			}
			fmt.Printf("✅ email ingest: %s\n", stats)
			return nil
		},
	}
}
