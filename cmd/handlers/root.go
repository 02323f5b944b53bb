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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"octopus/internal/config"
	"octopus/internal/logger"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "octopus",
		Short: "Octopus aggregates tech stories and writes a weekly digest.",
		Long: `Octopus collects stories from Hacker News, Gmail newsletters and Telegram
channels, enriches them with an LLM (summary, tags, entities) and generates a
digest of the most relevant ones.

Typical daily flow:
  octopus migrate up
  octopus daily

Or step by step:
  octopus hn fetch
  octopus email ingest
  octopus enrich email
  octopus digest generate --days 7`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.octopus.yaml or $HOME/.octopus.yaml)")

	rootCmd.AddCommand(NewMigrateCmd())
	rootCmd.AddCommand(NewHNCmd())
	rootCmd.AddCommand(NewEmailCmd())
	rootCmd.AddCommand(NewTelegramCmd())
	rootCmd.AddCommand(NewEnrichCmd())
	rootCmd.AddCommand(NewDigestCmd())
	rootCmd.AddCommand(NewCleanupCmd())
	rootCmd.AddCommand(NewURLsCmd())
	rootCmd.AddCommand(NewTagsCmd())
	rootCmd.AddCommand(NewDailyCmd())
	rootCmd.AddCommand(NewServeCmd())

	return rootCmd
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies its logging section
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)
	if cfg.App.ConfigFile != "" {
		logger.Debug("Using config file", "path", cfg.App.ConfigFile)
	}
	return cfg, nil
}
