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
	"time"

	"github.com/spf13/cobra"

	"octopus/internal/server"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve command for starting the read API
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only HTTP API",
		Long: `Start the JSON API over stories, digests and prompt records.

Endpoints:
  GET /health
  GET /api/stories          start, end, min_score, type, order_by=date|score, limit
  GET /api/stories/{type}/{id}
  GET /api/digests          start, end
  GET /api/digests/{id}
  GET /api/prompts          skip, limit, format
  GET /api/prompts/{id}

Examples:
  octopus serve
  octopus serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), host, port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8000)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 127.0.0.1)")

	return cmd
}

func runServe(ctx context.Context, host string, port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	serverCfg := a.cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	srv := server.New(a.db, serverCfg)

	serverErrors := make(chan error, 1)
	go func() {
		a.log.Info(fmt.Sprintf("Server listening on http://%s:%d", serverCfg.Host, serverCfg.Port))
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		a.log.Info("Server shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("Server shutdown failed", "error", err)
			return err
		}
	}

	return nil
}
