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

	"github.com/spf13/cobra"

	"octopus/internal/enrich"
)

// NewEnrichCmd creates the enrich command group
func NewEnrichCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Summarize, tag and extract entities from stories",
		Long: `Run stories through the LLM to produce a summary, scored tags and entities.

Items that already have a processed item are skipped unless --force-regenerate
is given, in which case they are analyzed again and replaced in place.

Examples:
  octopus enrich email
  octopus enrich hn --force-regenerate`,
	}
	cmd.PersistentFlags().BoolVar(&force, "force-regenerate", false, "Re-analyze items that were already processed")

	for _, src := range []struct{ use, short string }{
		{"hn", "Enrich Hacker News stories above the vote threshold"},
		{"email", "Enrich email stories"},
		{"telegram", "Enrich Telegram messages"},
	} {
		kind := src.use
		cmd.AddCommand(&cobra.Command{
			Use:   kind,
			Short: src.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp()
				if err != nil {
					return err
				}
				defer a.Close()

				stats, err := runEnrich(cmd.Context(), a, kind, force)
				if err != nil {
					return err
				}
				fmt.Printf("✅ enrich %s: %s\n", kind, stats)
				return nil
			},
		})
	}

	return cmd
}

func runEnrich(ctx context.Context, a *app, kind string, force bool) (enrich.Stats, error) {
	pipeline, err := a.EnrichPipeline(ctx)
	if err != nil {
		return enrich.Stats{}, err
	}
	src, err := a.EnrichSource(ctx, kind)
	if err != nil {
		return enrich.Stats{}, err
	}
	stats, err := pipeline.Run(ctx, src, enrich.RunOptions{ForceRegenerate: force})
	if err != nil {
		return stats, fmt.Errorf("enrich %s failed: %w", kind, err)
	}
	return stats, nil
}
