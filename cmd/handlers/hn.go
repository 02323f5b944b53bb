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

	"octopus/internal/sources/hackernews"
)

// NewHNCmd creates the hn command group
func NewHNCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hn",
		Short: "Mirror Hacker News stories, votes and comments",
		Long: `Mirror Hacker News into the local database.

Subcommands:
  fetch     Store new stories from newstories.json
  votes     Record vote counts that changed since the last poll
  comments  Refresh comments of recent stories
  content   Extract article text for stories that have none`,
	}

	cmd.AddCommand(newHNStepCmd("fetch", "Store new stories", false, (*hackernews.Syncer).FetchNewStories))
	cmd.AddCommand(newHNStepCmd("votes", "Record changed vote counts", false, (*hackernews.Syncer).UpdateVotes))
	cmd.AddCommand(newHNStepCmd("comments", "Refresh comments of recent stories", false, (*hackernews.Syncer).RefreshComments))
	cmd.AddCommand(newHNStepCmd("content", "Extract missing article text", true, (*hackernews.Syncer).BackfillContent))

	return cmd
}

type hnStep func(s *hackernews.Syncer, ctx context.Context) (hackernews.Stats, error)

func newHNStepCmd(use, short string, withContent bool, step hnStep) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			syncer, err := a.HNSyncer(cmd.Context(), withContent)
			if err != nil {
				return err
			}
			stats, err := step(syncer, cmd.Context())
			if err != nil {
				return fmt.Errorf("hn %s failed: %w", use, err)
			}
			fmt.Printf("✅ hn %s: %s\n", use, stats)
			return nil
		},
	}
}
