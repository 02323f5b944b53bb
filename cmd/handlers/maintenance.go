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

	"octopus/internal/maintenance"
)

// NewCleanupCmd creates the cleanup command group
func NewCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove duplicate, empty and expired data",
		Long: `Remove data that no longer serves the digest.

Subcommands:
  duplicates     Processed items sharing a story with a newer one
  empty-content  Processed email items whose story has no content
  zero-scores    Tag relations scored 0 (--dry-run only counts)
  old-emails     Digest emails past the retention with every link processed`,
	}

	cmd.AddCommand(newCleanupCmd("duplicates", "Delete duplicate processed items", func(ctx context.Context, c *maintenance.Cleaner) (int64, error) {
		return c.DeleteDuplicates(ctx)
	}))
	cmd.AddCommand(newCleanupCmd("empty-content", "Delete processed email items without content", func(ctx context.Context, c *maintenance.Cleaner) (int64, error) {
		return c.DeleteEmptyContent(ctx)
	}))
	cmd.AddCommand(newCleanupCmd("old-emails", "Delete expired digest emails", func(ctx context.Context, c *maintenance.Cleaner) (int64, error) {
		n, err := c.DeleteOldEmails(ctx)
		return int64(n), err
	}))
	cmd.AddCommand(newZeroScoresCmd())

	return cmd
}

type cleanupStep func(ctx context.Context, c *maintenance.Cleaner) (int64, error)

func newCleanupCmd(use, short string, step cleanupStep) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCleaner(func(c *maintenance.Cleaner) error {
				n, err := step(cmd.Context(), c)
				if err != nil {
					return fmt.Errorf("cleanup %s failed: %w", use, err)
				}
				fmt.Printf("✅ cleanup %s: %d deleted\n", use, n)
				return nil
			})
		},
	}
}

func newZeroScoresCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "zero-scores",
		Short: "Delete tag relations with score 0",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCleaner(func(c *maintenance.Cleaner) error {
				n, err := c.DeleteZeroScores(cmd.Context(), dryRun)
				if err != nil {
					return fmt.Errorf("cleanup zero-scores failed: %w", err)
				}
				if dryRun {
					fmt.Printf("Dry run: %d zero-score relations would be deleted\n", n)
					return nil
				}
				fmt.Printf("✅ cleanup zero-scores: %d deleted\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only count matching relations")

	return cmd
}

func withCleaner(fn func(c *maintenance.Cleaner) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(maintenance.NewCleaner(a.db.ProcessedItems(), a.db.Emails(), a.db, a.cfg.Maintenance.DigestEmailRetention))
}

// NewURLsCmd creates the urls command group
func NewURLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "urls",
		Short: "Maintain stored URLs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "normalize",
		Short: "Re-normalize stored story and link URLs",
		Long: `Run the URL normalizer over digest links, email stories and Hacker News
stories again. A row is left unchanged when its normalized URL already belongs
to another row.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			r := maintenance.NewURLRenormalizer(a.db.HackerNews(), a.db.Emails(), a.Normalizer())
			stats, err := r.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("url normalization failed: %w", err)
			}
			fmt.Printf("✅ urls normalize: %s\n", stats)
			return nil
		},
	})

	return cmd
}

// NewTagsCmd creates the tags command group
func NewTagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Maintain the tag vocabulary",
	}

	var dryRun bool
	revise := &cobra.Command{
		Use:   "revise",
		Short: "Merge and split tags with the LLM",
		Long: `Send the tag vocabulary to the LLM and apply the returned mapping. Relations
of a mapped tag are copied onto its targets keeping their score; tags that are
mapped away lose their relations. With --dry-run the mapping is only logged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			processor, err := a.Processor(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := maintenance.NewTagReviser(processor, a.db.ProcessedItems()).Revise(cmd.Context(), dryRun)
			if err != nil {
				return fmt.Errorf("tag revision failed: %w", err)
			}
			if dryRun {
				fmt.Printf("Dry run: %s\n", stats)
				return nil
			}
			fmt.Printf("✅ tags revise: %s\n", stats)
			return nil
		},
	}
	revise.Flags().BoolVar(&dryRun, "dry-run", false, "Log the mapping without applying it")
	cmd.AddCommand(revise)

	return cmd
}
