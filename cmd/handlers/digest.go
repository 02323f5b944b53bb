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
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"octopus/internal/digest"
)

// NewDigestCmd creates the digest command group
func NewDigestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Generate tech digests from enriched stories",
	}
	cmd.AddCommand(newDigestGenerateCmd())
	return cmd
}

func newDigestGenerateCmd() *cobra.Command {
	var (
		start string
		end   string
		days  int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a digest for a date range",
		Long: `Generate a digest from processed stories whose relevant tags score at or
above digest.min_score. The digest is archived as a text file and stored.

The window is [start, end). Without flags the last digest.default_days days
ending now are used.

Examples:
  octopus digest generate
  octopus digest generate --days 3
  octopus digest generate --start 2025-01-01 --end 2025-01-08`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			gen, err := a.DigestGenerator(cmd.Context())
			if err != nil {
				return err
			}
			w, err := resolveWindow(start, end, days, gen.DefaultWindow(), time.Now())
			if err != nil {
				return err
			}

			res, err := gen.Generate(cmd.Context(), w)
			if errors.Is(err, digest.ErrNoRelevantItems) {
				fmt.Printf("No relevant items between %s and %s, nothing generated\n",
					w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly))
				return nil
			}
			if err != nil {
				return fmt.Errorf("digest generation failed: %w", err)
			}

			fmt.Printf("✅ Digest %d generated from %d stories (%d context tokens)\n", res.Digest.ID, len(res.ItemIDs), res.ContextTokens)
			fmt.Printf("   Saved to %s\n\n", res.Digest.FilePath)
			fmt.Println(res.Digest.Content)
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Window start date (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&end, "end", "", "Window end date (YYYY-MM-DD, exclusive)")
	cmd.Flags().IntVar(&days, "days", 0, "Number of days ending now")
	cmd.MarkFlagsRequiredTogether("start", "end")
	cmd.MarkFlagsMutuallyExclusive("start", "days")

	return cmd
}

// resolveWindow picks the digest window from the command flags
func resolveWindow(start, end string, days int, def digest.Window, now time.Time) (digest.Window, error) {
	switch {
	case start != "" || end != "":
		if start == "" || end == "" {
			return digest.Window{}, errors.New("--start and --end must be given together")
		}
		if days != 0 {
			return digest.Window{}, errors.New("--days cannot be combined with --start and --end")
		}
		s, err := time.Parse(time.DateOnly, start)
		if err != nil {
			return digest.Window{}, fmt.Errorf("invalid --start: %w", err)
		}
		e, err := time.Parse(time.DateOnly, end)
		if err != nil {
			return digest.Window{}, fmt.Errorf("invalid --end: %w", err)
		}
		if !s.Before(e) {
			return digest.Window{}, errors.New("--start must be before --end")
		}
		return digest.Window{Start: s, End: e}, nil
	case days < 0:
		return digest.Window{}, errors.New("--days must be positive")
	case days > 0:
		return digest.Window{Start: now.AddDate(0, 0, -days), End: now}, nil
	}
	return def, nil
}
