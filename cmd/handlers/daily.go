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
	"io"
	"os"

	"github.com/spf13/cobra"

	"octopus/internal/enrich"
	"octopus/internal/pipeline"
	"octopus/internal/scheduler"
	"octopus/internal/sources/gmail"
	"octopus/internal/sources/hackernews"
	"octopus/internal/sources/telegram"
)

// Daily update steps, in run order
var dailyStepKeys = []string{"telegram", "hn", "email", "enrich-email", "comments", "digest"}

// NewDailyCmd creates the daily command
func NewDailyCmd() *cobra.Command {
	var (
		schedule bool
		cronExpr string
		skip     []string
	)

	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Run the daily update",
		Long: `Run the daily update: fetch Telegram channels, fetch new Hacker News
stories, ingest and enrich newsletter emails, refresh HN comments and generate
the digest. The first failing step stops the run.

With --schedule the update runs under cron (scheduler.daily_schedule in
scheduler.timezone) until interrupted.

Examples:
  octopus daily
  octopus daily --skip telegram
  octopus daily --schedule --cron "30 5 * * *"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			skipped, err := skipSet(skip)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if !schedule {
				_, err := pipeline.New(dailySteps(a, skipped), os.Stdout).Run(cmd.Context())
				return err
			}
			if cronExpr == "" {
				cronExpr = a.cfg.Scheduler.DailySchedule
			}
			return runDailySchedule(cmd.Context(), a, skipped, cronExpr)
		},
	}

	cmd.Flags().BoolVar(&schedule, "schedule", false, "Keep running and execute the update on a cron schedule")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression overriding scheduler.daily_schedule")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "Steps to skip: telegram, hn, email, enrich-email, comments, digest")

	return cmd
}

func skipSet(keys []string) (map[string]bool, error) {
	known := make(map[string]bool, len(dailyStepKeys))
	for _, k := range dailyStepKeys {
		known[k] = true
	}
	skipped := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !known[k] {
			return nil, fmt.Errorf("unknown step %q", k)
		}
		skipped[k] = true
	}
	return skipped, nil
}

// dailySteps builds the update. Components are created when their step runs
// so a missing source configuration fails that step only.
func dailySteps(a *app, skipped map[string]bool) []pipeline.Step {
	all := map[string]pipeline.Step{
		"telegram": pipeline.FetchStep("Fetch Telegram channels", func(ctx context.Context) (telegram.Stats, error) {
			return fetchTelegram(ctx, a)
		}),
		"hn": pipeline.FetchStep("Fetch Hacker News stories", func(ctx context.Context) (hackernews.Stats, error) {
			syncer, err := a.HNSyncer(ctx, false)
			if err != nil {
				return hackernews.Stats{}, err
			}
			return syncer.FetchNewStories(ctx)
		}),
		"email": pipeline.FetchStep("Ingest newsletter emails", func(ctx context.Context) (gmail.Stats, error) {
			ingester, err := a.GmailIngester(ctx)
			if err != nil {
				return gmail.Stats{}, err
			}
			return ingester.Ingest(ctx)
		}),
		"enrich-email": pipeline.FetchStep("Enrich email stories", func(ctx context.Context) (enrich.Stats, error) {
			return runEnrich(ctx, a, "email", false)
		}),
		"comments": pipeline.FetchStep("Refresh Hacker News comments", func(ctx context.Context) (hackernews.Stats, error) {
			syncer, err := a.HNSyncer(ctx, false)
			if err != nil {
				return hackernews.Stats{}, err
			}
			return syncer.RefreshComments(ctx)
		}),
		"digest": {Name: "Generate tech digest", Run: func(ctx context.Context) (string, error) {
			gen, err := a.DigestGenerator(ctx)
			if err != nil {
				return "", err
			}
			return pipeline.DigestStep(gen).Run(ctx)
		}},
	}

	steps := make([]pipeline.Step, 0, len(dailyStepKeys))
	for _, k := range dailyStepKeys {
		if !skipped[k] {
			steps = append(steps, all[k])
		}
	}
	return steps
}

func runDailySchedule(ctx context.Context, a *app, skipped map[string]bool, cronExpr string) error {
	s, err := scheduler.New(a.cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}

	job := func(ctx context.Context) error {
		_, err := pipeline.New(dailySteps(a, skipped), io.Discard).Run(ctx)
		return err
	}
	if err := s.AddJob("daily", cronExpr, job); err != nil {
		return err
	}

	s.Start()
	a.log.Info("Daily update scheduled", "schedule", cronExpr, "timezone", a.cfg.Scheduler.Timezone)
	for _, j := range s.Jobs() {
		fmt.Printf("⏰ %s scheduled (%s), next run %s\n", j.Name, cronExpr, j.NextRun.Format("2006-01-02 15:04 MST"))
	}
	fmt.Println("Press Ctrl+C to stop")

	<-ctx.Done()
	s.Stop()
	return nil
}
