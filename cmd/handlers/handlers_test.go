package handlers

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"octopus/internal/config"
	"octopus/internal/digest"
)

func TestRootCommandTree(t *testing.T) {
	root := NewRootCmd()
	want := []string{
		"migrate up", "migrate status", "migrate rollback",
		"hn fetch", "hn votes", "hn comments", "hn content",
		"email login", "email ingest",
		"telegram login", "telegram fetch",
		"enrich hn", "enrich email", "enrich telegram",
		"digest generate",
		"cleanup duplicates", "cleanup empty-content", "cleanup zero-scores", "cleanup old-emails",
		"urls normalize",
		"tags revise",
		"daily",
		"serve",
	}
	for _, path := range want {
		cmd, rest, err := root.Find(strings.Fields(path))
		if err != nil || len(rest) != 0 || cmd.Name() != strings.Fields(path)[len(strings.Fields(path))-1] {
			t.Errorf("Expected command %q to exist, got %v (rest %v)", path, err, rest)
		}
	}
}

func TestResolveWindow(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	def := digest.Window{Start: now.AddDate(0, 0, -7), End: now}

	tests := []struct {
		name    string
		start   string
		end     string
		days    int
		want    digest.Window
		wantErr bool
	}{
		{name: "default", want: def},
		{name: "days", days: 3, want: digest.Window{Start: now.AddDate(0, 0, -3), End: now}},
		{
			name:  "explicit range",
			start: "2025-01-01",
			end:   "2025-01-08",
			want:  digest.Window{Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)},
		},
		{name: "start only", start: "2025-01-01", wantErr: true},
		{name: "reversed", start: "2025-01-08", end: "2025-01-01", wantErr: true},
		{name: "range and days", start: "2025-01-01", end: "2025-01-08", days: 2, wantErr: true},
		{name: "bad date", start: "01/01/2025", end: "2025-01-08", wantErr: true},
		{name: "negative days", days: -1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveWindow(tt.start, tt.end, tt.days, def, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if !tt.wantErr && (!got.Start.Equal(tt.want.Start) || !got.End.Equal(tt.want.End)) {
				t.Errorf("Expected %v - %v, got %v - %v", tt.want.Start, tt.want.End, got.Start, got.End)
			}
		})
	}
}

func TestSkipSet(t *testing.T) {
	skipped, err := skipSet([]string{"telegram", "comments"})
	if err != nil {
		t.Fatalf("skipSet failed: %v", err)
	}
	if !skipped["telegram"] || !skipped["comments"] || skipped["hn"] {
		t.Errorf("Unexpected skip set %v", skipped)
	}
	if _, err := skipSet([]string{"rss"}); err == nil {
		t.Error("Expected error for unknown step")
	}
}

func TestDailyStepsOrderAndSkip(t *testing.T) {
	a := &app{cfg: &config.Config{}}
	steps := dailySteps(a, map[string]bool{"telegram": true})

	var names []string
	for _, s := range steps {
		names = append(names, s.Name)
	}
	want := []string{
		"Fetch Hacker News stories",
		"Ingest newsletter emails",
		"Enrich email stories",
		"Refresh Hacker News comments",
		"Generate tech digest",
	}
	if strings.Join(names, "|") != strings.Join(want, "|") {
		t.Errorf("Expected steps %v, got %v", want, names)
	}
}

func TestDailyStepFailsOnMissingConfig(t *testing.T) {
	a := &app{cfg: &config.Config{}}
	steps := dailySteps(a, map[string]bool{"hn": true, "enrich-email": true, "comments": true, "digest": true, "email": true})
	if len(steps) != 1 {
		t.Fatalf("Expected only the telegram step, got %d", len(steps))
	}
	if _, err := steps[0].Run(context.Background()); err == nil || !strings.Contains(err.Error(), "TELEGRAM_API_ID") {
		t.Errorf("Expected telegram configuration error, got %v", err)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"yes\n", true},
		{"Y\n", true},
		{"no\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(tt.input), &out, "Continue? ")
		if err != nil {
			t.Fatalf("confirm(%q) failed: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("confirm(%q): Expected %v, got %v", tt.input, tt.want, got)
		}
		if out.String() != "Continue? " {
			t.Errorf("Expected prompt to be written, got %q", out.String())
		}
	}
}

func TestNewArchive(t *testing.T) {
	if _, err := newArchive(context.Background(), config.ArchiveConfig{Kind: "local", Directory: t.TempDir()}); err != nil {
		t.Errorf("Expected local archive, got %v", err)
	}
	if _, err := newArchive(context.Background(), config.ArchiveConfig{Kind: "s3"}); err == nil {
		t.Error("Expected error for s3 archive without bucket")
	}
	if _, err := newArchive(context.Background(), config.ArchiveConfig{Kind: "ftp"}); err == nil {
		t.Error("Expected error for unknown archive kind")
	}
}
