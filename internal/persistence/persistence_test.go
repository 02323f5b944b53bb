package persistence

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/lib/pq"

	"octopus/internal/core"
)

func TestEmbeddedMigrationsLoad(t *testing.T) {
	migrations, err := LoadMigrations(migrationFiles)
	if err != nil {
		t.Fatalf("LoadMigrations failed: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("Expected embedded migrations")
	}

	first := migrations[0]
	if first.Version != 1 || first.Description != "initial schema" {
		t.Errorf("Unexpected first migration: %d %q", first.Version, first.Description)
	}
	for _, table := range []string{"processed_stories", "url_contents", "telegram_stories", "digest_stories", "prompts"} {
		if !strings.Contains(first.Up, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("Expected up section to create %s", table)
		}
	}
	if strings.Contains(first.Up, "DROP TABLE") {
		t.Error("Expected down statements to be split from the up section")
	}
	if !strings.Contains(first.Down, "DROP TABLE IF EXISTS stories") {
		t.Errorf("Expected down section to drop stories, got %q", first.Down)
	}
}

func TestLoadMigrationsOrdersAndValidates(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_add_index.sql":  {Data: []byte("CREATE INDEX a ON b(c);")},
		"migrations/002_second_one.sql": {Data: []byte("SELECT 2;\n-- +down\nSELECT -2;")},
		"migrations/README.md":          {Data: []byte("ignored")},
	}
	migrations, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatalf("LoadMigrations failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("Expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 2 || migrations[1].Version != 10 {
		t.Errorf("Expected versions [2 10], got [%d %d]", migrations[0].Version, migrations[1].Version)
	}
	if migrations[0].Description != "second one" {
		t.Errorf("Expected description 'second one', got %q", migrations[0].Description)
	}
	if strings.TrimSpace(migrations[0].Down) != "SELECT -2;" {
		t.Errorf("Unexpected down section %q", migrations[0].Down)
	}
	if migrations[1].Down != "" {
		t.Errorf("Expected no down section, got %q", migrations[1].Down)
	}

	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{"no version", fstest.MapFS{"migrations/initial.sql": {Data: []byte("SELECT 1;")}}},
		{"zero version", fstest.MapFS{"migrations/000_zero.sql": {Data: []byte("SELECT 1;")}}},
		{"duplicate", fstest.MapFS{
			"migrations/001_a.sql": {Data: []byte("SELECT 1;")},
			"migrations/1_b.sql":   {Data: []byte("SELECT 1;")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadMigrations(tt.fsys); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestStoriesQuery(t *testing.T) {
	filter := StoryFilter{
		Start:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
		MinScore: 0.5,
		Kind:     core.KindTelegram,
		OrderBy:  OrderByScore,
		Limit:    500,
	}
	query, args, err := storiesQuery(filter).ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}

	for _, want := range []string{
		"FROM processed_stories p",
		"LEFT JOIN item_tag_relations r ON r.item_id = p.id",
		"p.created_at >= $1",
		"p.created_at < $2",
		"p.related_item_type = $3",
		"HAVING MAX(r.relation_value) >= $4",
		"ORDER BY max_score DESC",
		fmt.Sprintf("LIMIT %d", MaxStoryLimit),
	} {
		if !strings.Contains(query, want) {
			t.Errorf("Expected query to contain %q, got %s", want, query)
		}
	}
	if len(args) != 4 || args[2] != string(core.KindTelegram) || args[3] != 0.5 {
		t.Errorf("Unexpected args %v", args)
	}
}

func TestStoriesQueryDefaults(t *testing.T) {
	query, args, err := storiesQuery(StoryFilter{}).ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}
	if strings.Contains(query, "WHERE") || strings.Contains(query, "HAVING") {
		t.Errorf("Expected no filters, got %s", query)
	}
	if !strings.Contains(query, "ORDER BY p.created_at DESC") {
		t.Errorf("Expected date ordering, got %s", query)
	}
	if !strings.Contains(query, fmt.Sprintf("LIMIT %d", DefaultStoryLimit)) {
		t.Errorf("Expected default limit, got %s", query)
	}
	if len(args) != 0 {
		t.Errorf("Expected no args, got %v", args)
	}
}

func TestPromptsQuery(t *testing.T) {
	query, args, err := promptsQuery(PromptFilter{Skip: 40, Limit: 1000, Format: "yaml"}).ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}
	for _, want := range []string{"FROM prompts", "response_format = $1", fmt.Sprintf("LIMIT %d", MaxPromptLimit), "OFFSET 40"} {
		if !strings.Contains(query, want) {
			t.Errorf("Expected query to contain %q, got %s", want, query)
		}
	}
	if len(args) != 1 || args[0] != "yaml" {
		t.Errorf("Unexpected args %v", args)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique", &pq.Error{Code: "23505"}, true},
		{"wrapped", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"foreign key", &pq.Error{Code: "23503"}, false},
		{"other", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := isUniqueViolation(tt.err); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestNullHelpers(t *testing.T) {
	if nullString("").Valid {
		t.Error("Expected empty string to be NULL")
	}
	if v := nullString("x"); !v.Valid || v.String != "x" {
		t.Errorf("Unexpected value %+v", v)
	}
	if nullInt64(0).Valid {
		t.Error("Expected zero to be NULL")
	}
	if v := nullInt64(7); !v.Valid || v.Int64 != 7 {
		t.Errorf("Unexpected value %+v", v)
	}
}
