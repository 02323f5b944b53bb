package pipeline

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"octopus/internal/core"
	"octopus/internal/digest"
)

type countStats struct{ n int }

func (c countStats) String() string { return strings.Repeat("x", c.n) }

func TestRunStopsAtFirstFailure(t *testing.T) {
	var ran []string
	step := func(name string, err error) Step {
		return Step{Name: name, Run: func(ctx context.Context) (string, error) {
			ran = append(ran, name)
			return name + " done", err
		}}
	}
	boom := errors.New("boom")

	var out bytes.Buffer
	p := New([]Step{step("telegram", nil), step("hn", boom), step("email", nil)}, &out)
	res, err := p.Run(context.Background())

	if !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped step error, got %v", err)
	}
	if !reflect.DeepEqual(ran, []string{"telegram", "hn"}) {
		t.Errorf("Expected steps after the failure to be skipped, got %v", ran)
	}
	failed := res.Failed()
	if failed == nil || failed.Name != "hn" {
		t.Errorf("Expected hn as failed step, got %+v", failed)
	}
	if res.RunID == "" {
		t.Error("Expected a run id")
	}
	if !strings.Contains(out.String(), "Step 1/3: telegram") || !strings.Contains(out.String(), "Step 2/3: hn") {
		t.Errorf("Unexpected progress output %q", out.String())
	}
}

func TestRunAllSteps(t *testing.T) {
	p := New([]Step{
		FetchStep("count", func(ctx context.Context) (countStats, error) { return countStats{3}, nil }),
	}, nil)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Failed() != nil {
		t.Error("Expected no failed step")
	}
	if len(res.Steps) != 1 || res.Steps[0].Summary != "xxx" {
		t.Errorf("Unexpected steps %+v", res.Steps)
	}
}

type fakeGenerator struct {
	err error
}

func (f *fakeGenerator) DefaultWindow() digest.Window {
	end := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	return digest.Window{Start: end.AddDate(0, 0, -7), End: end}
}

func (f *fakeGenerator) Generate(ctx context.Context, w digest.Window) (*digest.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &digest.Result{Digest: &core.Digest{ID: 9, FilePath: "/tmp/d.txt"}, ItemIDs: []int64{1, 2}}, nil
}

func TestDigestStep(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    string
		wantErr bool
	}{
		{"generated", nil, "digest 9 from 2 items saved to /tmp/d.txt", false},
		{"nothing relevant", digest.ErrNoRelevantItems, "no relevant items, digest skipped", false},
		{"provider error", errors.New("timeout"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DigestStep(&fakeGenerator{err: tt.err}).Run(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
