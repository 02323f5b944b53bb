// Package pipeline runs the daily update: ingest every source, enrich new
// email stories, refresh HN comments and generate the digest
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"octopus/internal/digest"
	"octopus/internal/logger"
)

// StepFunc performs one step and returns a short human readable summary
type StepFunc func(ctx context.Context) (string, error)

// Step is a named unit of the daily update
type Step struct {
	Name string
	Run  StepFunc
}

// StepResult records how a step went
type StepResult struct {
	Name     string
	Summary  string
	Duration time.Duration
	Err      error
}

// Result is the outcome of a run
type Result struct {
	RunID     string
	Steps     []StepResult
	StartTime time.Time
	EndTime   time.Time
}

// Failed returns the failing step, if any
func (r *Result) Failed() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Err != nil {
			return &r.Steps[i]
		}
	}
	return nil
}

// Pipeline runs steps in order and stops at the first failure
type Pipeline struct {
	steps []Step
	out   io.Writer
	log   *slog.Logger
}

// New creates a pipeline. Progress lines go to out when it is not nil.
func New(steps []Step, out io.Writer) *Pipeline {
	if out == nil {
		out = io.Discard
	}
	return &Pipeline{steps: steps, out: out, log: logger.Get()}
}

// Run executes every step. The returned error wraps the first step error;
// later steps do not run.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), StartTime: time.Now()}
	log := p.log.With("run_id", res.RunID)
	log.Info("Starting daily update", "steps", len(p.steps))

	for i, step := range p.steps {
		fmt.Fprintf(p.out, "Step %d/%d: %s...\n", i+1, len(p.steps), step.Name)
		start := time.Now()
		summary, err := step.Run(ctx)
		sr := StepResult{Name: step.Name, Summary: summary, Duration: time.Since(start), Err: err}
		res.Steps = append(res.Steps, sr)

		if err != nil {
			res.EndTime = time.Now()
			log.Error("Daily update step failed", "step", step.Name, "error", err)
			fmt.Fprintf(p.out, "   ✗ %v\n", err)
			return res, fmt.Errorf("step %q failed: %w", step.Name, err)
		}
		log.Info("Daily update step completed", "step", step.Name, "summary", summary, "duration", sr.Duration.String())
		fmt.Fprintf(p.out, "   ✓ %s\n", summary)
	}

	res.EndTime = time.Now()
	log.Info("Daily update completed", "duration", res.EndTime.Sub(res.StartTime).String())
	return res, nil
}

// FetchStep adapts a function returning printable stats into a step
func FetchStep[S fmt.Stringer](name string, fn func(ctx context.Context) (S, error)) Step {
	return Step{Name: name, Run: func(ctx context.Context) (string, error) {
		stats, err := fn(ctx)
		if err != nil {
			return "", err
		}
		return stats.String(), nil
	}}
}

// DigestGenerator creates the digest over the default window
type DigestGenerator interface {
	DefaultWindow() digest.Window
	Generate(ctx context.Context, w digest.Window) (*digest.Result, error)
}

// DigestStep generates the digest. Having nothing relevant is not a failure.
func DigestStep(g DigestGenerator) Step {
	return Step{Name: "Generate tech digest", Run: func(ctx context.Context) (string, error) {
		res, err := g.Generate(ctx, g.DefaultWindow())
		if errors.Is(err, digest.ErrNoRelevantItems) {
			return "no relevant items, digest skipped", nil
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("digest %d from %d items saved to %s", res.Digest.ID, len(res.ItemIDs), res.Digest.FilePath), nil
	}}
}
