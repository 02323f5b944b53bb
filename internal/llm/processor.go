package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"octopus/internal/core"
	"octopus/internal/logger"
)

// Format is the expected shape of a model response
type Format string

const (
	FormatRaw  Format = "raw"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// DefaultMaxTokens is used when Options.MaxTokens is zero
const DefaultMaxTokens = 16000

// Options tunes a single Process call
type Options struct {
	Format      Format
	Temperature *float64 // Nil uses the processor default
	MaxTokens   int
}

// Response carries the cleaned text and, for structured formats, the parsed document
type Response struct {
	Text string
	Data any
}

// ValidationError reports a response that failed to parse in the requested format
type ValidationError struct {
	Format Format
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Invalid %s format: %v", e.Format, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is, or wraps, a *ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PromptRecorder stores an audit record of a model call
type PromptRecorder interface {
	RecordPrompt(ctx context.Context, record *core.PromptRecord) error
}

// ProcessorConfig holds processor defaults
type ProcessorConfig struct {
	Temperature float64
	MaxRetries  int
}

// Processor sends prompts, cleans and validates responses and re-prompts on
// format errors.
type Processor struct {
	client   Client
	recorder PromptRecorder
	cfg      ProcessorConfig
	log      *slog.Logger
}

// NewProcessor creates a processor. recorder may be nil.
func NewProcessor(client Client, recorder PromptRecorder, cfg ProcessorConfig) *Processor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Processor{
		client:   client,
		recorder: recorder,
		cfg:      cfg,
		log:      logger.Get(),
	}
}

// Process runs prompt through the model. Provider errors are returned as they
// come; format errors are retried up to MaxRetries times, after which the last
// *ValidationError is returned.
func (p *Processor) Process(ctx context.Context, prompt string, opts Options) (*Response, error) {
	format := opts.Format
	if format == "" {
		format = FormatRaw
	}
	temperature := p.cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	current := prompt
	var lastErr *ValidationError
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		raw, err := p.client.Complete(ctx, CompletionRequest{
			Prompt:      current,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			p.log.Error("LLM request failed", "error", err.Error(), "attempt", attempt+1)
			return nil, fmt.Errorf("llm completion failed: %w", err)
		}

		cleaned := CleanResponse(raw)
		p.record(ctx, current, cleaned, format, temperature, maxTokens)

		data, verr := parse(cleaned, format)
		if verr == nil {
			return &Response{Text: cleaned, Data: data}, nil
		}

		lastErr = verr
		if attempt < p.cfg.MaxRetries {
			p.log.Info("Retrying with format correction", "attempt", attempt+1, "format", string(format))
			current = CorrectivePrompt(format, prompt, verr)
		}
	}
	return nil, lastErr
}

func (p *Processor) record(ctx context.Context, prompt, response string, format Format, temperature float64, maxTokens int) {
	if p.recorder == nil {
		return
	}
	t := temperature
	err := p.recorder.RecordPrompt(ctx, &core.PromptRecord{
		PromptText:     prompt,
		ResponseText:   response,
		ResponseFormat: string(format),
		Temperature:    &t,
		MaxTokens:      maxTokens,
	})
	if err != nil {
		p.log.Warn("Failed to record prompt", "error", err.Error())
	}
}

// CorrectivePrompt builds the follow-up prompt sent after a format error
func CorrectivePrompt(format Format, original string, err error) string {
	return fmt.Sprintf("Your previous response was not in valid %s format. Error: %v\n"+
		"Please fix the format issues and provide a valid response.\n"+
		"Original prompt: %s", format, err, original)
}

// CleanResponse strips a surrounding code fence and NUL characters
func CleanResponse(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\x00", ""))
	if strings.HasPrefix(text, "```") {
		switch {
		case strings.HasPrefix(text, "```yaml"):
			text = text[len("```yaml"):]
		case strings.HasPrefix(text, "```json"):
			text = text[len("```json"):]
		default:
			text = text[len("```"):]
		}
		text = strings.TrimSuffix(strings.TrimRight(text, " \t\r\n"), "```")
	}
	return strings.TrimSpace(text)
}

func parse(text string, format Format) (any, *ValidationError) {
	switch format {
	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
			return nil, &ValidationError{Format: format, Err: err}
		}
		return doc, nil
	case FormatJSON:
		var doc any
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return nil, &ValidationError{Format: format, Err: err}
		}
		return doc, nil
	default:
		return text, nil
	}
}
