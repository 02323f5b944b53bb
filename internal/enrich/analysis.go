package enrich

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"octopus/internal/core"
)

// Summaries stored when the model output cannot be used
const (
	SummaryInvalidFormat = "Error: Invalid response format"
	SummaryInvalidData   = "Error: Invalid response data"
)

// DegradedScore is given to required tags on degraded analyses
const DegradedScore = 0.5

// Analysis is the validated model output for one item
type Analysis struct {
	Summary  string
	Tags     []core.TagScore
	Entities []core.EntityMention
}

var (
	errInvalidData = errors.New("invalid response data")
	errScoreRange  = errors.New("score outside [0, 1]")
)

// Degraded returns the analysis stored when the response is unusable
func Degraded(summary string, requiredTags []string) Analysis {
	tags := make([]core.TagScore, 0, len(requiredTags))
	for _, name := range requiredTags {
		tags = append(tags, core.TagScore{Name: name, Score: DegradedScore})
	}
	return Analysis{Summary: summary, Tags: tags}
}

// ParseAnalysis validates a decoded YAML document. Structural problems give
// the degraded "invalid data" analysis; bad entities are dropped one by one.
// Required tags missing from the response are added with score 0.
func ParseAnalysis(doc any, requiredTags []string, log *slog.Logger) Analysis {
	a, err := parseDocument(doc, log)
	if err != nil {
		log.Error("Missing or invalid data in response", "error", err.Error())
		return Degraded(SummaryInvalidData, requiredTags)
	}

	present := make(map[string]bool, len(a.Tags))
	for _, t := range a.Tags {
		present[t.Name] = true
	}
	for _, name := range requiredTags {
		if !present[name] {
			a.Tags = append(a.Tags, core.TagScore{Name: name, Score: 0})
		}
	}
	return a
}

func parseDocument(doc any, log *slog.Logger) (Analysis, error) {
	root, ok := doc.(map[string]any)
	if !ok {
		return Analysis{}, fmt.Errorf("%w: response is not a mapping", errInvalidData)
	}

	summary, err := parseSummary(root)
	if err != nil {
		return Analysis{}, err
	}
	tags, err := parseTags(root, log)
	if err != nil {
		return Analysis{}, err
	}

	return Analysis{
		Summary:  summary,
		Tags:     tags,
		Entities: parseEntities(root["entities"], log),
	}, nil
}

func parseSummary(root map[string]any) (string, error) {
	raw, ok := root["summary"]
	if !ok || raw == nil {
		return "", fmt.Errorf("%w: missing summary", errInvalidData)
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case map[string]any:
		text, ok := v["text"]
		if !ok || text == nil {
			return "", fmt.Errorf("%w: summary mapping has no text", errInvalidData)
		}
		return fmt.Sprint(text), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// parseTags skips tags scored outside [0, 1]; any other bad entry
// invalidates the response
func parseTags(root map[string]any, log *slog.Logger) ([]core.TagScore, error) {
	raw, ok := root["tags"]
	if !ok {
		return nil, fmt.Errorf("%w: missing tags", errInvalidData)
	}
	list, ok := raw.([]any)
	if !ok && raw != nil {
		return nil, fmt.Errorf("%w: tags is not a list", errInvalidData)
	}

	seen := make(map[string]bool)
	tags := make([]core.TagScore, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: tag entry is not a mapping", errInvalidData)
		}
		name := NormalizeTag(stringField(m, "name"))
		if name == "" {
			return nil, fmt.Errorf("%w: tag without name", errInvalidData)
		}
		score, err := toScore(m["score"])
		if errors.Is(err, errScoreRange) {
			log.Warn("Skipping tag with out of range score", "tag", name, "error", err.Error())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: tag %q: %v", errInvalidData, name, err)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		tags = append(tags, core.TagScore{Name: name, Score: score})
	}
	return tags, nil
}

func parseEntities(raw any, log *slog.Logger) []core.EntityMention {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}

	type key struct{ name, typ string }
	seen := make(map[key]bool)
	var out []core.EntityMention
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			log.Warn("Skipping entity that is not a mapping", "entity", fmt.Sprint(item))
			continue
		}
		name := strings.TrimSpace(stringField(m, "name"))
		typ := strings.ToLower(strings.TrimSpace(stringField(m, "type")))
		context := strings.TrimSpace(stringField(m, "context"))
		rawScore, hasScore := m["score"]
		if name == "" || typ == "" || context == "" || !hasScore || rawScore == nil {
			log.Warn("Skipping entity with missing data", "entity", fmt.Sprint(m))
			continue
		}
		if !core.ValidEntityType(typ) {
			log.Warn("Skipping entity with invalid type", "name", name, "type", typ)
			continue
		}
		score, err := toScore(rawScore)
		if err != nil {
			log.Warn("Skipping entity with invalid score", "name", name, "score", fmt.Sprint(rawScore))
			continue
		}
		k := key{name, typ}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, core.EntityMention{Name: name, Type: typ, Score: score, Context: context})
	}
	return out
}

// NormalizeTag lowercases and trims a tag name
func NormalizeTag(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// toScore accepts numbers and numeric strings within [0, 1]
func toScore(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric score %q", n)
		}
		f = parsed
	case nil:
		return 0, errors.New("missing score")
	default:
		return 0, fmt.Errorf("non-numeric score %v", v)
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("%w: %v", errScoreRange, f)
	}
	return f, nil
}
