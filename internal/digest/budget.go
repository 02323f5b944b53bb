package digest

import (
	"fmt"
	"sort"
	"strings"

	"octopus/internal/core"
)

// CharsPerToken is the estimation ratio used for context sizing
const CharsPerToken = 4

// EstimateTokens approximates the token count of s
func EstimateTokens(s string) int {
	return len(s) / CharsPerToken
}

// ContextItem is one processed item ready to be rendered into the prompt
type ContextItem struct {
	Ref      core.RelatedItem
	Title    string
	Locator  string
	Content  string // Full raw content, may be empty
	Summary  string
	Entities []core.EntityMention
}

// FormatBlock renders item. The summary is used when useSummary is set or
// the content is blank.
func FormatBlock(item ContextItem, useSummary bool) string {
	var b strings.Builder

	title := item.Title
	if strings.TrimSpace(title) == "" {
		title = "Untitled"
	}
	b.WriteString("Story: ")
	b.WriteString(title)
	if item.Locator != "" {
		fmt.Fprintf(&b, " (%s)", item.Locator)
	}
	b.WriteByte('\n')

	if item.Ref != nil {
		fmt.Fprintf(&b, "Type: %s\nID: %d\n", item.Ref.Kind(), item.Ref.RawID())
	}

	if len(item.Entities) > 0 {
		b.WriteString("Entities:\n")
		for _, e := range item.Entities {
			fmt.Fprintf(&b, "- %s (%s)\n", e.Name, e.Type)
		}
	}

	if useSummary || strings.TrimSpace(item.Content) == "" {
		b.WriteString("Summary:\n")
		b.WriteString(item.Summary)
	} else {
		b.WriteString("Content:\n")
		b.WriteString(item.Content)
	}
	b.WriteString("\n---\n")
	return b.String()
}

// BuildContext renders items in order, replacing full content with summaries,
// largest content first, until the summed block estimates fit within
// totalTokenBudget-reservedPromptTokens. Items are never dropped; when even
// the all-summary context is too large it is returned as is.
func BuildContext(items []ContextItem, reservedPromptTokens, totalTokenBudget int) string {
	if len(items) == 0 {
		return ""
	}
	available := totalTokenBudget - reservedPromptTokens

	blocks := make([]string, len(items))
	tokens := make([]int, len(items))
	total := 0
	for i, item := range items {
		blocks[i] = FormatBlock(item, false)
		tokens[i] = EstimateTokens(blocks[i])
		total += tokens[i]
	}

	if total > available {
		order := make([]int, len(items))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return len(items[order[a]].Content) > len(items[order[b]].Content)
		})

		for _, idx := range order {
			if total <= available {
				break
			}
			summary := FormatBlock(items[idx], true)
			summaryTokens := EstimateTokens(summary)
			total += summaryTokens - tokens[idx]
			blocks[idx] = summary
			tokens[idx] = summaryTokens
		}
	}

	return strings.Join(blocks, "\n")
}
