package enrich

import (
	"strings"
)

// AnalysisPromptTemplate asks for a YAML summary, tags and entities.
// Placeholders: {story_content}, {target_content}, {comments_content}.
const AnalysisPromptTemplate = `You are analyzing a technology news story for a weekly digest.

Read the story, the linked article and the discussion below, then respond with YAML only, using exactly this structure:

summary: A concise summary of the story in 3 to 5 sentences. Focus on what happened and why it matters to engineers.
tags:
  - name: lowercase topic name, for example "machine learning", "generative ai", "cybersecurity", "databases"
    score: relevance between 0.0 and 1.0
entities:
  - name: name of a company, product, person or framework mentioned
    type: one of company, product, person, framework
    score: importance to the story between 0.0 and 1.0
    context: one sentence describing the entity's role in the story

Always score the tags "machine learning", "generative ai" and "cybersecurity", using 0.0 when they do not apply.
Do not wrap the YAML in prose.

Story:
{story_content}

Linked article:
{target_content}

Discussion:
{comments_content}
`

// Input is the text an item contributes to the analysis prompt
type Input struct {
	Content       string   // Item body
	TargetContent string   // Extracted external content
	Comments      []string // Discussion, HN only
}

// Empty reports whether there is nothing to analyze
func (in Input) Empty() bool {
	return strings.TrimSpace(in.Content) == "" &&
		strings.TrimSpace(in.TargetContent) == "" &&
		len(in.Comments) == 0
}

// AnalysisPrompt renders the analysis prompt for in
func AnalysisPrompt(in Input) string {
	comments := "No comments available"
	if len(in.Comments) > 0 {
		comments = strings.Join(in.Comments, "\n")
	}
	r := strings.NewReplacer(
		"{story_content}", in.Content,
		"{target_content}", in.TargetContent,
		"{comments_content}", comments,
	)
	return r.Replace(AnalysisPromptTemplate)
}
