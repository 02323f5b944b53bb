package digest

import "strings"

// DigestPromptTemplate frames the selected stories for the weekly digest.
// {context} is replaced with the rendered story blocks.
const DigestPromptTemplate = `You are a senior technology analyst writing a digest for engineers and engineering leaders.

Below are stories collected from Hacker News, technology newsletters and Telegram channels. Each story is separated by "---" and lists its source type, id, notable entities and either its full content or a summary.

Write a digest in plain text that:
- Opens with a short overview of the most important developments in the period.
- Groups related stories into themes such as artificial intelligence, machine learning, large language models, cybersecurity and computer vision.
- For each theme, explains what happened, who is involved and why it matters, citing story titles.
- Calls out emerging trends, notable releases and security incidents that need attention.
- Ends with a short list of the stories most worth reading in full.

Do not invent facts that are not supported by the stories.

Stories:
{context}
`

// DigestPrompt inserts context into the template
func DigestPrompt(context string) string {
	return strings.Replace(DigestPromptTemplate, "{context}", context, 1)
}
