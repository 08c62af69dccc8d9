package llm

import (
	"fmt"
	"strings"
)

// buildEnrichPrompt constructs the structured-annotation prompt for one text.
// The output contract mirrors the enrichment JSON schema in decode.go.
func buildEnrichPrompt(text string) string {
	var sb strings.Builder

	sb.WriteString(`You are a precise content annotator. Extract structured annotations from the input text.
Do not invent facts; every annotation must be supported by the text itself.`)
	sb.WriteString("\n\n")

	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n{\n")
	sb.WriteString("  \"primary_text\": string (required) // the cleaned, substantive text of the item\n")
	sb.WriteString("  \"summary\": string // one-paragraph summary\n")
	sb.WriteString("  \"topics\": []string // short topical labels\n")
	sb.WriteString("  \"entities\": []string // named entities mentioned\n")
	sb.WriteString("  \"language\": string // ISO 639-1 code of the text language\n")
	sb.WriteString("}\n\n")

	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Return ONLY the JSON object, no markdown, no explanation, no code blocks.\n")
	sb.WriteString("- primary_text must never be empty.\n\n")

	sb.WriteString("Input text:\n\"\"\"\n")
	sb.WriteString(text)
	sb.WriteString("\n\"\"\"\n")

	return sb.String()
}

// buildClusterPrompt constructs the clustering prompt for a document set.
func buildClusterPrompt(docs []Document) string {
	var sb strings.Builder

	sb.WriteString(`You are a topic clustering engine. Group the documents below into coherent topics
and score each document's relevance to its topic in [0,1].
A document may appear in more than one topic if genuinely relevant to both.`)
	sb.WriteString("\n\n")

	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n")
	sb.WriteString(`{"clusters": [{"title": string, "description": string, "members": [{"ref": string, "score": number, "justification": string}]}]}`)
	sb.WriteString("\n\n")

	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Use only the ref values given below; never invent refs.\n")
	sb.WriteString("- Scores are in [0,1].\n")
	sb.WriteString("- Return ONLY the JSON object, no markdown, no explanation, no code blocks.\n\n")

	sb.WriteString("Documents:\n")
	for _, doc := range docs {
		text := doc.Text
		if len(text) > 2000 {
			text = text[:2000]
		}
		sb.WriteString(fmt.Sprintf("--- ref: %s\n%s\n", doc.Ref, text))
	}

	return sb.String()
}
