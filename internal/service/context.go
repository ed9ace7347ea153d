package service

import (
	"strings"

	"github.com/docsage/docsage/internal/model"
)

// ChunkSeparator sits between chunks in the assembled context so the model
// sees where one excerpt ends and the next begins.
const ChunkSeparator = "\n---\n"

// NoRelevantInfoAnswer is returned without any model call when nothing in the
// document was judged relevant. Canned on purpose: asking the model to answer
// from an empty context invites hallucination.
const NoRelevantInfoAnswer = "I could not find relevant information in the document to answer your question."

// AssembleContext joins relevant chunks, in original document order, into the
// grounding block for answer generation. Empty input yields "".
func AssembleContext(chunks []model.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		parts[i] = ch.Text
	}
	return strings.Join(parts, ChunkSeparator)
}

// BuildAnswerPrompt formats the user-turn prompt for answer generation.
func BuildAnswerPrompt(contextText, query string) string {
	var b strings.Builder
	b.WriteString("Context:\n---\n")
	b.WriteString(contextText)
	b.WriteString("\n---\n\nUser Question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")
	return b.String()
}
