package service

import (
	"strings"

	"docqa/internal/domain"
)

const promptTemplate = `You are an assistant for question-answering tasks.
Use only the following pieces of retrieved context to answer the question.
If you don't know the answer from the provided context, just say that you don't know.
Do not use any other information. Keep the answer concise.

Question: {question}
Context: {context}
Answer:`

// BuildPrompt fills the answer template with the question and the retrieved
// texts joined by blank lines. No hits gives an empty context.
func BuildPrompt(question string, hits []domain.SearchResult) string {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	r := strings.NewReplacer("{question}", question, "{context}", strings.Join(texts, "\n\n"))
	return r.Replace(promptTemplate)
}
