package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// sortedProviders returns the result's keys in stable order so prompts are
// deterministic for a given result set.
func sortedProviders(r domain.StageResult) []domain.ProviderID {
	out := make([]domain.ProviderID, 0, len(r))
	for p := range r {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// metaPrompt asks a provider to refine its own answer against its peers'.
func metaPrompt(self domain.ProviderID, question string, initial domain.StageResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You previously answered the question below. Other assistants answered it too.\n")
	fmt.Fprintf(&b, "Review every answer and produce an improved one.\n\n")
	fmt.Fprintf(&b, "Question:\n%s\n\n", question)
	fmt.Fprintf(&b, "Your answer:\n%s\n", initial[self])

	for _, p := range sortedProviders(initial) {
		if p == self {
			continue
		}
		fmt.Fprintf(&b, "\nAnswer from another assistant:\n%s\n", initial[p])
	}
	return b.String()
}

// synthesisPrompt asks one provider to merge a settled stage into a single
// answer.
func synthesisPrompt(question string, results domain.StageResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Multiple assistants answered the question below.\n")
	fmt.Fprintf(&b, "Synthesize their answers into one response, resolving disagreements.\n\n")
	fmt.Fprintf(&b, "Question:\n%s\n", question)

	for i, p := range sortedProviders(results) {
		fmt.Fprintf(&b, "\nAnswer %d:\n%s\n", i+1, results[p])
	}
	return b.String()
}

// refinementPrompt asks one provider to polish a single synthesized answer.
func refinementPrompt(question, draft string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Below is a synthesized answer to a question.\n")
	fmt.Fprintf(&b, "Produce the final version: correct errors, tighten wording, keep substance.\n\n")
	fmt.Fprintf(&b, "Question:\n%s\n\n", question)
	fmt.Fprintf(&b, "Draft answer:\n%s\n", draft)
	return b.String()
}
