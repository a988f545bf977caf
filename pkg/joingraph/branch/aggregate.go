package branch

import (
	"context"
	"slices"
	"strings"

	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
)

// NoAnswer is what PreferInformative returns when no draft helps.
const NoAnswer = "Sorry, I could not find the information needed to answer that."

var unhelpfulMarkers = []string{
	"cannot help",
	"can't help",
	"unable to help",
	"don't have access",
	"do not have access",
	"no access to",
	"lack the",
	"lacks the",
	"don't have the data",
	"do not have the data",
	"no information",
}

// Unhelpful reports whether a draft says it cannot help or lacks data.
func Unhelpful(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range unhelpfulMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// PreferInformative returns an aggregator that needs no model: it drops
// unhelpful drafts and duplicates and joins the rest. It expects the last
// message to be the output of RenderDrafts.
func PreferInformative() llm.Reasoner {
	return llm.ReasonerFunc(func(_ context.Context, messages []llm.Message) (any, error) {
		last, ok := llm.Last(messages)
		if !ok {
			return nil, llm.ErrUnusableOutput
		}

		var keep []string
		for _, d := range ParseDrafts(last.Content) {
			d = strings.TrimSpace(d)
			if d == "" || Unhelpful(d) || slices.Contains(keep, d) {
				continue
			}
			keep = append(keep, d)
		}
		if len(keep) == 0 {
			return llm.Assistant(NoAnswer), nil
		}
		return llm.Assistant(strings.Join(keep, "\n\n")), nil
	})
}
