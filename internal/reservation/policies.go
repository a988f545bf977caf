package reservation

import (
	"slices"
	"strings"
)

// Policy is one entry of the hotel's policy handbook.
type Policy struct {
	Topic    string
	Keywords []string
	Text     string
}

// DefaultPolicies is the handbook the compliance path searches.
var DefaultPolicies = []Policy{
	{
		Topic:    "cancellation",
		Keywords: []string{"cancel", "cancellation", "refund", "change"},
		Text:     "Reservations can be cancelled free of charge up to 48 hours before check-in. Later cancellations are charged one night.",
	},
	{
		Topic:    "deposit",
		Keywords: []string{"deposit", "prepay", "payment", "card"},
		Text:     "A card guarantee is required at booking. Suites require a deposit of one night, refunded under the cancellation policy.",
	},
	{
		Topic:    "pets",
		Keywords: []string{"pet", "pets", "dog", "cat", "animal"},
		Text:     "Dogs and cats under 15 kg are welcome in standard and deluxe rooms for a cleaning fee of 25 per stay.",
	},
	{
		Topic:    "smoking",
		Keywords: []string{"smoke", "smoking", "vape", "cigarette"},
		Text:     "All rooms are non-smoking. Smoking in a room incurs a 250 cleaning charge.",
	},
	{
		Topic:    "check-in",
		Keywords: []string{"check-in", "checkin", "arrival", "id", "identification", "passport"},
		Text:     "Check-in starts at 15:00. Every adult guest must present a government-issued photo ID.",
	},
}

// SearchPolicies returns up to limit policies ranked by how many of their
// keywords appear in query. Ties keep handbook order.
func SearchPolicies(policies []Policy, query string, limit int) []Policy {
	words := tokenize(query)

	type hit struct {
		policy Policy
		score  int
	}
	var hits []hit
	for _, p := range policies {
		score := 0
		for _, kw := range p.Keywords {
			if slices.Contains(words, kw) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{policy: p, score: score})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return b.score - a.score })

	out := make([]Policy, 0, min(limit, len(hits)))
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, h.policy)
	}
	return out
}

// tokenize lowercases text and splits it on anything that is not a letter,
// digit or hyphen.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '-' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
