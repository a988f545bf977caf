package reservation

import (
	"slices"

	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/state"
)

// Intent is what the guest's latest message asks for.
type Intent string

const (
	IntentReservation Intent = "reservation"
	IntentCompliance  Intent = "compliance"
	IntentChat        Intent = "chat"
)

var (
	reservationWords = []string{
		"reservation", "reservations", "booking", "booked", "book",
		"room", "rooms", "rate", "rates", "stay", "confirmed", "confirm",
		"suite", "deluxe", "standard", "night", "nights",
	}
	complianceWords = []string{
		"policy", "policies", "allowed", "cancel", "cancellation", "refund",
		"pet", "pets", "dog", "cat", "smoke", "smoking", "deposit", "id",
		"passport", "rule", "rules",
	}
)

// Classify picks the intent of text and a confidence between 0 and 100.
// A tie between reservation and compliance words goes to compliance.
func Classify(text string) (Intent, int) {
	var res, comp int
	for _, w := range tokenize(text) {
		if slices.Contains(reservationWords, w) {
			res++
		}
		if slices.Contains(complianceWords, w) {
			comp++
		}
	}

	switch {
	case res == 0 && comp == 0:
		return IntentChat, 50
	case comp >= res:
		return IntentCompliance, confidence(comp, res)
	default:
		return IntentReservation, confidence(res, comp)
	}
}

func confidence(winner, other int) int {
	return 100 * winner / (winner + other)
}

// ChooseNext routes the conversational node. A pending guest message goes to
// the path its intent selects; an answered conversation ends the run.
func ChooseNext(_ joingraph.Context, s state.Snapshot) string {
	last, ok := llm.Last(state.Seq[llm.Message](s, FieldMessages))
	if !ok || last.Role != llm.RoleUser {
		return joingraph.END
	}

	switch Intent(state.GetOr(s, FieldIntent, "")) {
	case IntentReservation:
		return NodeFanOut
	case IntentCompliance:
		return NodeCompliance
	default:
		return joingraph.END
	}
}
