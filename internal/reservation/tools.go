package reservation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/randalmurphal/joingraph/pkg/joingraph/retry"
	"github.com/randalmurphal/joingraph/pkg/joingraph/tool"
)

// Tool names offered to the models.
const (
	ToolFindReservation = "find_reservation"
	ToolRoomRates       = "room_rates"
	ToolSearchPolicies  = "search_policies"
)

// NoResults is what a tool returns when nothing matched the query.
const NoResults = "No matching records."

// maxPolicyHits bounds the excerpts one search returns.
const maxPolicyHits = 2

// queryArgs is the argument shape shared by every tool.
type queryArgs struct {
	Query string `json:"query"`
}

var querySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "The guest's request, or the names and codes it mentions."}
	},
	"required": ["query"]
}`)

// BookingTools is the tool set of the first reservation assistant: it can
// look reservations up by guest name or reservation code.
func BookingTools(db *DB, cfg retry.Config) *tool.Set {
	find := tool.New(ToolFindReservation,
		"Find reservations by guest name or reservation code.",
		querySchema,
		func(ctx context.Context, in queryArgs) (string, error) {
			bookings, err := db.FindBookings(ctx, in.Query)
			if err != nil {
				return "", retry.Transient(err, ToolFindReservation)
			}
			if len(bookings) == 0 {
				return NoResults, nil
			}
			lines := make([]string, len(bookings))
			for i, b := range bookings {
				lines[i] = fmt.Sprintf("Reservation %s for %s: %s room %d, check-in %s, %d night(s), %s.",
					b.Code, b.Guest, b.Kind, b.Room, b.CheckIn, b.Nights, b.Status)
			}
			return strings.Join(lines, "\n"), nil
		})
	return tool.MustSet(tool.WithRetry(find, cfg))
}

// RateTools is the tool set of the second reservation assistant: it knows
// room types and nightly rates but not individual reservations.
func RateTools(db *DB, cfg retry.Config) *tool.Set {
	rates := tool.New(ToolRoomRates,
		"Look up nightly rates and capacity for the room types mentioned in the query.",
		querySchema,
		func(ctx context.Context, in queryArgs) (string, error) {
			kinds, err := db.FindRoomTypes(ctx, in.Query)
			if err != nil {
				return "", retry.Transient(err, ToolRoomRates)
			}
			if len(kinds) == 0 {
				return NoResults, nil
			}
			lines := make([]string, len(kinds))
			for i, k := range kinds {
				lines[i] = fmt.Sprintf("The %s room costs %d.%02d per night and sleeps %d.",
					k.Kind, k.RateCents/100, k.RateCents%100, k.Capacity)
			}
			return strings.Join(lines, "\n"), nil
		})
	return tool.MustSet(tool.WithRetry(rates, cfg))
}

// PolicyTools is the tool set of the compliance path.
func PolicyTools(policies []Policy) *tool.Set {
	search := tool.New(ToolSearchPolicies,
		"Search the hotel policy handbook.",
		querySchema,
		func(_ context.Context, in queryArgs) (string, error) {
			hits := SearchPolicies(policies, in.Query, maxPolicyHits)
			if len(hits) == 0 {
				return NoResults, nil
			}
			texts := make([]string, len(hits))
			for i, p := range hits {
				texts[i] = p.Text
			}
			return strings.Join(texts, "\n"), nil
		})
	return tool.MustSet(search)
}
