// Package reservation is the hotel front desk workflow built on joingraph.
//
// A guest message enters at the conversational node, which classifies it.
// Reservation questions fan out to two SQL assistants with different tool
// sets (bookings and room rates); their drafts are merged by the reducer
// into one answer. Policy questions take the compliance path, which searches
// the policy handbook and answers from the excerpts. Small talk is answered
// directly.
//
//	db, _ := reservation.OpenDB(ctx, ":memory:")
//	wf := &reservation.Workflow{Settings: reservation.DefaultSettings(), Client: reservation.ScriptedClient{}, DB: db}
//	compiled, _ := wf.Compile()
//	answer, _, err := reservation.Ask(joingraph.NewContext(ctx), compiled, "Is my reservation for Ana Silva confirmed?")
package reservation
