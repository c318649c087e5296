// Package validate implements the structural acceptance predicate over a
// decoded wire.Envelope (spec §4.5). It is deliberately a pure function with
// no side effects: the state manager is the only caller, and it turns a
// rejection into a silent drop (spec §7).
package validate

import "meshcore/wire"

// Envelope reports whether e passes the structural validity rules for its
// declared type. Required for every type: non-empty t, non-empty from, and a
// non-zero-looking ts is NOT required (0 is a valid timestamp) — only that
// From and T are present, matching spec §4.5's "string t, string from,
// number ts" (ts is always a number in Go's typed Envelope, so only
// presence of t/from needs checking here).
func Envelope(e wire.Envelope) bool {
	if e.T == "" || e.From == "" {
		return false
	}

	switch e.T {
	case wire.TypeMove:
		return e.Move != nil

	case wire.TypeInventory:
		return e.Inventory != nil

	case wire.TypeTransfer:
		if e.Transfer == nil {
			return false
		}
		return e.Transfer.To != "" && e.Transfer.Item.ID != ""

	case wire.TypeStateFull:
		return e.StateFull != nil

	case wire.TypeStateDelta:
		return e.StateDelta != nil

	case wire.TypePayload:
		return e.Generic != nil

	case wire.TypePing, wire.TypePong:
		return e.PingPong != nil

	default:
		return false
	}
}
