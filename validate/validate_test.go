package validate

import (
	"testing"

	"meshcore/wire"
)

func TestEnvelopeAcceptsWellFormedMove(t *testing.T) {
	e := wire.Envelope{T: wire.TypeMove, From: "P1", Move: &wire.MovePayload{Position: wire.Position{X: 1, Y: 2}}}
	if !Envelope(e) {
		t.Fatal("expected a well-formed move to validate")
	}
}

func TestEnvelopeRejectsMissingFrom(t *testing.T) {
	e := wire.Envelope{T: wire.TypeMove, Move: &wire.MovePayload{Position: wire.Position{X: 1, Y: 2}}}
	if Envelope(e) {
		t.Fatal("expected an envelope with empty from to be rejected")
	}
}

func TestEnvelopeRejectsUnknownType(t *testing.T) {
	e := wire.Envelope{T: "teleport", From: "P1"}
	if Envelope(e) {
		t.Fatal("expected an unknown type to be rejected")
	}
}

func TestEnvelopeRejectsMoveWithoutPayload(t *testing.T) {
	e := wire.Envelope{T: wire.TypeMove, From: "P1"}
	if Envelope(e) {
		t.Fatal("expected a move without a payload to be rejected")
	}
}

func TestEnvelopeRejectsTransferMissingItemID(t *testing.T) {
	e := wire.Envelope{
		T:    wire.TypeTransfer,
		From: "A",
		Transfer: &wire.TransferPayload{
			To:   "B",
			Item: wire.InventoryItem{Quantity: 1},
		},
	}
	if Envelope(e) {
		t.Fatal("expected a transfer missing item id to be rejected")
	}
}

func TestEnvelopeAcceptsPayloadWithNoAdditionalConstraint(t *testing.T) {
	e := wire.Envelope{T: wire.TypePayload, From: "P1", Generic: &wire.GenericPayload{Payload: "anything"}}
	if !Envelope(e) {
		t.Fatal("expected a generic payload message to validate")
	}
}

func TestEnvelopeAcceptsStateFullAndDelta(t *testing.T) {
	full := wire.Envelope{T: wire.TypeStateFull, From: "H", StateFull: &wire.StateFullPayload{State: wire.NewGlobalGameState()}}
	if !Envelope(full) {
		t.Fatal("expected state_full to validate")
	}
	delta := wire.Envelope{T: wire.TypeStateDelta, From: "H", StateDelta: &wire.StateDeltaPayload{Delta: wire.StateDelta{Tick: 1}}}
	if !Envelope(delta) {
		t.Fatal("expected state_delta to validate")
	}
}
