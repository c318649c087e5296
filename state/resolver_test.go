package state

import (
	"testing"

	"meshcore/wire"
)

func zf(v float64) *float64 { return &v }

func TestApplyMoveMergesVelocityFieldWise(t *testing.T) {
	r := NewResolver(ModeTimestamp, nil)
	s := wire.NewGlobalGameState()

	r.ApplyMove(&s, "P1", &wire.MovePayload{
		Position: wire.Position{X: 1, Y: 2},
		Velocity: &wire.Velocity{X: 5, Y: 6},
	})

	// Omitting velocity on a later move must not clear it.
	r.ApplyMove(&s, "P1", &wire.MovePayload{Position: wire.Position{X: 3, Y: 4}})

	got := s.Players["P1"]
	if got.Position.X != 3 || got.Position.Y != 4 {
		t.Fatalf("position not updated: %+v", got.Position)
	}
	if got.Velocity == nil || got.Velocity.X != 5 || got.Velocity.Y != 6 {
		t.Fatalf("velocity unexpectedly cleared: %+v", got.Velocity)
	}
}

func TestApplyMovePreservesZWhenOmitted(t *testing.T) {
	r := NewResolver(ModeTimestamp, nil)
	s := wire.NewGlobalGameState()

	r.ApplyMove(&s, "P1", &wire.MovePayload{Position: wire.Position{X: 1, Y: 2, Z: zf(9)}})
	r.ApplyMove(&s, "P1", &wire.MovePayload{Position: wire.Position{X: 1, Y: 2}})

	got := s.Players["P1"]
	if got.Position.Z == nil || *got.Position.Z != 9 {
		t.Fatalf("expected z to survive an update that omits it, got %+v", got.Position)
	}
}

func TestApplyInventoryReplacesWithDeepCopy(t *testing.T) {
	r := NewResolver(ModeTimestamp, nil)
	s := wire.NewGlobalGameState()
	in := []wire.InventoryItem{{ID: "potion", Type: "heal", Quantity: 2}}

	r.ApplyInventory(&s, "A", &wire.InventoryPayload{Items: in})
	in[0].Quantity = 99 // mutate caller's slice

	if s.Inventories["A"][0].Quantity != 2 {
		t.Fatalf("expected stored inventory to be a deep copy, got %+v", s.Inventories["A"])
	}
}

func TestApplyTransferDecrementsAndMerges(t *testing.T) {
	r := NewResolver(ModeTimestamp, nil)
	s := wire.NewGlobalGameState()
	s.Inventories["A"] = []wire.InventoryItem{{ID: "potion", Type: "heal", Quantity: 2}}

	ok := r.ApplyTransfer(&s, "A", &wire.TransferPayload{To: "B", Item: wire.InventoryItem{ID: "potion", Type: "heal", Quantity: 1}})
	if !ok {
		t.Fatal("expected transfer to succeed")
	}
	if len(s.Inventories["A"]) != 1 || s.Inventories["A"][0].Quantity != 1 {
		t.Fatalf("expected A to retain quantity 1, got %+v", s.Inventories["A"])
	}
	if len(s.Inventories["B"]) != 1 || s.Inventories["B"][0].Quantity != 1 {
		t.Fatalf("expected B to receive quantity 1, got %+v", s.Inventories["B"])
	}

	// A second transfer of quantity 2 from A (which now only has 1) is rejected.
	ok = r.ApplyTransfer(&s, "A", &wire.TransferPayload{To: "B", Item: wire.InventoryItem{ID: "potion", Type: "heal", Quantity: 2}})
	if ok {
		t.Fatal("expected transfer with insufficient quantity to be rejected")
	}
	if len(s.Inventories["A"]) != 1 || s.Inventories["A"][0].Quantity != 1 {
		t.Fatalf("rejected transfer must not mutate state, got %+v", s.Inventories["A"])
	}
}

func TestApplyTransferPrunesZeroedItem(t *testing.T) {
	r := NewResolver(ModeTimestamp, nil)
	s := wire.NewGlobalGameState()
	s.Inventories["A"] = []wire.InventoryItem{{ID: "potion", Type: "heal", Quantity: 1}}

	r.ApplyTransfer(&s, "A", &wire.TransferPayload{To: "B", Item: wire.InventoryItem{ID: "potion", Type: "heal", Quantity: 1}})

	if len(s.Inventories["A"]) != 0 {
		t.Fatalf("expected A's entry to be pruned once quantity hits zero, got %+v", s.Inventories["A"])
	}
}

func TestApplyTransferRejectsUnknownItem(t *testing.T) {
	r := NewResolver(ModeTimestamp, nil)
	s := wire.NewGlobalGameState()
	s.Inventories["A"] = []wire.InventoryItem{{ID: "potion", Type: "heal", Quantity: 1}}

	ok := r.ApplyTransfer(&s, "A", &wire.TransferPayload{To: "B", Item: wire.InventoryItem{ID: "sword", Quantity: 1}})
	if ok {
		t.Fatal("expected transfer of an item the sender does not hold to be rejected")
	}
}

func TestAuthorityGateRejectsNonAuthoritySender(t *testing.T) {
	r := NewResolver(ModeAuthoritative, func() wire.PlayerId { return "HOST" })

	if r.Accept(wire.TypeMove, "OTHER") {
		t.Fatal("expected move from a non-authority sender to be rejected")
	}
	if !r.Accept(wire.TypeMove, "HOST") {
		t.Fatal("expected move from the authority to be accepted")
	}
}

func TestAuthorityGateDoesNotCoverSnapshotsOrDeltas(t *testing.T) {
	r := NewResolver(ModeAuthoritative, func() wire.PlayerId { return "HOST" })

	if !r.Accept(wire.TypeStateFull, "ANYONE") {
		t.Fatal("expected state_full to bypass the authority gate")
	}
	if !r.Accept(wire.TypeStateDelta, "ANYONE") {
		t.Fatal("expected state_delta to bypass the authority gate")
	}
}

func TestTimestampModeNeverGates(t *testing.T) {
	r := NewResolver(ModeTimestamp, nil)
	if !r.Accept(wire.TypeMove, "ANYONE") {
		t.Fatal("timestamp mode must never reject on authority grounds")
	}
}
