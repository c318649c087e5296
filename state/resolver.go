package state

import "meshcore/wire"

// Mode selects how the resolver arbitrates mutating envelopes (spec §4.3).
type Mode string

const (
	ModeTimestamp     Mode = "timestamp"
	ModeAuthoritative Mode = "authoritative"
)

// AuthorityProvider returns the PlayerId currently treated as the
// authoritative sender in ModeAuthoritative. The session facade supplies
// this — it may be a pinned id or the current host, per §9's
// host-as-authority coupling.
type AuthorityProvider func() wire.PlayerId

// Resolver applies one accepted envelope's payload to a GlobalGameState. It
// is stateless with respect to sequence numbers — that bookkeeping lives in
// Manager — and holds only the arbitration mode and the authority lookup.
type Resolver struct {
	mode      Mode
	authority AuthorityProvider
}

func NewResolver(mode Mode, authority AuthorityProvider) *Resolver {
	return &Resolver{mode: mode, authority: authority}
}

// Accept implements the authority gate: in ModeAuthoritative, move/
// inventory/transfer from anyone but the current authority are rejected.
// Snapshots and deltas never go through Accept — the state manager applies
// those from whoever sent them (spec §4.3).
func (r *Resolver) Accept(t wire.Type, from wire.PlayerId) bool {
	if r.mode != ModeAuthoritative {
		return true
	}
	switch t {
	case wire.TypeMove, wire.TypeInventory, wire.TypeTransfer:
		return from == r.authority()
	default:
		return true
	}
}

// ApplyMove upserts players[from], merging position and velocity field-wise
// so an omitted field does not clear the existing value, and returns the
// resulting PlayerState.
func (r *Resolver) ApplyMove(s *wire.GlobalGameState, from wire.PlayerId, p *wire.MovePayload) wire.PlayerState {
	if s.Players == nil {
		s.Players = make(map[wire.PlayerId]wire.PlayerState)
	}
	existing := s.Players[from]

	pos := p.Position
	if pos.Z == nil {
		pos.Z = existing.Position.Z
	}

	vel := mergeVelocity(existing.Velocity, p.Velocity)

	updated := wire.PlayerState{ID: from, Position: pos, Velocity: vel}
	s.Players[from] = updated
	return updated
}

func mergeVelocity(existing, incoming *wire.Velocity) *wire.Velocity {
	if incoming == nil {
		return existing
	}
	merged := *incoming
	if merged.Z == nil && existing != nil {
		merged.Z = existing.Z
	}
	return &merged
}

// ApplyInventory replaces inventories[from] with a deep copy of the
// provided list and returns the stored copy.
func (r *Resolver) ApplyInventory(s *wire.GlobalGameState, from wire.PlayerId, inv *wire.InventoryPayload) []wire.InventoryItem {
	if s.Inventories == nil {
		s.Inventories = make(map[wire.PlayerId][]wire.InventoryItem)
	}
	cp := make([]wire.InventoryItem, len(inv.Items))
	copy(cp, inv.Items)
	s.Inventories[from] = cp
	return cp
}

// ApplyTransfer moves one item between inventories. It returns false (no
// mutation performed) if from's inventory lacks the item id or holds
// insufficient quantity.
func (r *Resolver) ApplyTransfer(s *wire.GlobalGameState, from wire.PlayerId, t *wire.TransferPayload) bool {
	senderItems := s.Inventories[from]
	idx := -1
	for i, it := range senderItems {
		if it.ID == t.Item.ID {
			idx = i
			break
		}
	}
	if idx == -1 || senderItems[idx].Quantity < t.Item.Quantity {
		return false
	}

	senderItems[idx].Quantity -= t.Item.Quantity
	if senderItems[idx].Quantity == 0 {
		senderItems = append(senderItems[:idx], senderItems[idx+1:]...)
	}
	if s.Inventories == nil {
		s.Inventories = make(map[wire.PlayerId][]wire.InventoryItem)
	}
	s.Inventories[from] = senderItems

	receiverItems := s.Inventories[t.To]
	merged := false
	for i, it := range receiverItems {
		if it.ID == t.Item.ID {
			receiverItems[i].Quantity += t.Item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		receiverItems = append(receiverItems, wire.InventoryItem{
			ID:       t.Item.ID,
			Type:     t.Item.Type,
			Quantity: t.Item.Quantity,
		})
	}
	s.Inventories[t.To] = receiverItems

	return true
}
