package state

import "meshcore/wire"

// Clone returns a deep copy of s. Snapshot merge, delta building and
// Manager.Snapshot copy through this function or its per-field helpers, per
// spec §9's deep-copy discipline: structural sharing of mutable subtrees is a
// bug source. Delta application copies through convertTo (delta.go) instead.
func Clone(s wire.GlobalGameState) wire.GlobalGameState {
	return wire.GlobalGameState{
		Players:     clonePlayers(s.Players),
		Inventories: cloneInventories(s.Inventories),
		Objects:     cloneObjects(s.Objects),
		Tick:        s.Tick,
	}
}

func clonePlayers(in map[wire.PlayerId]wire.PlayerState) map[wire.PlayerId]wire.PlayerState {
	out := make(map[wire.PlayerId]wire.PlayerState, len(in))
	for id, p := range in {
		out[id] = clonePlayerState(p)
	}
	return out
}

func clonePlayerState(p wire.PlayerState) wire.PlayerState {
	cp := p
	if p.Position.Z != nil {
		z := *p.Position.Z
		cp.Position.Z = &z
	}
	if p.Velocity != nil {
		v := *p.Velocity
		if v.Z != nil {
			vz := *v.Z
			v.Z = &vz
		}
		cp.Velocity = &v
	}
	return cp
}

func cloneInventories(in map[wire.PlayerId][]wire.InventoryItem) map[wire.PlayerId][]wire.InventoryItem {
	out := make(map[wire.PlayerId][]wire.InventoryItem, len(in))
	for id, items := range in {
		cp := make([]wire.InventoryItem, len(items))
		copy(cp, items)
		out[id] = cp
	}
	return out
}

func cloneObjects(in map[string]wire.GameObject) map[string]wire.GameObject {
	out := make(map[string]wire.GameObject, len(in))
	for id, o := range in {
		cp := o
		cp.Data = deepCopyValue(o.Data)
		out[id] = cp
	}
	return out
}

// deepCopyValue clones a decoded JSON-ish value (map[string]any, []any,
// scalars) so a cloned or delta-built GameObject never shares its Data with
// the stored state. Snapshot/delta payloads only ever contain values decoded
// from JSON, so this covers every shape Encode/Decode can produce.
func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopyValue(vv)
		}
		return out
	default:
		return v
	}
}
