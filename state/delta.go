package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"meshcore/wire"
)

// ApplyDelta applies each change in delta to s in order, overwriting the
// addressed entry with a deep copy of the change's value (made by
// convertTo's JSON round trip), then raises s.Tick to max(s.Tick, delta.Tick).
//
// Paths are dot-separated, no array indices (spec §3). Two shapes are
// supported: "tick", and two-segment paths selecting one entry of players,
// inventories or objects (e.g. "players.P7", "inventories.P7"); a nil
// top-level map is created before the entry is stored. Any other path —
// deeper paths such as "players.P7.position", or an unknown root — makes
// ApplyDelta return an error; changes before it in the same delta stay
// applied and s.Tick is not raised. A change whose value is JSON null deletes the addressed
// map entry rather than setting it to a zero value: this is how
// BuildDeltaFromPaths represents "this entry no longer exists" (spec §9
// leaves the exact deletion representation undefined; this module resolves
// it by treating a nil leaf value as a tombstone for map entries, since the
// alternative — storing a zero-valued PlayerState/InventoryItem slice under
// a live key — would violate the "overwritten, preserve local" intent that
// motivates deltas in the first place).
func ApplyDelta(s *wire.GlobalGameState, delta wire.StateDelta) error {
	for _, ch := range delta.Changes {
		if err := applyPath(s, ch.Path, ch.Value); err != nil {
			return err
		}
	}
	if delta.Tick > s.Tick {
		s.Tick = delta.Tick
	}
	return nil
}

func applyPath(s *wire.GlobalGameState, path string, value any) error {
	segs := strings.Split(path, ".")
	if len(segs) == 0 || segs[0] == "" {
		return fmt.Errorf("state: empty delta path")
	}

	switch segs[0] {
	case "tick":
		tick, err := convertTo[int64](value)
		if err != nil {
			return fmt.Errorf("state: delta path %q: %w", path, err)
		}
		s.Tick = tick
		return nil

	case "players":
		if len(segs) != 2 {
			return fmt.Errorf("state: unsupported players delta path %q", path)
		}
		id := segs[1]
		if value == nil {
			delete(s.Players, id)
			return nil
		}
		p, err := convertTo[wire.PlayerState](value)
		if err != nil {
			return fmt.Errorf("state: delta path %q: %w", path, err)
		}
		if s.Players == nil {
			s.Players = make(map[wire.PlayerId]wire.PlayerState)
		}
		s.Players[id] = p
		return nil

	case "inventories":
		if len(segs) != 2 {
			return fmt.Errorf("state: unsupported inventories delta path %q", path)
		}
		id := segs[1]
		if value == nil {
			delete(s.Inventories, id)
			return nil
		}
		items, err := convertTo[[]wire.InventoryItem](value)
		if err != nil {
			return fmt.Errorf("state: delta path %q: %w", path, err)
		}
		if s.Inventories == nil {
			s.Inventories = make(map[wire.PlayerId][]wire.InventoryItem)
		}
		s.Inventories[id] = items
		return nil

	case "objects":
		if len(segs) != 2 {
			return fmt.Errorf("state: unsupported objects delta path %q", path)
		}
		id := segs[1]
		if value == nil {
			delete(s.Objects, id)
			return nil
		}
		obj, err := convertTo[wire.GameObject](value)
		if err != nil {
			return fmt.Errorf("state: delta path %q: %w", path, err)
		}
		if s.Objects == nil {
			s.Objects = make(map[string]wire.GameObject)
		}
		s.Objects[id] = obj
		return nil

	default:
		return fmt.Errorf("state: unknown delta root %q", segs[0])
	}
}

// BuildDeltaFromPaths atomically reads the current value at each path out of
// s (a deep copy) and returns a StateDelta tagged with tick. A path whose
// entry does not currently exist yields a nil value (a tombstone — see
// ApplyDelta's doc comment). A path of a shape ApplyDelta does not support
// also yields a nil value.
func BuildDeltaFromPaths(s wire.GlobalGameState, tick int64, paths []string) wire.StateDelta {
	changes := make([]wire.PathChange, 0, len(paths))
	for _, path := range paths {
		changes = append(changes, wire.PathChange{Path: path, Value: valueAtPath(s, path)})
	}
	return wire.StateDelta{Tick: tick, Changes: changes}
}

func valueAtPath(s wire.GlobalGameState, path string) any {
	segs := strings.Split(path, ".")
	if len(segs) == 0 {
		return nil
	}
	switch segs[0] {
	case "tick":
		return s.Tick
	case "players":
		if len(segs) != 2 {
			return nil
		}
		p, ok := s.Players[segs[1]]
		if !ok {
			return nil
		}
		return clonePlayerState(p)
	case "inventories":
		if len(segs) != 2 {
			return nil
		}
		items, ok := s.Inventories[segs[1]]
		if !ok {
			return nil
		}
		cp := make([]wire.InventoryItem, len(items))
		copy(cp, items)
		return cp
	case "objects":
		if len(segs) != 2 {
			return nil
		}
		o, ok := s.Objects[segs[1]]
		if !ok {
			return nil
		}
		o.Data = deepCopyValue(o.Data)
		return o
	default:
		return nil
	}
}

// convertTo converts a decoded-JSON-shaped value (or an already-concrete T,
// built locally by BuildDeltaFromPaths) into T via a JSON round trip. The
// round trip doubles as the deep copy the delta-application rule requires:
// the stored leaf never aliases the caller's value, whatever its shape.
func convertTo[T any](value any) (T, error) {
	var zero T
	b, err := json.Marshal(value)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, err
	}
	return out, nil
}
