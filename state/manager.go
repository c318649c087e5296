package state

import (
	"log/slog"
	"sync"

	"meshcore/bus"
	"meshcore/validate"
	"meshcore/wire"
)

// Manager owns the replicated GlobalGameState and the per-sender dedup
// counters, and is the single entry point (Handle) through which every
// incoming envelope must pass before it can change state (spec §4.4). The
// session facade also routes its own locally-originated move/inventory/
// transfer envelopes through this same entry point (ApplyLocal) so local
// state, the authority gate, and the per-sender dedup bookkeeping stay
// identical regardless of whether an envelope originated locally or over
// the wire (spec §5).
type Manager struct {
	mu             sync.RWMutex
	localId        wire.PlayerId
	state          wire.GlobalGameState
	lastAppliedSeq map[wire.PlayerId]int64

	resolver     *Resolver
	bus          *bus.Bus
	debugEnabled bool
	logger       *slog.Logger
	moveHook     func(id wire.PlayerId, ts float64)
}

func NewManager(localId wire.PlayerId, resolver *Resolver, b *bus.Bus, debugEnabled bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		localId:        localId,
		state:          wire.NewGlobalGameState(),
		lastAppliedSeq: make(map[wire.PlayerId]int64),
		resolver:       resolver,
		bus:            b,
		debugEnabled:   debugEnabled,
		logger:         logger,
	}
}

// Handle is the state manager's entry point (spec §4.4): structural
// validation, per-sender sequence dedup, then dispatch to the resolver or
// the snapshot/delta handling, emitting the matching domain event on
// acceptance. Rejections at any step are silent drops, per spec §7.
func (m *Manager) Handle(e wire.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apply(e)
}

// ApplyLocal runs e through the exact same acceptance path as Handle and
// reports whether it mutated state, for the session facade's locally
// originated move/inventory/transfer calls (spec §6.3). Routing local
// envelopes through this rather than mutating the resolver directly keeps
// the authority gate, the per-sender seq bookkeeping, and the movement
// integrator's move hook consistent between local and remote origin.
func (m *Manager) ApplyLocal(e wire.Envelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apply(e)
}

// apply is Handle/ApplyLocal's shared body. Caller must hold mu.
func (m *Manager) apply(e wire.Envelope) bool {
	if !validate.Envelope(e) {
		m.debugf("dropped envelope", "reason", "invalid", "from", e.From, "type", e.T)
		return false
	}

	if e.Seq != nil {
		last, ok := m.lastAppliedSeq[e.From]
		if !ok {
			last = -1
		}
		if int64(*e.Seq) <= last {
			m.debugf("dropped envelope", "reason", "stale_seq", "from", e.From, "seq", *e.Seq)
			return false
		}
		m.lastAppliedSeq[e.From] = int64(*e.Seq)
	}

	switch e.T {
	case wire.TypeMove:
		if !m.resolver.Accept(e.T, e.From) {
			m.debugf("dropped envelope", "reason", "not_authority", "from", e.From, "type", e.T)
			return false
		}
		ps := m.resolver.ApplyMove(&m.state, e.From, e.Move)
		if m.moveHook != nil {
			m.moveHook(e.From, e.Ts)
		}
		m.bus.Emit(bus.PlayerMove, MoveEvent{PlayerId: e.From, State: ps})
		return true

	case wire.TypeInventory:
		if !m.resolver.Accept(e.T, e.From) {
			m.debugf("dropped envelope", "reason", "not_authority", "from", e.From, "type", e.T)
			return false
		}
		items := m.resolver.ApplyInventory(&m.state, e.From, e.Inventory)
		m.bus.Emit(bus.InventoryUpdate, InventoryEvent{PlayerId: e.From, Items: items})
		return true

	case wire.TypeTransfer:
		if !m.resolver.Accept(e.T, e.From) {
			m.debugf("dropped envelope", "reason", "not_authority", "from", e.From, "type", e.T)
			return false
		}
		if !m.resolver.ApplyTransfer(&m.state, e.From, e.Transfer) {
			m.debugf("dropped envelope", "reason", "insufficient_inventory", "from", e.From)
			return false
		}
		m.bus.Emit(bus.ObjectTransfer, TransferEvent{From: e.From, To: e.Transfer.To, Item: e.Transfer.Item})
		return true

	case wire.TypeStateFull:
		m.applySnapshot(e.StateFull.State)
		m.bus.Emit(bus.StateSync, SyncEvent{State: Clone(m.state)})
		return true

	case wire.TypeStateDelta:
		if err := ApplyDelta(&m.state, e.StateDelta.Delta); err != nil {
			m.debugf("dropped envelope", "reason", "bad_delta", "from", e.From, "error", err.Error())
			return false
		}
		m.bus.Emit(bus.StateDelta, DeltaEvent{Delta: e.StateDelta.Delta})
		return true

	case wire.TypePayload:
		m.bus.Emit(bus.SharedPayload, PayloadEvent{From: e.From, Channel: e.Generic.Channel, Payload: e.Generic.Payload})
		return true

	default:
		// ping/pong and anything else are not state-manager concerns.
		return false
	}
}

// applySnapshot implements the §4.4 snapshot merge rule: remote players and
// inventories are overwritten wholesale; the local player's own entry is
// only overwritten while localId is absent from lastAppliedSeq, that is
// until the first snapshot is applied or a seq-carrying envelope from
// localId is accepted, whichever comes first, so a later
// host migration's snapshot cannot roll back the local live view. objects
// is always replaced wholesale.
func (m *Manager) applySnapshot(incoming wire.GlobalGameState) {
	_, seenLocal := m.lastAppliedSeq[m.localId]

	if m.state.Players == nil {
		m.state.Players = make(map[wire.PlayerId]wire.PlayerState)
	}
	for p, ps := range incoming.Players {
		if p == m.localId && seenLocal {
			continue
		}
		m.state.Players[p] = clonePlayerState(ps)
	}

	if m.state.Inventories == nil {
		m.state.Inventories = make(map[wire.PlayerId][]wire.InventoryItem)
	}
	for p, items := range incoming.Inventories {
		if p == m.localId && seenLocal {
			continue
		}
		cp := make([]wire.InventoryItem, len(items))
		copy(cp, items)
		m.state.Inventories[p] = cp
	}

	m.state.Objects = cloneObjects(incoming.Objects)

	if incoming.Tick > m.state.Tick {
		m.state.Tick = incoming.Tick
	}

	if !seenLocal {
		m.lastAppliedSeq[m.localId] = -1
	}
}

// Snapshot returns a deep copy of the current replicated state, safe for
// the caller to read or retain without aliasing Manager's internal state.
func (m *Manager) Snapshot() wire.GlobalGameState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Clone(m.state)
}

// BuildDelta atomically increments tick and returns a delta whose changes
// are deep copies of the current value at each path (spec §4.4's
// buildDeltaFromPaths).
func (m *Manager) BuildDelta(paths []string) wire.StateDelta {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Tick++
	return BuildDeltaFromPaths(m.state, m.state.Tick, paths)
}

// SetMoveHook registers fn to be invoked with (from, ts) whenever a move
// envelope is accepted, local or remote. The session facade wires this to
// the movement integrator's RecordMove so extrapolation bookkeeping stays
// in sync regardless of a move's origin (spec §4.6).
func (m *Manager) SetMoveHook(fn func(id wire.PlayerId, ts float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moveHook = fn
}

// RemovePlayer deletes id's player and inventory entries from local state.
// Used by the session facade's cleanup-on-peer-leave handling (spec §4.8);
// the facade builds the delta to broadcast by calling BuildDelta with this
// player's paths immediately afterward, which naturally yields a tombstone
// (nil) value for each since the entries no longer exist.
func (m *Manager) RemovePlayer(id wire.PlayerId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.Players, id)
	delete(m.state.Inventories, id)
}

// SetLocal replaces the entire local state with a deep copy of s, for the
// session facade's setStateAndBroadcast (spec §6.3) — an explicit local
// overwrite, not a remote snapshot merge, so none of applySnapshot's
// preserve-local-unless-initial-join logic applies.
func (m *Manager) SetLocal(s wire.GlobalGameState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Clone(s)
}

// MutateLocked runs fn against the live replicated state under Manager's
// own lock. The session facade uses this to run the movement integrator's
// per-tick Interpolate/ResolveCollisions passes directly against live state
// without this package needing to expose GlobalGameState's storage any more
// broadly than that.
func (m *Manager) MutateLocked(fn func(*wire.GlobalGameState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.state)
}

// SeenFrom reports whether a sequence number has ever been recorded for
// sender id — exposed for session-level bookkeeping (e.g. deciding whether
// a peer has ever been heard from at all).
func (m *Manager) SeenFrom(id wire.PlayerId) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.lastAppliedSeq[id]
	return ok
}

func (m *Manager) debugf(msg string, args ...any) {
	if m.debugEnabled {
		m.logger.Debug(msg, args...)
	}
}
