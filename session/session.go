// Package session composes the event bus, wire serializer, conflict
// resolver, state manager, movement integrator and peer fabric into the
// library's public facade (spec §4.8/§6.3): lifecycle, per-sender sequence
// counters, host/authority wiring, and the outward mutation API. It
// generalizes the teacher's App/Transport split (client/app.go wiring a
// Transporter into UI-facing methods) into a single facade wiring a
// PeerFabric into a headless public API, with the same disposed-flag and
// callback-setter idioms (client/interfaces.go, client/transport.go).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"meshcore/bus"
	"meshcore/movement"
	"meshcore/peer"
	"meshcore/signaling"
	"meshcore/state"
	"meshcore/wire"
)

// ErrDisposed is returned by every public Session method once Stop has run
// (spec §3's "fail loudly after stop" lifecycle requirement).
var ErrDisposed = errors.New("session: disposed")

// PeerFabric is the subset of *peer.Manager the facade drives. Seaming it
// out as an interface — grounded on the teacher's Transporter interface
// (client/interfaces.go) — keeps Session unit-testable against a fake mesh
// without a real pion/webrtc stack; *peer.Manager satisfies it structurally.
type PeerFabric interface {
	Start(ctx context.Context) error
	HostId() (wire.PlayerId, bool)
	Send(to wire.PlayerId, env wire.Envelope, opts peer.SendOptions) error
	Broadcast(env wire.Envelope, opts peer.SendOptions) error
	Dispose()
}

// PingOverlay is the passive on-screen latency subscriber pinned as an
// external collaborator by spec §1/§6.3 — this module only pins its
// interface and forwards ping samples to it, exactly as it only pins the
// signaling adapter's interface.
type PingOverlay interface {
	SetEnabled(enabled bool)
	OnPing(id wire.PlayerId, rttMs float64)
}

// Session is the library's public facade.
type Session struct {
	cfg     Config
	localId wire.PlayerId

	b        *bus.Bus
	resolver *state.Resolver
	stateMgr *state.Manager
	move     *movement.Integrator
	peers    PeerFabric
	adapter  signaling.Adapter
	overlay  PingOverlay
	logger   *slog.Logger

	mu              sync.Mutex
	started         bool
	disposed        bool
	authorityPinned bool
	authority       wire.PlayerId

	seq atomic.Uint64

	unsubs []bus.Unsubscribe
}

// New constructs a production Session: a real peer.Manager backed by
// pion/webrtc/v4 (peer.NewPionFactory), wired to adapter and overlay per
// Config. overlay may be nil if no ping overlay is in use.
func New(cfg Config, adapter signaling.Adapter, overlay PingOverlay) *Session {
	cfg = cfg.withDefaults()
	localId := adapter.LocalId()
	return newSession(cfg, localId, adapter, overlay, nil)
}

// newSession is the shared constructor body used by New (production,
// real peer.Manager) and by tests (a fake PeerFabric), so both paths wire
// the bus/resolver/state/movement stack identically.
func newSession(cfg Config, localId wire.PlayerId, adapter signaling.Adapter, overlay PingOverlay, fabric PeerFabric) *Session {
	logger := slog.Default()
	b := bus.New()

	s := &Session{
		cfg:     cfg,
		localId: localId,
		b:       b,
		adapter: adapter,
		overlay: overlay,
		logger:  logger,
	}

	if cfg.AuthoritativeClientId != "" {
		s.authorityPinned = true
		s.authority = cfg.AuthoritativeClientId
	}

	s.resolver = state.NewResolver(cfg.ConflictResolution, s.currentAuthority)
	s.stateMgr = state.NewManager(localId, s.resolver, b, cfg.Debug.Enabled, logger)
	s.move = movement.New(cfg.Movement)
	s.stateMgr.SetMoveHook(s.move.RecordMove)

	if fabric != nil {
		s.peers = fabric
	} else {
		s.peers = peer.NewManager(peer.Config{
			LocalId:      localId,
			MaxPlayers:   cfg.MaxPlayers,
			ICEServers:   cfg.ICEServers,
			Backpressure: cfg.Backpressure,
			Serializer:   wire.NewSerializer(cfg.Serialization),
		}, peer.NewPionFactory(), adapter, b)
	}

	if overlay != nil {
		overlay.SetEnabled(cfg.PingOverlay.Enabled)
	}

	s.wireBus()
	return s
}

func (s *Session) wireBus() {
	s.unsubs = append(s.unsubs,
		bus.On(s.b, bus.NetMessage, s.stateMgr.Handle),
		bus.On(s.b, bus.HostChange, s.handleHostChange),
		bus.On(s.b, bus.PeerJoin, s.handlePeerJoin),
		bus.On(s.b, bus.PeerLeave, s.handlePeerLeave),
		bus.On(s.b, bus.Ping, s.handlePing),
	)
}

func (s *Session) currentAuthority() wire.PlayerId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authority
}

// handleHostChange implements spec §4.8's hostChange wiring: in
// authoritative mode, adopt the new host as authority unless the caller
// pinned an explicit one; if the new host is us, broadcast a full snapshot
// to stabilize late joiners and migrations.
func (s *Session) handleHostChange(e peer.HostChangeEvent) {
	s.mu.Lock()
	if s.cfg.ConflictResolution == state.ModeAuthoritative && !s.authorityPinned {
		s.authority = e.HostId
	}
	isHost := e.HostId == s.localId
	s.mu.Unlock()

	if isHost {
		_ = s.BroadcastFullState()
	}
}

// handlePeerJoin implements spec §4.8's peerJoin wiring: on the next
// scheduling turn, if we are host, send the joiner a targeted snapshot.
// Deferring onto a goroutine is this module's rendition of "next
// scheduling turn" in a cooperatively-scheduled source model (spec §5);
// the re-checks of disposed/host below are the required post-suspension
// guards.
func (s *Session) handlePeerJoin(e peer.PeerJoinEvent) {
	go func() {
		s.mu.Lock()
		disposed := s.disposed
		s.mu.Unlock()
		if disposed {
			return
		}
		host, hasHost := s.peers.HostId()
		if !hasHost || host != s.localId {
			return
		}
		_ = s.sendSnapshotTo(e.PlayerId)
	}()
}

// handlePeerLeave implements spec §4.8's peerLeave wiring: if we are host
// and cleanupOnPeerLeave is set, delete the departed player's entries and
// broadcast a delta for players.<id> and inventories.<id>.
func (s *Session) handlePeerLeave(e peer.PeerLeaveEvent) {
	s.move.Forget(e.PlayerId)

	s.mu.Lock()
	cleanup := s.cfg.CleanupOnPeerLeave
	s.mu.Unlock()
	if !cleanup {
		return
	}
	host, hasHost := s.peers.HostId()
	if !hasHost || host != s.localId {
		return
	}

	s.stateMgr.RemovePlayer(e.PlayerId)
	delta := s.stateMgr.BuildDelta([]string{"players." + e.PlayerId, "inventories." + e.PlayerId})
	env := s.buildEnvelope(wire.TypeStateDelta, true)
	env.StateDelta = &wire.StateDeltaPayload{Delta: delta}
	_ = s.broadcastEnvelope(env, peer.SendOptions{})
}

func (s *Session) handlePing(e peer.PingEvent) {
	if s.overlay == nil {
		return
	}
	s.overlay.OnPing(e.PlayerId, e.RTTMs)
}

// Start establishes signaling and begins mesh formation (spec §6.3).
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()
	return s.peers.Start(ctx)
}

// Stop disposes the session. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	s.peers.Dispose()
	for _, u := range unsubs {
		u()
	}
	s.b.Clear()
	if s.adapter != nil {
		_ = s.adapter.Close()
	}
}

// On subscribes handler to the named bus event; see the bus package for the
// closed set of recognized names. netMessage carries a wire.Envelope; the
// other payloads are the event structs of the peer and state packages.
func (s *Session) On(name bus.Name, handler func(any)) bus.Unsubscribe {
	return s.b.Subscribe(name, handler)
}

// GetState returns a deep copy of the replicated state.
func (s *Session) GetState() (wire.GlobalGameState, error) {
	if s.isDisposed() {
		return wire.GlobalGameState{}, ErrDisposed
	}
	return s.stateMgr.Snapshot(), nil
}

// GetHostId returns the current host, if one has been elected yet.
func (s *Session) GetHostId() (wire.PlayerId, bool, error) {
	if s.isDisposed() {
		return "", false, ErrDisposed
	}
	id, ok := s.peers.HostId()
	return id, ok, nil
}

// BroadcastMove broadcasts a move for id on the unreliable channel, carrying
// a fresh per-sender seq, and applies it to local state via the same path a
// remote move would take (spec §6.3).
func (s *Session) BroadcastMove(id wire.PlayerId, pos wire.Position, vel *wire.Velocity) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	env := s.buildEnvelope(wire.TypeMove, true)
	env.From = id
	env.Move = &wire.MovePayload{Position: pos, Velocity: vel}
	s.stateMgr.ApplyLocal(env)
	return s.broadcastEnvelope(env, peer.SendOptions{})
}

// AnnouncePresence inserts id's player entry locally and broadcasts a move
// that deliberately omits seq, so the joiner's own first snapshot from the
// host can still overwrite it during initial-join handling (spec §4.4/§6.3).
func (s *Session) AnnouncePresence(id wire.PlayerId, pos *wire.Position) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	position := wire.Position{}
	if pos != nil {
		position = *pos
	}
	env := s.buildEnvelope(wire.TypeMove, false)
	env.From = id
	env.Move = &wire.MovePayload{Position: position}
	s.stateMgr.ApplyLocal(env)
	return s.broadcastEnvelope(env, peer.SendOptions{})
}

// UpdateInventory replaces id's inventory and broadcasts the change.
func (s *Session) UpdateInventory(id wire.PlayerId, items []wire.InventoryItem) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	env := s.buildEnvelope(wire.TypeInventory, true)
	env.From = id
	env.Inventory = &wire.InventoryPayload{Items: items}
	s.stateMgr.ApplyLocal(env)
	return s.broadcastEnvelope(env, peer.SendOptions{})
}

// TransferItem moves item from `from` to `to`, applying locally first; if
// the transfer is rejected (insufficient quantity, or authoritative mode
// and `from` is not the authority), it is never broadcast.
func (s *Session) TransferItem(from, to wire.PlayerId, item wire.InventoryItem) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	env := s.buildEnvelope(wire.TypeTransfer, true)
	env.From = from
	env.Transfer = &wire.TransferPayload{To: to, Item: item}
	if !s.stateMgr.ApplyLocal(env) {
		return fmt.Errorf("session: transfer rejected")
	}
	return s.broadcastEnvelope(env, peer.SendOptions{})
}

// BroadcastPayload ships an application-defined payload to every peer.
func (s *Session) BroadcastPayload(payload any, channel string, opts peer.SendOptions) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	env := s.buildEnvelope(wire.TypePayload, true)
	env.Generic = &wire.GenericPayload{Payload: payload, Channel: channel}
	return s.broadcastEnvelope(env, opts)
}

// SendPayload ships an application-defined payload to one peer.
func (s *Session) SendPayload(to wire.PlayerId, payload any, channel string, opts peer.SendOptions) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	env := s.buildEnvelope(wire.TypePayload, true)
	env.Generic = &wire.GenericPayload{Payload: payload, Channel: channel}
	return s.sendEnvelope(to, env, opts)
}

// BroadcastFullState broadcasts the current state as a state_full envelope.
func (s *Session) BroadcastFullState() error {
	if s.isDisposed() {
		return ErrDisposed
	}
	return s.sendSnapshotEnvelope(nil)
}

// BroadcastDelta builds a delta from the current value at each path and
// broadcasts it.
func (s *Session) BroadcastDelta(paths []string) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	delta := s.stateMgr.BuildDelta(paths)
	env := s.buildEnvelope(wire.TypeStateDelta, true)
	env.StateDelta = &wire.StateDeltaPayload{Delta: delta}
	return s.broadcastEnvelope(env, peer.SendOptions{})
}

// SetStateAndBroadcast overwrites the entire local state and broadcasts it
// as a fresh full snapshot.
func (s *Session) SetStateAndBroadcast(gs wire.GlobalGameState) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	s.stateMgr.SetLocal(gs)
	return s.BroadcastFullState()
}

// Tick runs one movement step: integrate, then resolve collisions. now
// defaults to the current time when nil.
func (s *Session) Tick(now *float64) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	t := nowMs()
	if now != nil {
		t = *now
	}
	s.stateMgr.MutateLocked(func(gs *wire.GlobalGameState) {
		s.move.Interpolate(gs, t)
		s.move.ResolveCollisions(gs)
	})
	return nil
}

// SetPingOverlayEnabled forwards to the overlay collaborator, if any.
func (s *Session) SetPingOverlayEnabled(enabled bool) {
	if s.overlay != nil {
		s.overlay.SetEnabled(enabled)
	}
}

func (s *Session) sendSnapshotTo(to wire.PlayerId) error {
	return s.sendSnapshotEnvelope(&to)
}

func (s *Session) sendSnapshotEnvelope(to *wire.PlayerId) error {
	snap := s.stateMgr.Snapshot()
	env := s.buildEnvelope(wire.TypeStateFull, true)
	env.StateFull = &wire.StateFullPayload{State: snap}
	if to != nil {
		return s.sendEnvelope(*to, env, peer.SendOptions{})
	}
	return s.broadcastEnvelope(env, peer.SendOptions{})
}

func (s *Session) buildEnvelope(t wire.Type, withSeq bool) wire.Envelope {
	env := wire.Envelope{T: t, From: s.localId, Ts: nowMs()}
	if withSeq {
		n := s.seq.Add(1)
		env.Seq = &n
	}
	return env
}

func (s *Session) broadcastEnvelope(env wire.Envelope, opts peer.SendOptions) error {
	s.traceSend(env)
	return s.peers.Broadcast(env, opts)
}

func (s *Session) sendEnvelope(to wire.PlayerId, env wire.Envelope, opts peer.SendOptions) error {
	s.traceSend(env)
	return s.peers.Send(to, env, opts)
}

func (s *Session) traceSend(env wire.Envelope) {
	if s.cfg.Debug.Enabled && s.cfg.Debug.OnSend != nil {
		s.cfg.Debug.OnSend(env)
	}
}

func (s *Session) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func nowMs() float64 {
	return float64(time.Now().UnixMilli())
}
