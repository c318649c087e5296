package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"meshcore/bus"
	"meshcore/signaling"
	"meshcore/wire"
)

// ErrDisposed is returned by Manager's public methods once Dispose has run.
var ErrDisposed = errors.New("peer: manager disposed")

// BackpressureStrategy selects how outbound `move` messages on the
// unreliable channel behave when it is congested (spec §4.7).
type BackpressureStrategy string

const (
	BackpressureOff           BackpressureStrategy = "off"
	BackpressureDropMoves     BackpressureStrategy = "drop-moves"
	BackpressureCoalesceMoves BackpressureStrategy = "coalesce-moves"
)

type BackpressureConfig struct {
	Strategy       BackpressureStrategy
	ThresholdBytes int
}

// Config configures a Manager.
type Config struct {
	LocalId             wire.PlayerId
	MaxPlayers          int
	ICEServers          []ICEServer
	Backpressure        BackpressureConfig
	Serializer          wire.Serializer
	PendingOfferTimeout time.Duration
	PingInterval        time.Duration
}

// SendOptions tweaks a single Send/Broadcast call.
type SendOptions struct {
	Unreliable bool
}

const (
	unreliableLabel = "game-unreliable"
	reliableLabel   = "game-reliable"
)

type peerConn struct {
	id   wire.PlayerId
	conn rtcConn

	unreliable     dataChannel
	reliable       dataChannel
	unreliableOpen bool
	reliableOpen   bool

	outboxUnreliable []wire.Envelope
	outboxReliable   []wire.Envelope

	remoteDescSet bool
}

type pendingInitiator struct {
	pc    *peerConn
	timer *time.Timer
}

// Manager is the roster-driven WebRTC mesh (spec §4.7): it owns the active
// peer connections, the initiator handshakes still in flight, and any ICE
// candidates buffered ahead of their remote description.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	factory rtcFactory
	adapter signaling.Adapter
	bus     *bus.Bus
	nowFunc func() float64

	peers       map[wire.PlayerId]*peerConn
	pending     map[wire.PlayerId]*pendingInitiator
	bufferedIce map[wire.PlayerId][]webrtc.ICECandidateInit

	hostId  wire.PlayerId
	hasHost bool

	pingCancel context.CancelFunc
	disposed   bool
}

func NewManager(cfg Config, factory rtcFactory, adapter signaling.Adapter, b *bus.Bus) *Manager {
	if cfg.PendingOfferTimeout <= 0 {
		cfg.PendingOfferTimeout = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 2 * time.Second
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = DefaultICEServers()
	}
	return &Manager{
		cfg:         cfg,
		factory:     factory,
		adapter:     adapter,
		bus:         b,
		nowFunc:     func() float64 { return float64(time.Now().UnixMilli()) },
		peers:       make(map[wire.PlayerId]*peerConn),
		pending:     make(map[wire.PlayerId]*pendingInitiator),
		bufferedIce: make(map[wire.PlayerId][]webrtc.ICECandidateInit),
	}
}

// Start wires the signaling adapter's callbacks, registers the local peer,
// and launches the ping loop. Canceling ctx stops the ping loop; Dispose
// stops it independently of ctx.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	m.mu.Unlock()

	m.adapter.OnRemoteDescription(func(desc signaling.SessionDescription, from wire.PlayerId) {
		m.handleRemoteDescription(desc, from)
	})
	m.adapter.OnIceCandidate(func(cand signaling.ICECandidate, from wire.PlayerId) {
		m.handleRemoteIce(cand, from)
	})
	m.adapter.OnRoster(func(roster []wire.PlayerId) {
		m.handleRoster(roster)
	})

	if err := m.adapter.Register(); err != nil {
		return fmt.Errorf("peer: register: %w", err)
	}

	pctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.pingCancel = cancel
	m.mu.Unlock()
	m.runPingLoop(pctx)
	return nil
}

// handleRoster implements the roster-driven mesh formation pass (spec §4.7):
// drop anything no longer listed, then initiate toward every new peer that
// sorts after localId in the total order (otherwise we wait for their offer).
func (m *Manager) handleRoster(roster []wire.PlayerId) {
	m.mu.Lock()

	if m.disposed {
		m.mu.Unlock()
		return
	}

	listed := make(map[wire.PlayerId]bool, len(roster))
	for _, p := range roster {
		listed[p] = true
	}

	var leavers []wire.PlayerId
	for id, pc := range m.peers {
		if !listed[id] {
			pc.conn.Close()
			delete(m.peers, id)
			leavers = append(leavers, id)
		}
	}
	for id, pend := range m.pending {
		if !listed[id] {
			pend.timer.Stop()
			pend.pc.conn.Close()
			delete(m.pending, id)
		}
	}

	hostChanged, newHost := false, wire.PlayerId("")
	if len(leavers) > 0 {
		hostChanged, newHost = m.reelectLocked()
	}

	var toInitiate []wire.PlayerId
	overCapacity := false
	reserved := len(m.peers) + len(m.pending)
	for _, p := range roster {
		if p == m.cfg.LocalId {
			continue
		}
		if _, ok := m.peers[p]; ok {
			continue
		}
		if _, ok := m.pending[p]; ok {
			continue
		}
		if reserved >= m.cfg.MaxPlayers-1 {
			overCapacity = true
			continue
		}
		reserved++
		if Less(m.cfg.LocalId, p) {
			toInitiate = append(toInitiate, p)
		}
	}

	m.mu.Unlock()

	for _, id := range leavers {
		m.bus.Emit(bus.PeerLeave, PeerLeaveEvent{PlayerId: id})
	}
	if hostChanged {
		m.bus.Emit(bus.HostChange, HostChangeEvent{HostId: newHost})
	}
	if overCapacity {
		m.bus.Emit(bus.MaxCapacityReached, MaxCapacityEvent{MaxPlayers: m.cfg.MaxPlayers})
	}
	for _, p := range toInitiate {
		m.initiate(p)
	}
}

// initiate creates a peer connection toward p, opens both data channels,
// sends an offer, and arms the pending-offer timeout (spec §4.7 initiator
// role).
func (m *Manager) initiate(p wire.PlayerId) {
	conn, err := m.factory.NewPeerConnection(RTCConfig{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return
	}

	pc := &peerConn{id: p, conn: conn}

	unreliable, err := conn.CreateDataChannel(unreliableLabel, &webrtc.DataChannelInit{
		Ordered:        boolPtr(false),
		MaxRetransmits: uint16Ptr(0),
	})
	if err != nil {
		conn.Close()
		return
	}
	reliable, err := conn.CreateDataChannel(reliableLabel, &webrtc.DataChannelInit{Ordered: boolPtr(true)})
	if err != nil {
		conn.Close()
		return
	}
	pc.unreliable = unreliable
	pc.reliable = reliable
	m.wireDataChannel(pc, unreliable, true)
	m.wireDataChannel(pc, reliable, false)
	conn.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			return
		}
		_ = m.adapter.SendIceCandidate(toSignalingICE(*c), p)
	})
	m.wireConnectionState(conn, p)

	offer, err := conn.CreateOffer()
	if err != nil {
		conn.Close()
		return
	}
	if err := conn.SetLocalDescription(offer); err != nil {
		conn.Close()
		return
	}
	if err := m.adapter.Announce(toSignalingDesc(offer), p); err != nil {
		conn.Close()
		return
	}

	timer := time.AfterFunc(m.cfg.PendingOfferTimeout, func() { m.onPendingOfferTimeout(p) })

	m.mu.Lock()
	// Announce suspended; the session may have been disposed meanwhile.
	if m.disposed {
		m.mu.Unlock()
		timer.Stop()
		conn.Close()
		return
	}
	m.pending[p] = &pendingInitiator{pc: pc, timer: timer}
	m.mu.Unlock()
}

func (m *Manager) onPendingOfferTimeout(p wire.PlayerId) {
	m.mu.Lock()
	pend, ok := m.pending[p]
	if ok {
		delete(m.pending, p)
	}
	m.mu.Unlock()
	if ok {
		pend.pc.conn.Close()
	}
}

// handleRemoteDescription dispatches an incoming offer (responder role) or
// an incoming answer (completing our own initiator handshake).
func (m *Manager) handleRemoteDescription(desc signaling.SessionDescription, from wire.PlayerId) {
	switch desc.Type {
	case "offer":
		m.handleOffer(desc, from)
	case "answer":
		m.handleAnswer(desc, from)
	}
}

func (m *Manager) handleOffer(desc signaling.SessionDescription, from wire.PlayerId) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	if _, ok := m.peers[from]; ok {
		m.mu.Unlock()
		return
	}
	if len(m.peers)+len(m.pending) >= m.cfg.MaxPlayers-1 {
		m.mu.Unlock()
		m.bus.Emit(bus.MaxCapacityReached, MaxCapacityEvent{MaxPlayers: m.cfg.MaxPlayers})
		return
	}
	m.mu.Unlock()

	conn, err := m.factory.NewPeerConnection(RTCConfig{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return
	}
	pc := &peerConn{id: from, conn: conn}
	conn.OnDataChannel(func(dc dataChannel) {
		switch dc.Label() {
		case unreliableLabel:
			pc.unreliable = dc
			m.wireDataChannel(pc, dc, true)
		case reliableLabel:
			pc.reliable = dc
			m.wireDataChannel(pc, dc, false)
		}
	})
	conn.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			return
		}
		_ = m.adapter.SendIceCandidate(toSignalingICE(*c), from)
	})
	m.wireConnectionState(conn, from)

	if err := conn.SetRemoteDescription(toWebrtcDesc(desc)); err != nil {
		conn.Close()
		return
	}
	pc.remoteDescSet = true

	m.mu.Lock()
	buffered := m.bufferedIce[from]
	delete(m.bufferedIce, from)
	m.mu.Unlock()
	for _, c := range buffered {
		_ = conn.AddICECandidate(c)
	}

	answer, err := conn.CreateAnswer()
	if err != nil {
		conn.Close()
		return
	}
	if err := conn.SetLocalDescription(answer); err != nil {
		conn.Close()
		return
	}
	if err := m.adapter.Announce(toSignalingDesc(answer), from); err != nil {
		conn.Close()
		return
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.peers[from] = pc
	hostChanged, newHost := m.reelectLocked()
	m.mu.Unlock()

	// Update the roster before emitting hostChange, then emit peerJoin
	// (spec §4.7's explicit event-ordering constraint).
	if hostChanged {
		m.bus.Emit(bus.HostChange, HostChangeEvent{HostId: newHost})
	}
	m.bus.Emit(bus.PeerJoin, PeerJoinEvent{PlayerId: from})
}

func (m *Manager) handleAnswer(desc signaling.SessionDescription, from wire.PlayerId) {
	m.mu.Lock()
	pend, ok := m.pending[from]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	pend.timer.Stop()
	if err := pend.pc.conn.SetRemoteDescription(toWebrtcDesc(desc)); err != nil {
		return
	}
	pend.pc.remoteDescSet = true

	m.mu.Lock()
	buffered := m.bufferedIce[from]
	delete(m.bufferedIce, from)
	m.mu.Unlock()
	for _, c := range buffered {
		_ = pend.pc.conn.AddICECandidate(c)
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	delete(m.pending, from)
	m.peers[from] = pend.pc
	hostChanged, newHost := m.reelectLocked()
	m.mu.Unlock()

	if hostChanged {
		m.bus.Emit(bus.HostChange, HostChangeEvent{HostId: newHost})
	}
	m.bus.Emit(bus.PeerJoin, PeerJoinEvent{PlayerId: from})
}

// handleRemoteIce applies an inbound candidate immediately once the remote
// description is installed, else buffers it (spec §4.7).
func (m *Manager) handleRemoteIce(candidate signaling.ICECandidate, from wire.PlayerId) {
	init := toWebrtcICE(candidate)

	m.mu.Lock()
	var conn rtcConn
	ready := false
	if pc, ok := m.peers[from]; ok {
		conn, ready = pc.conn, pc.remoteDescSet
	} else if pend, ok := m.pending[from]; ok {
		conn, ready = pend.pc.conn, pend.pc.remoteDescSet
	}
	if !ready {
		m.bufferedIce[from] = append(m.bufferedIce[from], init)
	}
	m.mu.Unlock()

	if ready && conn != nil {
		_ = conn.AddICECandidate(init)
	}
}

// wireConnectionState watches the transport's connection state so a peer
// whose RTC session dies outside a roster update is still evicted (spec §3:
// PeerInfo is destroyed on transport close or roster eviction).
func (m *Manager) wireConnectionState(conn rtcConn, id wire.PlayerId) {
	conn.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		switch st {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.dropPeer(id)
		}
	})
}

// dropPeer removes an active peer whose transport closed underneath it,
// emitting peerLeave and re-electing the host. A no-op for ids that are not
// currently in the active set, so Dispose's own Close calls (which fire the
// same state-change callback) never double-emit.
func (m *Manager) dropPeer(id wire.PlayerId) {
	m.mu.Lock()
	pc, ok := m.peers[id]
	var hostChanged bool
	var newHost wire.PlayerId
	if ok {
		delete(m.peers, id)
		hostChanged, newHost = m.reelectLocked()
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	pc.conn.Close()
	m.bus.Emit(bus.PeerLeave, PeerLeaveEvent{PlayerId: id})
	if hostChanged {
		m.bus.Emit(bus.HostChange, HostChangeEvent{HostId: newHost})
	}
}

// reelectLocked recomputes the host as the minimum id over {localId} ∪
// peerIds by the peer package's total order, reporting a change only when
// the host actually moved. Caller must hold mu and emit the event after
// unlocking.
func (m *Manager) reelectLocked() (changed bool, newHost wire.PlayerId) {
	ids := make([]wire.PlayerId, 0, len(m.peers)+1)
	ids = append(ids, m.cfg.LocalId)
	for id := range m.peers {
		ids = append(ids, id)
	}
	host, _ := Min(ids)
	if m.hasHost && host == m.hostId {
		return false, m.hostId
	}
	m.hostId = host
	m.hasHost = true
	return true, host
}

// HostId returns the current host, if one has been elected yet.
func (m *Manager) HostId() (wire.PlayerId, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hostId, m.hasHost
}

func (m *Manager) wireDataChannel(pc *peerConn, dc dataChannel, unreliable bool) {
	dc.OnOpen(func() {
		m.mu.Lock()
		if unreliable {
			pc.unreliableOpen = true
		} else {
			pc.reliableOpen = true
		}
		m.flushOutboxLocked(pc, unreliable)
		m.mu.Unlock()
	})
	dc.OnClose(func() {
		m.mu.Lock()
		if unreliable {
			pc.unreliableOpen = false
		} else {
			pc.reliableOpen = false
		}
		m.mu.Unlock()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m.handleInbound(pc.id, msg)
	})
}

// flushOutboxLocked drains a channel's FIFO outbox once it opens (spec
// §4.7). Caller must hold mu.
func (m *Manager) flushOutboxLocked(pc *peerConn, unreliable bool) {
	var outbox *[]wire.Envelope
	var dc dataChannel
	if unreliable {
		outbox, dc = &pc.outboxUnreliable, pc.unreliable
	} else {
		outbox, dc = &pc.outboxReliable, pc.reliable
	}
	for _, env := range *outbox {
		m.writeLocked(dc, env)
	}
	*outbox = nil
}

func (m *Manager) writeLocked(dc dataChannel, env wire.Envelope) {
	frame, err := m.cfg.Serializer.Encode(env)
	if err != nil {
		return
	}
	if frame.IsBinary() {
		_ = dc.Send(frame.Bytes)
	} else {
		_ = dc.SendText(frame.Text)
	}
}

// handleInbound decodes one inbound data-channel message, overwrites its
// from field with the transport-observed sender (spec §4.7's anti-spoofing
// rule), answers ping with pong and turns pong into a ping event, and
// otherwise re-emits the envelope on the bus for the state manager.
func (m *Manager) handleInbound(from wire.PlayerId, msg webrtc.DataChannelMessage) {
	var frame wire.Frame
	if msg.IsString {
		frame = wire.Frame{Text: string(msg.Data)}
	} else {
		frame = wire.Frame{Bytes: msg.Data}
	}

	env, err := m.cfg.Serializer.Decode(frame)
	if err != nil {
		return
	}
	env.From = from

	switch env.T {
	case wire.TypePing:
		if env.PingPong == nil {
			return
		}
		pong := wire.Envelope{
			T:        wire.TypePong,
			From:     m.cfg.LocalId,
			Ts:       m.nowFunc(),
			PingPong: &wire.PingPongPayload{Ts: env.PingPong.Ts},
		}
		m.mu.Lock()
		pc, ok := m.peers[from]
		if ok && pc.unreliableOpen {
			m.writeLocked(pc.unreliable, pong)
		}
		m.mu.Unlock()
		return

	case wire.TypePong:
		if env.PingPong == nil {
			return
		}
		rtt := m.nowFunc() - env.PingPong.Ts
		m.bus.Emit(bus.Ping, PingEvent{PlayerId: from, RTTMs: rtt})
		return
	}

	m.bus.Emit(bus.NetMessage, env)
}

// Send routes env to peer `to` on the channel selected by its type (or
// opts.Unreliable), applying the backpressure policy to moves on the
// unreliable channel (spec §4.7): drop-moves skips a move while the open
// channel's buffer is over the threshold; coalesce-moves replaces a trailing
// queued move while the channel is not yet open.
func (m *Manager) Send(to wire.PlayerId, env wire.Envelope, opts SendOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	pc, ok := m.peers[to]
	if !ok {
		return fmt.Errorf("peer: unknown peer %q", to)
	}
	m.routeLocked(pc, env, opts)
	return nil
}

// Broadcast sends env to every connected peer.
func (m *Manager) Broadcast(env wire.Envelope, opts SendOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	for _, pc := range m.peers {
		m.routeLocked(pc, env, opts)
	}
	return nil
}

func (m *Manager) routeLocked(pc *peerConn, env wire.Envelope, opts SendOptions) {
	unreliable := opts.Unreliable || env.T.Channel() == "unreliable"
	if unreliable {
		m.sendUnreliableLocked(pc, env)
		return
	}
	if pc.reliableOpen {
		m.writeLocked(pc.reliable, env)
		return
	}
	pc.outboxReliable = append(pc.outboxReliable, env)
}

func (m *Manager) sendUnreliableLocked(pc *peerConn, env wire.Envelope) {
	if pc.unreliableOpen {
		if m.cfg.Backpressure.Strategy == BackpressureDropMoves &&
			env.T == wire.TypeMove &&
			pc.unreliable.BufferedAmount() > uint64(m.cfg.Backpressure.ThresholdBytes) {
			return
		}
		m.writeLocked(pc.unreliable, env)
		return
	}

	if m.cfg.Backpressure.Strategy == BackpressureCoalesceMoves && env.T == wire.TypeMove && len(pc.outboxUnreliable) > 0 {
		last := len(pc.outboxUnreliable) - 1
		if pc.outboxUnreliable[last].T == wire.TypeMove {
			pc.outboxUnreliable[last] = env
			return
		}
	}
	pc.outboxUnreliable = append(pc.outboxUnreliable, env)
}

func (m *Manager) runPingLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sendPings()
			}
		}
	}()
}

func (m *Manager) sendPings() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	now := m.nowFunc()
	for _, pc := range m.peers {
		if !pc.unreliableOpen {
			continue
		}
		env := wire.Envelope{
			T:        wire.TypePing,
			From:     m.cfg.LocalId,
			Ts:       now,
			PingPong: &wire.PingPongPayload{Ts: now},
		}
		m.writeLocked(pc.unreliable, env)
	}
}

// Dispose is idempotent: it stops the ping loop and every pending-offer
// timer, closes every RTC connection, and empties all bookkeeping (spec
// §4.7).
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	if m.pingCancel != nil {
		m.pingCancel()
	}
	pendings := m.pending
	peers := m.peers
	m.pending = make(map[wire.PlayerId]*pendingInitiator)
	m.peers = make(map[wire.PlayerId]*peerConn)
	m.bufferedIce = make(map[wire.PlayerId][]webrtc.ICECandidateInit)
	m.mu.Unlock()

	for _, pend := range pendings {
		pend.timer.Stop()
		pend.pc.conn.Close()
	}
	for _, pc := range peers {
		pc.conn.Close()
	}
}

func boolPtr(b bool) *bool       { return &b }
func uint16Ptr(v uint16) *uint16 { return &v }

func toSignalingDesc(d webrtc.SessionDescription) signaling.SessionDescription {
	return signaling.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func toWebrtcDesc(d signaling.SessionDescription) webrtc.SessionDescription {
	var t webrtc.SDPType
	switch d.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	case "pranswer":
		t = webrtc.SDPTypePranswer
	case "rollback":
		t = webrtc.SDPTypeRollback
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}
}

func toSignalingICE(c webrtc.ICECandidateInit) signaling.ICECandidate {
	out := signaling.ICECandidate{Candidate: c.Candidate, SDPMLineIndex: c.SDPMLineIndex}
	if c.SDPMid != nil {
		out.SDPMid = *c.SDPMid
	}
	if c.UsernameFragment != nil {
		out.UsernameFragment = *c.UsernameFragment
	}
	return out
}

func toWebrtcICE(c signaling.ICECandidate) webrtc.ICECandidateInit {
	out := webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMLineIndex: c.SDPMLineIndex}
	if c.SDPMid != "" {
		mid := c.SDPMid
		out.SDPMid = &mid
	}
	if c.UsernameFragment != "" {
		uf := c.UsernameFragment
		out.UsernameFragment = &uf
	}
	return out
}
