package relay

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SendTimeout bounds how long a write to one peer's outbox may block before
// the room gives up on that send, mirroring the teacher's ChannelState
// SendTimeout (server/internal/core/channel_state.go).
const SendTimeout = 50 * time.Millisecond

// Session is one connected peer's outbox, the relay's analogue of the
// teacher's core.Session.
type Session struct {
	PeerId string
	Send   chan Envelope
}

// Room is the in-memory roster and forwarding hub for one signaling room,
// generalized from the teacher's ChannelState: no servers, channels, voice
// or chat state survive, only "who is in the room" and "route this envelope
// to its recipient(s)".
type Room struct {
	mu         sync.RWMutex
	peers      map[string]chan Envelope
	iceServers []ICEServerInfo // STUN/TURN servers sent to peers in roster envelopes
	onEmpty    func(roomId string)
	id         string
}

// NewRoom returns an empty room. onEmpty, if non-nil, is invoked once the
// room's last peer leaves, so the owning Hub can garbage-collect it
// (spec §6.2's room GC).
func NewRoom(id string, onEmpty func(roomId string)) *Room {
	return &Room{
		id:      id,
		peers:   make(map[string]chan Envelope),
		onEmpty: onEmpty,
	}
}

// Join registers peerId and returns its outbox plus the current roster
// (not including peerId itself).
func (r *Room) Join(peerId string, sendBuf int) (*Session, []string) {
	if sendBuf <= 0 {
		sendBuf = 32
	}
	ch := make(chan Envelope, sendBuf)

	r.mu.Lock()
	roster := r.rosterLocked()
	r.peers[peerId] = ch
	r.mu.Unlock()

	slog.Info("relay: peer joined", "room", r.id, "peer", peerId, "room_size", len(roster)+1)
	return &Session{PeerId: peerId, Send: ch}, roster
}

// Leave unregisters peerId and closes its outbox. It reports whether the
// room is now empty.
func (r *Room) Leave(peerId string) bool {
	r.mu.Lock()
	ch, ok := r.peers[peerId]
	if ok {
		delete(r.peers, peerId)
		close(ch)
	}
	empty := len(r.peers) == 0
	r.mu.Unlock()

	if ok {
		slog.Info("relay: peer left", "room", r.id, "peer", peerId, "room_size", len(r.peers))
	}
	if empty && r.onEmpty != nil {
		r.onEmpty(r.id)
	}
	return empty
}

// Roster returns the current set of peer ids in the room, sorted for
// deterministic broadcast ordering.
func (r *Room) Roster() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked()
}

func (r *Room) rosterLocked() []string {
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SendTo forwards env to one peer's outbox. It reports whether the peer was
// known and the send did not block past SendTimeout.
func (r *Room) SendTo(peerId string, env Envelope) bool {
	r.mu.RLock()
	ch, ok := r.peers[peerId]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return trySend(ch, env)
}

// Broadcast forwards env to every peer except exceptPeerId (blank forwards
// to everyone), the relay's equivalent of ChannelState.Broadcast.
func (r *Room) Broadcast(env Envelope, exceptPeerId string) int {
	r.mu.RLock()
	targets := make([]chan Envelope, 0, len(r.peers))
	for id, ch := range r.peers {
		if exceptPeerId != "" && id == exceptPeerId {
			continue
		}
		targets = append(targets, ch)
	}
	r.mu.RUnlock()

	sent := 0
	for _, ch := range targets {
		if trySend(ch, env) {
			sent++
		}
	}
	slog.Debug("relay: broadcast", "room", r.id, "kind", env.Kind, "recipients", sent, "total", len(targets))
	return sent
}

// SetICEServers sets the STUN/TURN servers handed to peers in every roster
// envelope.
func (r *Room) SetICEServers(servers []ICEServerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iceServers = servers
}

// ICEServers returns the STUN/TURN servers this room distributes.
func (r *Room) ICEServers() []ICEServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.iceServers
}

// BroadcastRoster sends the current roster to every peer as a KindRoster
// envelope, the relay's equivalent of the teacher's presence snapshot. The
// envelope also carries any configured ICE servers so joiners learn the
// deployment's STUN/TURN setup without out-of-band configuration.
func (r *Room) BroadcastRoster() {
	roster := r.Roster()
	r.Broadcast(Envelope{RoomId: r.id, Kind: KindRoster, Roster: roster, IceServers: r.ICEServers()}, "")
}

func trySend(ch chan Envelope, env Envelope) bool {
	select {
	case ch <- env:
		return true
	case <-time.After(SendTimeout):
		return false
	}
}

// Hub owns every active Room, keyed by room id, and garbage-collects rooms
// once empty — the multi-room generalization of the teacher's single global
// ChannelState, since spec §6.2 allows many independent signaling rooms on
// one relay.
type Hub struct {
	mu         sync.Mutex
	rooms      map[string]*Room
	iceServers []ICEServerInfo
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

// SetICEServers sets the STUN/TURN servers every room created by this hub
// distributes to its peers.
func (h *Hub) SetICEServers(servers []ICEServerInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.iceServers = servers
	for _, r := range h.rooms {
		r.SetICEServers(servers)
	}
}

// RoomFor returns the room for id, creating it if this is the first peer to
// reference it.
func (h *Hub) RoomFor(id string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok {
		return r
	}
	r := NewRoom(id, h.onRoomEmpty)
	r.SetICEServers(h.iceServers)
	h.rooms[id] = r
	return r
}

func (h *Hub) onRoomEmpty(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok && len(r.Roster()) == 0 {
		delete(h.rooms, id)
		slog.Debug("relay: room garbage collected", "room", id)
	}
}

// RoomCount reports the number of currently live rooms, for metrics/tests.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
