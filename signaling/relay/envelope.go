// Package relay is the reference signaling relay (spec §6.2): a thin
// websocket room hub that forwards SDP/ICE envelopes between peers and
// broadcasts roster changes, grounded on the teacher's ws/core package pair
// (server/internal/ws/handler.go, server/internal/core/channel_state.go)
// generalized from a presence/voice/chat hub down to a pure signaling
// forwarder — it carries no game state of its own.
package relay

import "encoding/json"

// Kind enumerates the envelope's payload shape, mirroring the teacher's
// protocol.Message type constants (server/internal/protocol/message.go).
type Kind string

const (
	KindOffer  Kind = "offer"
	KindAnswer Kind = "answer"
	KindIce    Kind = "ice"
	KindRoster Kind = "roster"
	KindHello  Kind = "hello"
	KindError  Kind = "error"
)

// ICEServerInfo describes one STUN/TURN server the relay hands to peers in
// the roster envelope, so a deployer can distribute TURN credentials without
// configuring every client.
type ICEServerInfo struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Envelope is the wire shape for every message the relay exchanges with a
// connected peer (spec §6.2): `{roomId, from, to?, kind, payload?,
// announce?}`. Payload is left as raw JSON so the relay never needs to
// understand the SDP/ICE shapes it forwards; wsadapter decodes it into
// signaling.SessionDescription or signaling.ICECandidate once kind is known.
type Envelope struct {
	RoomId     string          `json:"roomId"`
	From       string          `json:"from,omitempty"`
	To         string          `json:"to,omitempty"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Announce   bool            `json:"announce,omitempty"`
	Roster     []string        `json:"roster,omitempty"`
	IceServers []ICEServerInfo `json:"iceServers,omitempty"`
	Error      string          `json:"error,omitempty"`
}
