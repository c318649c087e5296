// Package signaling pins the external collaborator the peer manager relies
// on to exchange SDP/ICE out of band (spec §6.1), plus one concrete
// reference implementation (signaling/wsadapter, signaling/relay) so the
// mesh is runnable end to end without a separate signaling project
// (SPEC_FULL.md §4.9).
package signaling

import "meshcore/wire"

// SessionDescription is the subset of an SDP offer/answer the adapter needs
// to carry; it is opaque to the adapter itself.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is one ICE candidate, carried opaquely by the adapter.
type ICECandidate struct {
	Candidate        string `json:"candidate"`
	SDPMid           string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment string `json:"usernameFragment,omitempty"`
}

// Adapter is the signaling-adapter contract the core consumes (spec §6.1).
// An implementation must have a known localId, register the local peer with
// whatever discovery/roster mechanism it fronts, relay SDP and ICE — targeted
// at one peer or broadcast to the room when to is empty — and report the
// current roster whenever it changes.
type Adapter interface {
	LocalId() wire.PlayerId

	Register() error

	Announce(desc SessionDescription, to wire.PlayerId) error
	SendIceCandidate(candidate ICECandidate, to wire.PlayerId) error

	OnRemoteDescription(cb func(desc SessionDescription, from wire.PlayerId))
	OnIceCandidate(cb func(candidate ICECandidate, from wire.PlayerId))
	OnRoster(cb func(roster []wire.PlayerId))

	Close() error
}
