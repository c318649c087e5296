// Package wire defines the on-the-wire NetMessage envelope and the
// serializers that encode/decode it. The envelope is a tagged union keyed by
// T, generalizing the teacher's flat ControlMsg struct (one struct, one Type
// field, many omitempty payload fields — see signaling/relay/envelope.go,
// adapted from the teacher's own protocol.ControlMsg) into a set of typed
// payload pointers so dispatch sites can be exhaustive over the tag set
// (spec §9 Design notes).
package wire

// Type is one of the recognized NetMessage tags.
type Type string

const (
	TypeMove       Type = "move"
	TypeInventory  Type = "inventory"
	TypeTransfer   Type = "transfer"
	TypeStateFull  Type = "state_full"
	TypeStateDelta Type = "state_delta"
	TypePayload    Type = "payload"
	TypePing       Type = "ping"
	TypePong       Type = "pong"
)

// PlayerId is an opaque, non-empty identifier. Its only semantic use is
// participation in the total order defined by the peer package.
type PlayerId = string

// Position is a 3D point. Z is optional on the wire and defaults to 0 when
// integrated (movement package).
type Position struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	Z *float64 `json:"z,omitempty"`
}

// Velocity mirrors Position's shape.
type Velocity struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	Z *float64 `json:"z,omitempty"`
}

// InventoryItem is one stack of a given item type in a player's inventory.
// Quantity must never be negative; an item reaching quantity 0 is pruned.
type InventoryItem struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
}

// MovePayload carries the `move` message's fields.
type MovePayload struct {
	Position Position  `json:"position"`
	Velocity *Velocity `json:"velocity,omitempty"`
}

// InventoryPayload carries the `inventory` message's fields.
type InventoryPayload struct {
	Items []InventoryItem `json:"items"`
}

// TransferPayload carries the `transfer` message's fields.
type TransferPayload struct {
	To   PlayerId      `json:"to"`
	Item InventoryItem `json:"item"`
}

// PlayerState is exclusively owned by the replicated state: created by the
// first accepted move or by a snapshot merge, mutated by the conflict
// resolver and the movement integrator, removed on explicit cleanup or
// snapshot overwrite.
type PlayerState struct {
	ID       PlayerId  `json:"id"`
	Position Position  `json:"position"`
	Velocity *Velocity `json:"velocity,omitempty"`
}

// GameObject is an opaque, application-defined object tracked in
// GlobalGameState.Objects.
type GameObject struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Data any    `json:"data,omitempty"`
}

// GlobalGameState is the single replicated state instance per session, owned
// by the state manager. Invariants: Tick is non-decreasing over the
// session's lifetime; Inventories[p] never holds two entries with the same
// item id; Objects is replaced wholesale on snapshot, addressed path-wise on
// delta.
type GlobalGameState struct {
	Players     map[PlayerId]PlayerState    `json:"players"`
	Inventories map[PlayerId][]InventoryItem `json:"inventories"`
	Objects     map[string]GameObject       `json:"objects"`
	Tick        int64                       `json:"tick"`
}

// NewGlobalGameState returns an empty, ready-to-use state.
func NewGlobalGameState() GlobalGameState {
	return GlobalGameState{
		Players:     make(map[PlayerId]PlayerState),
		Inventories: make(map[PlayerId][]InventoryItem),
		Objects:     make(map[string]GameObject),
	}
}

// PathChange is one leaf write in a StateDelta.
type PathChange struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// StateDelta is a set of dotted-path leaf overwrites against a
// GlobalGameState, tagged with the tick at which it was built.
type StateDelta struct {
	Tick    int64        `json:"tick"`
	Changes []PathChange `json:"changes"`
}

// StateFullPayload carries a full replicated-state snapshot.
type StateFullPayload struct {
	State GlobalGameState `json:"state"`
}

// StateDeltaPayload carries a StateDelta.
type StateDeltaPayload struct {
	Delta StateDelta `json:"delta"`
}

// GenericPayload carries the `payload` message's fields (app-defined data).
type GenericPayload struct {
	Payload any    `json:"payload"`
	Channel string `json:"channel,omitempty"`
}

// PingPongPayload carries `ping`/`pong` fields.
type PingPongPayload struct {
	Ts float64 `json:"ts"`
}

// Envelope is every on-wire message. Exactly one payload field is non-nil,
// selected by T. ttl is reserved (spec §9(a)): it is carried but never read
// or decremented anywhere in this module.
type Envelope struct {
	T    Type    `json:"t"`
	From PlayerId `json:"from"`
	Ts   float64 `json:"ts"`
	Seq  *uint64 `json:"seq,omitempty"`
	TTL  *uint32 `json:"ttl,omitempty"`

	Move       *MovePayload       `json:"move,omitempty"`
	Inventory  *InventoryPayload  `json:"inventory,omitempty"`
	Transfer   *TransferPayload   `json:"transfer,omitempty"`
	StateFull  *StateFullPayload  `json:"state_full,omitempty"`
	StateDelta *StateDeltaPayload `json:"state_delta,omitempty"`
	Generic    *GenericPayload    `json:"payload_msg,omitempty"`
	PingPong   *PingPongPayload   `json:"ping_pong,omitempty"`
}

// Channel reports which data channel a message type is routed to, per
// spec §4.7's send/broadcast contract: move/ping/pong are unreliable,
// everything else is reliable by default (callers may still force
// unreliable via an explicit option at the peer-manager layer).
func (t Type) Channel() string {
	switch t {
	case TypeMove, TypePing, TypePong:
		return "unreliable"
	default:
		return "reliable"
	}
}
