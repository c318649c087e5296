// Package bus is an in-process, synchronous fan-out registry for the typed
// domain events the mesh core emits (peer lifecycle, replicated-state
// changes, latency samples). It generalizes the teacher's per-callback
// Set* fields (the reference client's Transport callback setters) into a
// keyed registry, because this module has an open set of
// call sites subscribing to any of a dozen event names rather than one
// fixed struct of callbacks.
package bus

import "sync"

// Name is one of the closed set of event names the core may emit.
type Name string

const (
	PeerJoin           Name = "peerJoin"
	PeerLeave          Name = "peerLeave"
	HostChange         Name = "hostChange"
	PlayerMove         Name = "playerMove"
	InventoryUpdate    Name = "inventoryUpdate"
	ObjectTransfer     Name = "objectTransfer"
	StateSync          Name = "stateSync"
	StateDelta         Name = "stateDelta"
	SharedPayload      Name = "sharedPayload"
	NetMessage         Name = "netMessage"
	Ping               Name = "ping"
	MaxCapacityReached Name = "maxCapacityReached"
)

// Unsubscribe removes a previously registered handler.
type Unsubscribe func()

type subscriber struct {
	id int
	fn func(any)
}

// Bus is a keyed multicast registry. The zero value is not usable; call New.
type Bus struct {
	mu    sync.Mutex
	subs  map[Name][]subscriber
	nextID int
}

// New returns a ready-to-use Bus.
func New() *Bus {
	return &Bus{subs: make(map[Name][]subscriber)}
}

// Subscribe registers fn under name and returns a handle to remove it again.
// Handlers are invoked in insertion order by Emit.
func (b *Bus) Subscribe(name Name, fn func(any)) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[name] = append(b.subs[name], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[name]
		for i, s := range list {
			if s.id == id {
				b.subs[name] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers payload synchronously, in subscription order, to every
// handler registered under name. A handler that panics is recovered so a
// misbehaving subscriber cannot interrupt delivery to its siblings.
func (b *Bus) Emit(name Name, payload any) {
	b.mu.Lock()
	// Copy the slice so handlers may Subscribe/Unsubscribe during delivery
	// without racing the live registry or skipping/duplicating entries.
	list := make([]subscriber, len(b.subs[name]))
	copy(list, b.subs[name])
	b.mu.Unlock()

	for _, s := range list {
		invoke(s.fn, payload)
	}
}

func invoke(fn func(any), payload any) {
	defer func() { _ = recover() }()
	fn(payload)
}

// Clear drops every subscriber for every event name. Called on disposal.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[Name][]subscriber)
}

// On is a typed convenience wrapper around Subscribe: it casts payload to T
// before calling fn, so call sites recover type safety despite the
// underlying registry storing func(any). A payload of the wrong type is
// silently dropped rather than panicking through Emit's recover.
func On[T any](b *Bus, name Name, fn func(T)) Unsubscribe {
	return b.Subscribe(name, func(payload any) {
		v, ok := payload.(T)
		if !ok {
			return
		}
		fn(v)
	})
}
