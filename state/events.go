package state

import "meshcore/wire"

// Event payloads emitted on the bus by Manager.Handle, one per domain event
// named in spec's bus event set (bus.PlayerMove, bus.InventoryUpdate, ...).

type MoveEvent struct {
	PlayerId wire.PlayerId
	State    wire.PlayerState
}

type InventoryEvent struct {
	PlayerId wire.PlayerId
	Items    []wire.InventoryItem
}

type TransferEvent struct {
	From wire.PlayerId
	To   wire.PlayerId
	Item wire.InventoryItem
}

type PayloadEvent struct {
	From    wire.PlayerId
	Channel string
	Payload any
}

type SyncEvent struct {
	State wire.GlobalGameState
}

type DeltaEvent struct {
	Delta wire.StateDelta
}
