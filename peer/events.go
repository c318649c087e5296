package peer

import "meshcore/wire"

// Event payloads emitted on the bus by Manager (spec §4.7).

type PeerJoinEvent struct {
	PlayerId wire.PlayerId
}

type PeerLeaveEvent struct {
	PlayerId wire.PlayerId
}

type HostChangeEvent struct {
	HostId wire.PlayerId
}

type MaxCapacityEvent struct {
	MaxPlayers int
}

type PingEvent struct {
	PlayerId wire.PlayerId
	RTTMs    float64
}
