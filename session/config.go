package session

import (
	"meshcore/movement"
	"meshcore/peer"
	"meshcore/state"
	"meshcore/wire"
)

// DebugConfig controls per-envelope tracing (spec §6.4's debug option).
type DebugConfig struct {
	Enabled bool
	// When Enabled, OnSend is called with every outbound envelope this
	// session produces, before it reaches the peer fabric. Nil is fine even
	// when Enabled.
	OnSend func(wire.Envelope)
}

// PingOverlayConfig configures the passive on-screen latency overlay the
// session facade forwards ping samples to (spec §1/§6.3 pins it as an
// external collaborator; this module only carries its configuration and
// calls the PingOverlay interface, it does not implement the overlay).
type PingOverlayConfig struct {
	Enabled  bool
	Position string
	Canvas   any
}

// Config is the session-level configuration table from spec §6.4.
type Config struct {
	MaxPlayers             int
	ConflictResolution     state.Mode
	AuthoritativeClientId  wire.PlayerId
	Serialization          wire.Scheme
	ICEServers             []peer.ICEServer
	CleanupOnPeerLeave     bool
	Debug                  DebugConfig
	Backpressure           peer.BackpressureConfig
	PingOverlay            PingOverlayConfig
	Movement               movement.Config
}

// DefaultConfig returns the spec §6.4 defaults: maxPlayers=4,
// conflictResolution="timestamp", serialization="json",
// backpressure="coalesce-moves" at a 256KiB threshold, and the movement
// package's own defaults.
func DefaultConfig() Config {
	return Config{
		MaxPlayers:         4,
		ConflictResolution: state.ModeTimestamp,
		Serialization:      wire.SchemeJSON,
		CleanupOnPeerLeave: false,
		Backpressure: peer.BackpressureConfig{
			Strategy:       peer.BackpressureCoalesceMoves,
			ThresholdBytes: 262144,
		},
		Movement: movement.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = 4
	}
	if c.ConflictResolution == "" {
		c.ConflictResolution = state.ModeTimestamp
	}
	if c.Serialization == "" {
		c.Serialization = wire.SchemeJSON
	}
	if c.Backpressure.Strategy == "" {
		c.Backpressure.Strategy = peer.BackpressureCoalesceMoves
	}
	if c.Backpressure.ThresholdBytes <= 0 {
		c.Backpressure.ThresholdBytes = 262144
	}
	if c.Movement.MaxSpeed == 0 && c.Movement.WorldBounds.Width == 0 && c.Movement.PlayerRadius == 0 {
		c.Movement = movement.DefaultConfig()
	}
	return c
}
