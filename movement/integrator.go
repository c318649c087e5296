// Package movement implements the bounded-extrapolation position integrator
// and the sphere-vs-sphere separation pass (spec §4.6), grounded on the
// Euler-integration shape of the physics integrator found in the pack's
// flight-sim example (abrahamVado-DriftPursuit/go-broker/internal/physics,
// clampVec3Magnitude/integrateLinear) — the teacher repo has no physics of
// its own, so this package's algorithm is learned from the wider pack
// rather than from rustyguts-bken.
package movement

import (
	"math"
	"sort"
	"sync"

	"meshcore/wire"
)

// Integrator tracks, per player, the timestamp of their last accepted move
// and the last time this integrator advanced them, and uses both to bound
// how far a stale velocity is allowed to extrapolate a position.
type Integrator struct {
	cfg Config

	mu          sync.Mutex
	lastMoveTs  map[wire.PlayerId]float64
	lastFrameTs map[wire.PlayerId]float64
}

func New(cfg Config) *Integrator {
	return &Integrator{
		cfg:         cfg,
		lastMoveTs:  make(map[wire.PlayerId]float64),
		lastFrameTs: make(map[wire.PlayerId]float64),
	}
}

// RecordMove marks now as the timestamp of the last accepted remote move for
// id, resetting its extrapolation budget. The state manager calls this
// whenever it accepts a move envelope.
func (in *Integrator) RecordMove(id wire.PlayerId, now float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.lastMoveTs[id] = now
	if _, ok := in.lastFrameTs[id]; !ok {
		in.lastFrameTs[id] = now
	}
}

// Forget drops a player's extrapolation bookkeeping (called on peer leave).
func (in *Integrator) Forget(id wire.PlayerId) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.lastMoveTs, id)
	delete(in.lastFrameTs, id)
}

// Interpolate advances every player in state who has a known velocity and a
// recorded last-move timestamp, per spec §4.6's formula, and clamps to
// worldBounds unless IgnoreWorldBounds is set.
func (in *Integrator) Interpolate(state *wire.GlobalGameState, now float64) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for id, p := range state.Players {
		if p.Velocity == nil {
			continue
		}
		lastMove, hasMove := in.lastMoveTs[id]
		if !hasMove {
			continue
		}
		lastFrame, hasFrame := in.lastFrameTs[id]
		if !hasFrame {
			lastFrame = lastMove
		}

		frameDt := math.Max(0, (now-lastFrame)/1000)
		remaining := math.Max(0, in.cfg.ExtrapolationMs-(lastFrame-lastMove))
		allowedDt := math.Min(frameDt, remaining/1000)

		vx := clampMagnitude(p.Velocity.X, in.cfg.MaxSpeed)
		vy := clampMagnitude(p.Velocity.Y, in.cfg.MaxSpeed)

		p.Position.X += vx * allowedDt * in.cfg.Smoothing
		p.Position.Y += vy * allowedDt * in.cfg.Smoothing

		if p.Velocity.Z != nil {
			vz := clampMagnitude(*p.Velocity.Z, in.cfg.MaxSpeed)
			z := zOrZero(p.Position.Z) + vz*allowedDt*in.cfg.Smoothing
			p.Position.Z = &z
		}

		if !in.cfg.IgnoreWorldBounds {
			p.Position.X = clampRange(p.Position.X, 0, in.cfg.WorldBounds.Width)
			p.Position.Y = clampRange(p.Position.Y, 0, in.cfg.WorldBounds.Height)
			if in.cfg.WorldBounds.Depth > 0 && p.Position.Z != nil {
				z := clampRange(*p.Position.Z, 0, in.cfg.WorldBounds.Depth)
				p.Position.Z = &z
			}
		}

		state.Players[id] = p
		in.lastFrameTs[id] = now
	}
}

// ResolveCollisions separates every pair of players closer together than
// 2*playerRadius, moving each by half the overlap along the normalized
// direction between them; pairs closer than eps fall back to the deterministic
// axis (1,0,0) (spec §4.6). Pairs are visited in a fixed, sorted order so
// repeated runs are deterministic; each unordered pair is resolved once.
func (in *Integrator) ResolveCollisions(state *wire.GlobalGameState) {
	const eps = 1e-6
	minDist := 2 * in.cfg.PlayerRadius

	ids := make([]wire.PlayerId, 0, len(state.Players))
	for id := range state.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a := state.Players[ids[i]]
			b := state.Players[ids[j]]

			az := zOrZero(a.Position.Z)
			bz := zOrZero(b.Position.Z)
			dx := a.Position.X - b.Position.X
			dy := a.Position.Y - b.Position.Y
			dz := az - bz
			dist := math.Sqrt(dx*dx + dy*dy + dz*dz)

			if dist >= minDist {
				continue
			}

			var nx, ny, nz float64
			if dist < eps {
				nx, ny, nz = 1, 0, 0
			} else {
				nx, ny, nz = dx/dist, dy/dist, dz/dist
			}

			half := (minDist - dist) / 2
			a.Position.X += nx * half
			a.Position.Y += ny * half
			b.Position.X -= nx * half
			b.Position.Y -= ny * half

			if a.Position.Z != nil || b.Position.Z != nil {
				newAZ := az + nz*half
				newBZ := bz - nz*half
				a.Position.Z = &newAZ
				b.Position.Z = &newBZ
			}

			state.Players[ids[i]] = a
			state.Players[ids[j]] = b
		}
	}
}

func clampMagnitude(v, max float64) float64 {
	if max <= 0 {
		return v
	}
	if v > max {
		return max
	}
	if v < -max {
		return -max
	}
	return v
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func zOrZero(z *float64) float64 {
	if z == nil {
		return 0
	}
	return *z
}
