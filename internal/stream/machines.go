package stream

import "github.com/pable/go-rl-metrics/internal/model"

// ---- Hesitation streak ----

type hesitationPhase int

const (
	hesitationIdle hesitationPhase = iota
	hesitationStreak
)

type hesitationMachine struct {
	phase     hesitationPhase
	start     float64
	maxStreak float64
}

func (m *hesitationMachine) end(now float64) {
	if streak := now - m.start; streak > m.maxStreak {
		m.maxStreak = streak
	}
	m.phase = hesitationIdle
}

// ---- Whiff attack window ----

type attackPhase int

const (
	attackIdle attackPhase = iota
	attacking
)

type attackMachine struct {
	phase         attackPhase
	start         float64
	startDist     float64
	minDist       float64
	closingFrames int
	nearFrames    int
	intentFrames  int
	hadJump       bool
	hadFlip       bool
}

func (a *attackMachine) active() bool { return a.phase == attacking }

func (a *attackMachine) reset() {
	*a = attackMachine{minDist: model.FarAway}
}

func (a *attackMachine) begin(now, dist float64) {
	*a = attackMachine{
		phase:     attacking,
		start:     now,
		startDist: dist,
		minDist:   dist,
	}
}

// contestMemory remembers the last ball hit attributed to another nearby car.
type contestMemory struct {
	time       float64
	confidence float64
	minDist    float64
}

func (c contestMemory) recent(now, window float64) bool {
	return now-c.time <= window
}

// ---- Boost accounting ----

type boostPhase int

const (
	boostUnprimed boostPhase = iota
	boostTracking
)

type boostMachine struct {
	phase boostPhase
	prev  float64
}

// drop returns how much boost was spent since the previous frame. The first
// frame only primes the machine.
func (b *boostMachine) drop(cur float64) float64 {
	if b.phase == boostUnprimed {
		b.phase = boostTracking
		b.prev = cur
	}
	d := b.prev - cur
	if d < 0 {
		d = 0
	}
	return d
}

func (b *boostMachine) commit(cur float64) { b.prev = cur }

// ---- Landing recovery ----

type recoveryPhase int

const (
	recoveryGrounded recoveryPhase = iota
	recoveryAirborne
	recoveryOpen
)

// recoveryMachine tracks how long it takes to become playable after landing.
// A new jump while a recovery window is open keeps the window open and also
// starts a fresh air timer, so airSince is tracked independently of phase.
type recoveryMachine struct {
	phase       recoveryPhase
	inAir       bool
	airSince    float64
	openedAt    float64
	lastLanding float64
}

func newRecoveryMachine() recoveryMachine {
	return recoveryMachine{lastLanding: -999}
}

// step advances the machine and reports a completed recovery duration.
func (r *recoveryMachine) step(now float64, airborne, playable bool, minAir, timeout float64) (float64, bool) {
	if airborne && !r.inAir {
		r.inAir = true
		r.airSince = now
		if r.phase == recoveryGrounded {
			r.phase = recoveryAirborne
		}
	}
	if !airborne && r.inAir {
		air := now - r.airSince
		r.inAir = false
		r.lastLanding = now
		if air >= minAir {
			r.phase = recoveryOpen
			r.openedAt = now
		} else if r.phase == recoveryAirborne {
			r.phase = recoveryGrounded
		}
	}
	if r.phase != recoveryOpen {
		return 0, false
	}
	if playable || now-r.openedAt > timeout {
		d := now - r.openedAt
		if d < 0 {
			d = 0
		}
		if r.inAir {
			r.phase = recoveryAirborne
		} else {
			r.phase = recoveryGrounded
		}
		return d, true
	}
	return 0, false
}
