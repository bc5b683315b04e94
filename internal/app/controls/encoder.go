package controls

import "time"

// qdecTable maps (previous state << 2 | current state) of the two-phase
// quadrature signal to a rotation step. Invalid transitions (both
// phases flipping at once) decode to 0 and are ignored as noise.
var qdecTable = [16]int{
	0, -1, 1, 0,
	1, 0, 0, -1,
	-1, 0, 0, 1,
	0, 1, -1, 0,
}

// encoder decodes a two-phase rotary encoder with hysteresis: a volume
// step is emitted only after a configurable number of consistent phase
// transitions, so noisy partial rotations never produce intents.
// Successive same-direction steps inside the acceleration window grow
// the emitted step size.
type encoder struct {
	detents int // consistent transitions required per emitted step

	a, b  bool
	accum int

	lastEmit    time.Time
	lastDir     int
	accelWindow time.Duration
	accelStep   int
	maxStep     int
}

// handlePhase processes a transition on either encoder pin and returns
// the step multiplier to emit: positive for clockwise (volume up),
// negative for counter-clockwise, zero for no complete detent.
func (e *encoder) handlePhase(pinA bool, high bool, at time.Time) int {
	prev := e.stateBits()
	if pinA {
		e.a = high
	} else {
		e.b = high
	}
	curr := e.stateBits()
	if prev == curr {
		return 0
	}

	delta := qdecTable[prev<<2|curr]
	if delta == 0 {
		// Illegal transition: treat as noise, resync on the next edge.
		e.accum = 0
		return 0
	}

	// A direction flip discards accumulated progress: hysteresis.
	if e.accum != 0 && (e.accum > 0) != (delta > 0) {
		e.accum = 0
	}
	e.accum += delta

	if e.accum >= e.detents {
		e.accum = 0
		return e.accelerated(1, at)
	}
	if e.accum <= -e.detents {
		e.accum = 0
		return e.accelerated(-1, at)
	}
	return 0
}

// accelerated scales a unit step when rotation is rapid and
// same-direction.
func (e *encoder) accelerated(dir int, at time.Time) int {
	if e.accelWindow > 0 && dir == e.lastDir && !e.lastEmit.IsZero() && at.Sub(e.lastEmit) < e.accelWindow {
		e.accelStep++
		if e.accelStep > e.maxStep {
			e.accelStep = e.maxStep
		}
	} else {
		e.accelStep = 1
	}
	e.lastEmit = at
	e.lastDir = dir
	return dir * e.accelStep
}

func (e *encoder) stateBits() int {
	s := 0
	if e.a {
		s |= 2
	}
	if e.b {
		s |= 1
	}
	return s
}
