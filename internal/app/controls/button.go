package controls

import (
	"time"

	"github.com/tagtune/tagtune/internal/domain/intent"
)

// buttonState tracks one physical button through a press cycle.
type buttonState int

const (
	buttonIdle    buttonState = iota // Released
	buttonPressed                    // Down, not yet past the long-press threshold
	buttonHeld                       // Down past the threshold; long press already emitted
)

// button collapses electrical bounce into single logical presses and
// distinguishes long presses. Buttons are wired active-low (pull-up):
// a low level means pressed.
type button struct {
	name      string
	press     intent.Type
	longPress intent.Type // emitted instead of press; 0 (TypePlay) is never a long-press mapping, use hasLong
	hasLong   bool

	state    buttonState
	down     bool // last observed level, tracked across every edge
	lastEdge time.Time
	downAt   time.Time
}

// handleEdge processes a raw level transition. Returns the intent type
// to emit and true when a logical press completed.
func (b *button) handleEdge(high bool, at time.Time, debounce time.Duration) (intent.Type, bool) {
	// The level is tracked unconditionally; tick resyncs the state
	// machine from it when the deciding edge fell inside the window.
	b.down = !high

	// Transitions inside the debounce window are bounce, not input.
	if !b.lastEdge.IsZero() && at.Sub(b.lastEdge) < debounce {
		return 0, false
	}
	b.lastEdge = at

	if !high {
		// Falling edge: press started.
		if b.state == buttonIdle {
			b.state = buttonPressed
			b.downAt = at
		}
		return 0, false
	}

	// Rising edge: released.
	switch b.state {
	case buttonPressed:
		b.state = buttonIdle
		return b.press, true
	case buttonHeld:
		// Long press was already emitted while held.
		b.state = buttonIdle
		return 0, false
	default:
		return 0, false
	}
}

// tick promotes a pressed button to held once the threshold elapses,
// emitting the long-press intent at that moment. A button whose release
// edge was swallowed by the debounce window is returned to idle here,
// without emitting: promoting it would fire a long press for a button
// that is physically up.
func (b *button) tick(now time.Time, threshold time.Duration) (intent.Type, bool) {
	if b.state == buttonIdle {
		return 0, false
	}
	if !b.down {
		b.state = buttonIdle
		return 0, false
	}
	if b.state != buttonPressed || now.Sub(b.downAt) < threshold {
		return 0, false
	}
	b.state = buttonHeld
	if b.hasLong {
		return b.longPress, true
	}
	return b.press, true
}
