// Package gpio provides the raw pin-level event stream contract.
//
// The control normalizer only ever sees this contract; a real driver
// (sysfs, memory-mapped, expansion hat) lives behind it. Drivers own
// their hardware error handling: a failed read is logged by the driver
// and produces no event, so downstream consumers never see a spurious
// transition.
package gpio

import "time"

// Event is a single pin-level transition.
type Event struct {
	Pin  int       // BCM pin number
	High bool      // Level after the transition
	Time time.Time // When the transition was observed
}

// Source emits raw pin transitions.
type Source interface {
	Events() <-chan Event
	Close() error
}
