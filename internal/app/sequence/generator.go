// Package sequence provides monotonic sequence number generation for
// event ordering.
package sequence

import "sync"

// Generator produces monotonically increasing sequence numbers, one
// global stream plus one stream per scope (playlist). Allocation is
// funneled through a mutex per stream family so concurrent emitters can
// never observe duplicate or decreasing values within a scope.
//
// Counters are in-memory only and restart at zero with the process.
type Generator struct {
	globalMu sync.Mutex
	global   uint64

	scopeMu sync.Mutex
	scopes  map[int64]uint64
}

// New creates a new sequence generator.
func New() *Generator {
	return &Generator{
		scopes: make(map[int64]uint64),
	}
}

// NextGlobal returns the next global sequence number.
func (g *Generator) NextGlobal() uint64 {
	g.globalMu.Lock()
	defer g.globalMu.Unlock()
	g.global++
	return g.global
}

// CurrentGlobal returns the last allocated global sequence number
// without advancing the counter.
func (g *Generator) CurrentGlobal() uint64 {
	g.globalMu.Lock()
	defer g.globalMu.Unlock()
	return g.global
}

// NextForScope returns the next sequence number for the given scope.
func (g *Generator) NextForScope(scopeID int64) uint64 {
	g.scopeMu.Lock()
	defer g.scopeMu.Unlock()
	g.scopes[scopeID]++
	return g.scopes[scopeID]
}

// CurrentForScope returns the last allocated sequence number for the
// given scope without advancing the counter.
func (g *Generator) CurrentForScope(scopeID int64) uint64 {
	g.scopeMu.Lock()
	defer g.scopeMu.Unlock()
	return g.scopes[scopeID]
}

// ResetGlobal resets the global counter to zero.
// For tests and recovery tooling only; never called from control flow.
func (g *Generator) ResetGlobal() {
	g.globalMu.Lock()
	defer g.globalMu.Unlock()
	g.global = 0
}

// ResetScope resets a scope counter to zero.
// For tests and recovery tooling only; never called from control flow.
func (g *Generator) ResetScope(scopeID int64) {
	g.scopeMu.Lock()
	defer g.scopeMu.Unlock()
	delete(g.scopes, scopeID)
}
