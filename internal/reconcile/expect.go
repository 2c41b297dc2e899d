package reconcile

import "math"

type expectKind int

const (
	expectPlay expectKind = iota
	expectPause
	expectSeek
)

// maxExpectations bounds the list if a player swallows events.
const maxExpectations = 8

type expectation struct {
	kind expectKind
	at   float64
}

// expectations records player calls made on behalf of a remote update, so
// the event each call produces is recognized instead of forwarded.
type expectations struct {
	items []expectation
}

func (e *expectations) add(kind expectKind, at float64) {
	if len(e.items) == maxExpectations {
		e.items = e.items[1:]
	}
	e.items = append(e.items, expectation{kind: kind, at: at})
}

// consume removes the oldest expectation matching kind. Seek expectations
// also have to match the position within tol.
func (e *expectations) consume(kind expectKind, pos, tol float64) bool {
	for i, it := range e.items {
		if it.kind != kind {
			continue
		}
		if kind == expectSeek && math.Abs(it.at-pos) > tol {
			continue
		}
		e.items = append(e.items[:i], e.items[i+1:]...)
		return true
	}
	return false
}

// withdraw drops the newest expectation of kind, used when the call that
// would have produced it failed.
func (e *expectations) withdraw(kind expectKind) {
	for i := len(e.items) - 1; i >= 0; i-- {
		if e.items[i].kind == kind {
			e.items = append(e.items[:i], e.items[i+1:]...)
			return
		}
	}
}

func (e *expectations) has(kind expectKind) bool {
	for _, it := range e.items {
		if it.kind == kind {
			return true
		}
	}
	return false
}

func (e *expectations) reset() {
	e.items = nil
}
