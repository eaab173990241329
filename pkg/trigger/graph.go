package trigger

import (
	"errors"
	"sort"
)

// ErrDeleteDefault is returned when an edit would remove state 0.
var ErrDeleteDefault = errors.New("trigger: can't delete state 0")

// Graph is an immutable trigger table keyed by state index. Edits return a
// new Graph and leave the receiver untouched, so keeping the previous value
// is enough to undo an edit.
type Graph struct {
	states map[uint8]State
}

// NewGraph returns the default table holding only 0=xxxxxxxx-0-0.
func NewGraph() Graph {
	return Graph{states: map[uint8]State{0: DefaultState()}}
}

// FromStates builds a graph from the given states. Later duplicates replace
// earlier ones. State 0 is not added implicitly.
func FromStates(states ...State) Graph {
	g := Graph{states: make(map[uint8]State, len(states))}
	for _, s := range states {
		g.states[s.Index] = s
	}
	return g
}

// Len returns the number of defined states.
func (g Graph) Len() int {
	return len(g.states)
}

// Lookup returns the state at index.
func (g Graph) Lookup(index uint8) (State, bool) {
	s, ok := g.states[index]
	return s, ok
}

// Has reports whether index is defined.
func (g Graph) Has(index uint8) bool {
	_, ok := g.states[index]
	return ok
}

// Indices returns the defined indices in ascending order.
func (g Graph) Indices() []uint8 {
	out := make([]uint8, 0, len(g.states))
	for i := range g.states {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// States returns the defined states in ascending index order.
func (g Graph) States() []State {
	idx := g.Indices()
	out := make([]State, len(idx))
	for i, n := range idx {
		out[i] = g.states[n]
	}
	return out
}

// MaxIndex returns the highest defined index, or 0 for an empty graph.
func (g Graph) MaxIndex() uint8 {
	var max uint8
	for i := range g.states {
		if i > max {
			max = i
		}
	}
	return max
}

// With returns a copy of g with s defined (replacing any state at s.Index).
func (g Graph) With(states ...State) Graph {
	next := g.clone()
	for _, s := range states {
		next.states[s.Index] = s
	}
	return next
}

// Without returns a copy of g with the given indices removed. Removing state
// 0 is refused and leaves g unchanged. Unknown indices are ignored.
func (g Graph) Without(indices ...uint8) (Graph, error) {
	for _, i := range indices {
		if i == 0 {
			return g, ErrDeleteDefault
		}
	}
	next := g.clone()
	for _, i := range indices {
		delete(next.states, i)
	}
	return next, nil
}

// WithoutRange removes every defined index in [lo, hi].
func (g Graph) WithoutRange(lo, hi uint8) (Graph, error) {
	var del []uint8
	for i := range g.states {
		if i >= lo && i <= hi {
			del = append(del, i)
		}
	}
	if lo == 0 {
		return g, ErrDeleteDefault
	}
	return g.Without(del...)
}

func (g Graph) clone() Graph {
	next := Graph{states: make(map[uint8]State, len(g.states)+1)}
	for i, s := range g.states {
		next.states[i] = s
	}
	return next
}

// History tracks the current graph and the one before the last edit.
type History struct {
	current  Graph
	previous Graph
	canUndo  bool
}

// NewHistory starts a history at g.
func NewHistory(g Graph) *History {
	return &History{current: g}
}

// Current returns the current graph.
func (h *History) Current() Graph {
	return h.current
}

// Apply records g as the new current graph.
func (h *History) Apply(g Graph) {
	h.previous = h.current
	h.current = g
	h.canUndo = true
}

// Undo swaps the current and previous graphs. A second Undo redoes the edit.
// It returns false if nothing has been applied yet.
func (h *History) Undo() bool {
	if !h.canUndo {
		return false
	}
	h.current, h.previous = h.previous, h.current
	return true
}
