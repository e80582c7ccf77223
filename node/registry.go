package node

import (
	"sync"

	"github.com/efmgo/dslink/nodepath"
)

// CreationCallback fires once for every node whose path matches a
// registered pattern. deserializing is true when the node was created
// while restoring a snapshot at startup rather than by a live Builder
// submission, letting the callback distinguish the two.
type CreationCallback func(n *Node, deserializing bool)

// Registry holds path-pattern node-creation callbacks. Exactly one
// callback is retained per pattern string; re-registering the same
// pattern overwrites the previous callback. Patterns that can only
// match the root are accepted but never fire (the root always exists).
type Registry struct {
	mu    sync.Mutex
	byKey map[string]registered
}

type registered struct {
	pattern nodepath.Pattern
	cb      CreationCallback
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]registered)}
}

// OnMatch registers cb to fire for every node whose path matches pattern
// and that is created or restored after registration; nodes that already
// exist when OnMatch is called are not reported. A pattern that matches only the root is
// accepted but has no effect, per the path-pattern invariant.
func (r *Registry) OnMatch(pattern nodepath.Pattern, cb CreationCallback) {
	if pattern.MatchesOnlyRoot() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[pattern.String()] = registered{pattern: pattern, cb: cb}
}

// Notify is called by the tree/builder after a node is created (or
// restored via deserialization) to fire every matching registered
// callback.
func (r *Registry) Notify(n *Node, deserializing bool) {
	r.mu.Lock()
	matches := make([]registered, 0)
	for _, reg := range r.byKey {
		if reg.pattern.Match(n.Path()) {
			matches = append(matches, reg)
		}
	}
	r.mu.Unlock()

	for _, reg := range matches {
		reg.cb(n, deserializing)
	}
}
