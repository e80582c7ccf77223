package node

import (
	"sync"
	"time"

	"github.com/efmgo/dslink/linkerr"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

// Tree is the in-memory responder node tree, rooted at "/". Lookup,
// insertion, and removal are O(depth): each Node holds a name-keyed map
// of its direct children, so resolving a path walks one map lookup per
// segment rather than scanning a flat table.
type Tree struct {
	mu       sync.RWMutex
	root     *Node
	registry *Registry

	onValueChanged ValueChangeHook
}

// ValueChangeHook is called after SetValue successfully updates a
// node's value, so a subscription engine can fan the change out to any
// live subscribers of that path.
type ValueChangeHook func(path nodepath.Path, v value.Value, ts time.Time)

// OnValueChanged registers hook to fire after every successful
// SetValue, replacing any previously registered hook. Intended to be
// wired once at construction time (see dslink.New), the same way
// subscription.Options.OnSubscribe is wired to the tree's nodes.
func (t *Tree) OnValueChanged(hook ValueChangeHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onValueChanged = hook
}

// NewTree returns a Tree containing only the root node.
func NewTree() *Tree {
	return &Tree{root: newNode(nodepath.Root(), "node"), registry: NewRegistry()}
}

// Registry returns the tree's path-pattern creation-callback registry.
func (t *Tree) Registry() *Registry {
	return t.registry
}

// Root returns the tree's root node.
func (t *Tree) Root() *Node {
	return t.root
}

// Get looks up the node at path, if any.
func (t *Tree) Get(path nodepath.Path) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.walk(path)
}

// walk must be called with t.mu held for reading or writing.
func (t *Tree) walk(path nodepath.Path) (*Node, bool) {
	if path.IsRoot() {
		return t.root, true
	}
	cur := t.root
	for _, seg := range path.Segments() {
		next, ok := cur.children[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// insert creates (or returns the existing) node at path with the given
// profile, requiring the parent to already exist. Returns the node and
// whether it was newly created.
func (t *Tree) insert(path nodepath.Path, profile string) (*Node, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(path, profile)
}

func (t *Tree) insertLocked(path nodepath.Path, profile string) (*Node, bool, error) {
	if existing, ok := t.walk(path); ok {
		return existing, false, nil
	}
	parent, ok := t.walk(path.Parent())
	if !ok {
		return nil, false, linkerr.Wrap(linkerr.PathNotFound, "parent of "+path.String()+" does not exist")
	}
	n := newNode(path, profile)
	n.parent = parent
	parent.children[path.Name()] = n
	return n, true, nil
}

// SetValue updates the value and timestamp of the node at path. Fails
// with linkerr.PathNotFound if the node doesn't exist, or
// linkerr.NotAValueNode if the node's declared type is none — the
// invariant that a typeless node can never carry a value.
func (t *Tree) SetValue(path nodepath.Path, v value.Value, ts time.Time) error {
	n, ok := t.Get(path)
	if !ok {
		return linkerr.Wrap(linkerr.PathNotFound, "set_value "+path.String())
	}
	n.mu.Lock()
	if n.valueType == TypeNone {
		n.mu.Unlock()
		return linkerr.Wrap(linkerr.NotAValueNode, "set_value "+path.String())
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	n.val = v
	n.timestamp = ts
	cb := n.onEvent
	n.mu.Unlock()

	if cb != nil {
		cb(EventValueChanged)
	}

	t.mu.RLock()
	hook := t.onValueChanged
	t.mu.RUnlock()
	if hook != nil {
		hook(path, v, ts)
	}
	return nil
}

// Remove deletes the node at path along with its entire subtree. A
// no-op if path does not exist; removing the root clears all children
// but keeps the root node itself.
func (t *Tree) Remove(path nodepath.Path) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if path.IsRoot() {
		t.root.children = make(map[string]*Node)
		return
	}
	parent, ok := t.walk(path.Parent())
	if !ok {
		return
	}
	delete(parent.children, path.Name())
}

// Walk invokes fn for every node in the tree, pre-order (parent before
// children), starting at root.
func (t *Tree) Walk(fn func(*Node)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var visit func(*Node)
	visit = func(n *Node) {
		fn(n)
		for _, name := range sortedKeys(n.children) {
			visit(n.children[name])
		}
	}
	visit(t.root)
}

func sortedKeys(m map[string]*Node) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Small maps (a node's direct children); insertion sort is fine and
	// avoids pulling in sort for what's usually a handful of entries.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
