package node

import (
	"time"

	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

// RestoreDesc carries one node's persisted fields, as read back by the
// serializer package from a snapshot document. It mirrors the fields a
// Builder can set, minus the callbacks and action definition: those are
// live-code concerns the application re-attaches itself when it
// re-declares the node via the builder.
type RestoreDesc struct {
	Profile string

	HasDisplayName bool
	DisplayName    string

	ValueType  ValueType
	EnumValues string
	Permission Permission
	Writable   Writable

	HasValue  bool
	Value     value.Value
	Timestamp time.Time

	Hidden        bool
	Serialization SerializationMode

	HasEditor bool
	Editor    string

	ConfigKeys    []string
	Configs       map[string]value.Value
	AttributeKeys []string
	Attributes    map[string]value.Value
}

// Restore creates the node at path from a snapshot entry if it doesn't
// already exist, filling in any missing ancestor along the way with the
// generic "node" profile. If the node already exists — e.g. Restore is
// called twice, or the tree was pre-populated before deserialization —
// its existing fields are left untouched: pre-existing metadata wins,
// per the deserialization merge rule.
//
// On an actual creation, every registered creation-callback pattern
// matching path fires via the registry with deserializing set to true.
// Ancestors auto-created only to complete the path do not fire
// callbacks themselves; they are structural filler, not entries that
// were themselves present in the snapshot.
func (t *Tree) Restore(path nodepath.Path, d RestoreDesc) (*Node, error) {
	profile := d.Profile
	if profile == "" {
		profile = "node"
	}

	t.mu.Lock()
	n, isNew, err := t.ensurePathLocked(path, profile)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !isNew {
		return n, nil
	}

	n.mu.Lock()
	applyRestoreDesc(n, d)
	n.mu.Unlock()

	if t.registry != nil {
		t.registry.Notify(n, true)
	}
	return n, nil
}

// ensurePathLocked returns the node at path, creating it (and any
// missing ancestor, with the generic "node" profile) if necessary.
// Must be called with t.mu held for writing.
func (t *Tree) ensurePathLocked(path nodepath.Path, leafProfile string) (*Node, bool, error) {
	if existing, ok := t.walk(path); ok {
		return existing, false, nil
	}

	cur := t.root
	curPath := nodepath.Root()
	segs := path.Segments()
	for i, seg := range segs {
		childPath, err := curPath.Join(seg)
		if err != nil {
			return nil, false, err
		}
		next, ok := cur.children[seg]
		if !ok {
			profile := "node"
			if i == len(segs)-1 {
				profile = leafProfile
			}
			next = newNode(childPath, profile)
			next.parent = cur
			cur.children[seg] = next
		}
		cur = next
		curPath = childPath
	}
	return cur, true, nil
}

func applyRestoreDesc(n *Node, d RestoreDesc) {
	if d.HasDisplayName {
		n.displayName = d.DisplayName
		n.hasDisplay = true
	}
	n.valueType = d.ValueType
	n.enumValues = d.EnumValues
	n.permission = d.Permission
	n.writable = d.Writable
	if d.HasValue {
		n.val = d.Value
		n.timestamp = d.Timestamp
	}
	n.hidden = d.Hidden
	n.serial = d.Serialization
	if d.HasEditor {
		n.editorName = d.Editor
		n.hasEditor = true
	}
	for _, k := range d.ConfigKeys {
		n.setConfig(k, d.Configs[k])
	}
	for _, k := range d.AttributeKeys {
		n.setAttribute(k, d.Attributes[k])
	}
}
