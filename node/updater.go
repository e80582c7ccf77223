package node

import (
	"github.com/efmgo/dslink/linkerr"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

type attrOp struct {
	key    string
	val    value.Value
	remove bool
}

// Updater targets one existing node and commits a batch of field
// mutations atomically. Setters only touch the fields they name; any
// field left unset is untouched by Commit.
type Updater struct {
	tree *Tree
	path nodepath.Path
	err  error

	setDisplay  bool
	displayName string

	setType   bool
	valueType ValueType

	setEnum    bool
	enumValues string

	setPermission bool
	permission    Permission

	setWritable bool
	writable    Writable
	writableCB  WriteCallback

	setHidden bool
	hidden    bool

	setAction bool
	action    *Action

	setEvent bool
	eventCB  EventCallback

	configOps    []attrOp
	attributeOps []attrOp
}

// NewUpdater returns an Updater targeting path.
func NewUpdater(tree *Tree, path nodepath.Path) *Updater {
	return &Updater{tree: tree, path: path}
}

func (u *Updater) fail(k linkerr.Kind, context string) {
	if u.err == nil {
		u.err = linkerr.Wrap(k, context)
	}
}

// DisplayName sets the display name to update.
func (u *Updater) DisplayName(name string) *Updater {
	u.setDisplay = true
	u.displayName = name
	return u
}

// Type sets the value type to update.
func (u *Updater) Type(t ValueType) *Updater {
	u.setType = true
	u.valueType = t
	return u
}

// EnumValues sets the enum/bool label list to update.
func (u *Updater) EnumValues(enums string) *Updater {
	u.setEnum = true
	u.enumValues = enums
	return u
}

// Permission sets the permission to update.
func (u *Updater) Permission(p Permission) *Updater {
	u.setPermission = true
	u.permission = p
	return u
}

// Writable sets the writable mode (and callback) to update.
func (u *Updater) Writable(w Writable, cb WriteCallback) *Updater {
	if w == WritableNever && cb != nil {
		u.fail(linkerr.NodeIsNotWritable, "writable callback with writable=never")
		return u
	}
	u.setWritable = true
	u.writable = w
	u.writableCB = cb
	return u
}

// Hidden sets the hidden flag to update.
func (u *Updater) Hidden(hidden bool) *Updater {
	u.setHidden = true
	u.hidden = hidden
	return u
}

// ActionDef sets the action definition to update; pass nil to clear it.
func (u *Updater) ActionDef(a *Action) *Updater {
	u.setAction = true
	u.action = a
	return u
}

// OnEvent sets the node's on-event handler to update; pass nil to clear
// it.
func (u *Updater) OnEvent(cb EventCallback) *Updater {
	u.setEvent = true
	u.eventCB = cb
	return u
}

// AddConfig queues a config key/value to set on Commit.
func (u *Updater) AddConfig(key string, v value.Value) *Updater {
	u.configOps = append(u.configOps, attrOp{key: key, val: v})
	return u
}

// RemoveConfig queues a config key to remove on Commit.
func (u *Updater) RemoveConfig(key string) *Updater {
	u.configOps = append(u.configOps, attrOp{key: key, remove: true})
	return u
}

// AddAttribute queues an attribute key/value to set on Commit.
func (u *Updater) AddAttribute(key string, v value.Value) *Updater {
	u.attributeOps = append(u.attributeOps, attrOp{key: key, val: v})
	return u
}

// RemoveAttribute queues an attribute key to remove on Commit.
func (u *Updater) RemoveAttribute(key string) *Updater {
	u.attributeOps = append(u.attributeOps, attrOp{key: key, remove: true})
	return u
}

// Commit applies every queued mutation to the target node atomically
// (under the node's lock). Returns linkerr.PathNotFound if the target
// node does not exist.
func (u *Updater) Commit() error {
	if u.err != nil {
		return u.err
	}

	n, ok := u.tree.Get(u.path)
	if !ok {
		return linkerr.Wrap(linkerr.PathNotFound, "updater commit "+u.path.String())
	}

	n.mu.Lock()

	if u.setDisplay {
		n.displayName = u.displayName
		n.hasDisplay = true
	}
	if u.setType {
		n.valueType = u.valueType
	}
	if u.setEnum {
		n.enumValues = u.enumValues
	}
	if u.setPermission {
		n.permission = u.permission
	}
	if u.setWritable {
		n.writable = u.writable
		n.writableCallback = u.writableCB
	}
	if u.setHidden {
		n.hidden = u.hidden
	}
	if u.setAction {
		n.action = u.action
	}
	if u.setEvent {
		n.onEvent = u.eventCB
	}
	for _, op := range u.configOps {
		if op.remove {
			n.removeConfig(op.key)
		} else {
			n.setConfig(op.key, op.val)
		}
	}
	for _, op := range u.attributeOps {
		if op.remove {
			n.removeAttribute(op.key)
		} else {
			n.setAttribute(op.key, op.val)
		}
	}

	cb := n.onEvent
	n.mu.Unlock()

	if cb != nil {
		cb(EventMetadataChanged)
	}
	return nil
}
