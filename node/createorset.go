package node

import (
	"time"

	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

// CreateOrSetOptions describes a node to create if absent.
type CreateOrSetOptions struct {
	Profile     string
	DisplayName string
	HasDisplay  bool
	Type        ValueType
	Permission  Permission
	Writable    Writable
	EnumValues  string
	Serializable bool
	Serial      SerializationMode
}

// CreateOrSet creates the node at path with opts if it does not exist,
// or otherwise sets its value and timestamp, leaving every other
// attribute untouched. Returns the path and any error from traversing
// to or creating it.
func CreateOrSet(tree *Tree, path nodepath.Path, opts CreateOrSetOptions, v value.Value, ts time.Time) (nodepath.Path, error) {
	if ts.IsZero() {
		ts = time.Now()
	}

	if _, ok := tree.Get(path); ok {
		if err := tree.SetValue(path, v, ts); err != nil {
			return nodepath.Path{}, err
		}
		return path, nil
	}

	profile := opts.Profile
	if profile == "" {
		profile = "node"
	}
	created, isNew, err := tree.insert(path, profile)
	if err != nil {
		return nodepath.Path{}, err
	}

	created.mu.Lock()
	if isNew {
		if opts.HasDisplay {
			created.displayName = opts.DisplayName
			created.hasDisplay = true
		}
		created.valueType = opts.Type
		created.permission = opts.Permission
		created.writable = opts.Writable
		created.enumValues = opts.EnumValues
		if opts.Serializable {
			created.serial = opts.Serial
		}
	}
	created.val = v
	created.timestamp = ts
	created.mu.Unlock()

	if isNew && tree.registry != nil {
		tree.registry.Notify(created, false)
	}
	return path, nil
}
