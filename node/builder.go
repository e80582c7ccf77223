package node

import (
	"fmt"
	"strings"
	"time"

	"github.com/efmgo/dslink/linkerr"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

// BuildResult reports which of a Builder's descriptions were actually
// created (paths that already existed are skipped) and carries the
// aggregate validation/construction error, if any.
type BuildResult struct {
	Created []nodepath.Path
	Err     error
}

type nodeDesc struct {
	name    string
	profile string

	serial      SerializationMode
	hasDisplay  bool
	displayName string
	hasType     bool
	valueType   ValueType
	enumValues  string
	permission  Permission
	writable    Writable
	writableCB  WriteCallback

	hasValue  bool
	val       value.Value
	timestamp time.Time

	hidden      bool
	editorName  string
	hasEditor   bool
	editorType  ValueType
	action      *Action
	onSubscribe SubscribeCallback
	onEvent     EventCallback

	configs    map[string]value.Value
	configKeys []string
	attributes map[string]value.Value
	attrKeys   []string
}

// Builder collects an ordered list of node descriptions to create as
// children of a single parent path. Call MakeNode to start each
// description; subsequent setters apply to the most recently started
// one until the next MakeNode call.
type Builder struct {
	tree       *Tree
	parentPath nodepath.Path
	descs      []*nodeDesc
	err        error
}

// NewBuilder returns a Builder that creates children of parentPath.
func NewBuilder(tree *Tree, parentPath nodepath.Path) *Builder {
	return &Builder{tree: tree, parentPath: parentPath}
}

func (b *Builder) current() *nodeDesc {
	if len(b.descs) == 0 {
		return nil
	}
	return b.descs[len(b.descs)-1]
}

func (b *Builder) fail(k linkerr.Kind, context string) {
	if b.err == nil {
		b.err = linkerr.Wrap(k, context)
	}
}

// MakeNode begins a new node description named name with the default
// "node" profile. name must be non-empty and free of the illegal path
// characters.
func (b *Builder) MakeNode(name string) *Builder {
	return b.MakeNodeWithProfile(name, "node")
}

// MakeNodeWithProfile is MakeNode with an explicit profile.
func (b *Builder) MakeNodeWithProfile(name, profile string) *Builder {
	if name == "" {
		b.fail(linkerr.EmptyNameSpecified, "make_node")
		return b
	}
	if strings.ContainsAny(name, `/\?*:|"<>`) {
		b.fail(linkerr.InvalidNameCharacters, "make_node "+name)
		return b
	}
	b.descs = append(b.descs, &nodeDesc{
		name:       name,
		profile:    profile,
		valueType:  TypeNone,
		permission: PermissionRead,
		writable:   WritableNever,
		serial:     SerializeNone,
		configs:    make(map[string]value.Value),
		attributes: make(map[string]value.Value),
	})
	return b
}

// Serializable marks the current node for persistence with mode.
func (b *Builder) Serializable(mode SerializationMode) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "serializable")
		return b
	}
	d.serial = mode
	return b
}

// DisplayName sets the current node's display name.
func (b *Builder) DisplayName(name string) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "display_name")
		return b
	}
	d.displayName = name
	d.hasDisplay = true
	return b
}

// Type sets the current node's value type.
func (b *Builder) Type(t ValueType) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "type")
		return b
	}
	d.valueType = t
	d.hasType = true
	return b
}

// EnumValues sets the comma-separated enum/bool label list. Requires a
// type to already be set.
func (b *Builder) EnumValues(enums string) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "enum_values")
		return b
	}
	if !d.hasType {
		b.fail(linkerr.InvalidValue, "enum_values before type")
		return b
	}
	d.enumValues = enums
	return b
}

// Permission sets the current node's minimum permission.
func (b *Builder) Permission(p Permission) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "permission")
		return b
	}
	d.permission = p
	return b
}

// Writable sets the current node's writable mode with no callback.
func (b *Builder) Writable(w Writable) *Builder {
	return b.WritableWithCallback(w, nil)
}

// WritableWithCallback sets the current node's writable mode and the
// callback invoked when a peer sets its value. Attaching a non-nil
// callback with w == WritableNever is a configuration error, since the
// callback could never fire.
func (b *Builder) WritableWithCallback(w Writable, cb WriteCallback) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "writable")
		return b
	}
	if w == WritableNever && cb != nil {
		b.fail(linkerr.NodeIsNotWritable, "writable callback with writable=never")
		return b
	}
	d.writable = w
	d.writableCB = cb
	return b
}

// Value sets the current node's initial value. Requires a type to
// already be set.
func (b *Builder) Value(v value.Value) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "value")
		return b
	}
	if !d.hasType {
		b.fail(linkerr.NotAValueNode, "value before type")
		return b
	}
	d.val = v
	d.hasValue = true
	if d.timestamp.IsZero() {
		d.timestamp = time.Now()
	}
	return b
}

// Timestamp sets the current node's initial value timestamp.
func (b *Builder) Timestamp(ts time.Time) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "timestamp")
		return b
	}
	d.timestamp = ts
	return b
}

// OnSubscribe sets the callback fired on first subscribe / last
// unsubscribe.
func (b *Builder) OnSubscribe(cb SubscribeCallback) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "on_subscribe")
		return b
	}
	d.onSubscribe = cb
	return b
}

// OnEvent sets the callback fired on value-changed, metadata-changed,
// list-open, subscribe, and unsubscribe occasions for the current node.
func (b *Builder) OnEvent(cb EventCallback) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "on_event")
		return b
	}
	d.onEvent = cb
	return b
}

// Hidden marks the current node hidden from GUI clients.
func (b *Builder) Hidden() *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "hidden")
		return b
	}
	d.hidden = true
	return b
}

// editorNames are the only editor kinds the SDK recognizes; anything
// else is an editor_type_not_allowed error.
var editorNames = map[string]bool{
	"textarea":  true,
	"password":  true,
	"daterange": true,
	"date":      true,
}

// Editor attaches editorName to the current node's value, valid only
// when the node's declared type matches editorValueType.
func (b *Builder) Editor(editorName string, editorValueType ValueType) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "editor")
		return b
	}
	if !editorNames[editorName] {
		b.fail(linkerr.EditorTypeNotAllowed, "editor "+editorName)
		return b
	}
	if !d.hasType || d.valueType != editorValueType {
		b.fail(linkerr.InvalidEditorType, "editor "+editorName)
		return b
	}
	d.editorName = editorName
	d.editorType = editorValueType
	d.hasEditor = true
	return b
}

// ActionDef attaches an action definition to the current node.
func (b *Builder) ActionDef(a Action) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "action")
		return b
	}
	d.action = &a
	return b
}

// Config adds a custom config value (key conventionally prefixed `$`)
// to the current node.
func (b *Builder) Config(key string, v value.Value) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "config")
		return b
	}
	if _, exists := d.configs[key]; !exists {
		d.configKeys = append(d.configKeys, key)
	}
	d.configs[key] = v
	return b
}

// Attribute adds a custom attribute value (key conventionally prefixed
// `@`) to the current node.
func (b *Builder) Attribute(key string, v value.Value) *Builder {
	d := b.current()
	if d == nil {
		b.fail(linkerr.NoNodeDefinedYet, "attribute")
		return b
	}
	if _, exists := d.attributes[key]; !exists {
		d.attrKeys = append(d.attrKeys, key)
	}
	d.attributes[key] = v
	return b
}

// Build atomically creates every description that does not already
// exist under the parent path. It returns the paths actually created
// (descriptions whose path already existed are skipped, not
// overwritten) along with the first validation error encountered while
// the descriptions were being assembled, if any.
//
// A non-nil Err means no nodes were created at all: validation errors
// are caught at setter time and short-circuit the whole batch, since a
// builder call chain that raised an error mid-chain cannot have
// produced a description the caller intended.
func (b *Builder) Build() BuildResult {
	if b.err != nil {
		return BuildResult{Err: b.err}
	}

	var created []nodepath.Path
	for _, d := range b.descs {
		path, err := b.parentPath.Join(d.name)
		if err != nil {
			return BuildResult{Created: created, Err: fmt.Errorf("node: %w", err)}
		}

		n, isNew, err := b.tree.insert(path, d.profile)
		if err != nil {
			return BuildResult{Created: created, Err: err}
		}
		if !isNew {
			continue
		}

		n.mu.Lock()
		applyDesc(n, d)
		n.mu.Unlock()
		created = append(created, path)

		if b.tree.registry != nil {
			b.tree.registry.Notify(n, false)
		}
	}

	return BuildResult{Created: created}
}

func applyDesc(n *Node, d *nodeDesc) {
	n.serial = d.serial
	if d.hasDisplay {
		n.displayName = d.displayName
		n.hasDisplay = true
	}
	n.valueType = d.valueType
	n.enumValues = d.enumValues
	n.permission = d.permission
	n.writable = d.writable
	n.writableCallback = d.writableCB
	n.onSubscribe = d.onSubscribe
	n.onEvent = d.onEvent
	if d.hasValue {
		n.val = d.val
		n.timestamp = d.timestamp
	}
	n.hidden = d.hidden
	if d.hasEditor {
		n.editorName = d.editorName
		n.hasEditor = true
	}
	n.action = d.action
	for _, k := range d.configKeys {
		n.setConfig(k, d.configs[k])
	}
	for _, k := range d.attrKeys {
		n.setAttribute(k, d.attributes[k])
	}
}
