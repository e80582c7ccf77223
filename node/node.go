// Package node implements the responder's in-memory node tree: the
// Node type and its attributes, a path-keyed Tree with O(depth)
// lookup, and the Builder/Updater construction and mutation surface.
package node

import (
	"sync"
	"time"

	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

// ValueType is the declared type of a node's value.
type ValueType int

const (
	TypeNone ValueType = iota
	TypeNumber
	TypeInt
	TypeUint
	TypeString
	TypeBool
	TypeMap
	TypeArray
	TypeTime
	TypeEnum
	TypeBinary
	TypeDynamic
)

// Permission is the minimum link permission required to see or act on a
// node.
type Permission int

const (
	PermissionNone Permission = iota
	PermissionList
	PermissionRead
	PermissionWrite
	PermissionConfig
	PermissionNever
)

// Writable controls whether a remote peer may set the node's value.
type Writable int

const (
	WritableNever Writable = iota
	WritableWrite
	WritableConfig
)

// SerializationMode controls what a node contributes to a snapshot.
type SerializationMode int

const (
	SerializeNone SerializationMode = iota
	SerializeMetadataOnly
	SerializeEverything
)

// WriteCallback fires when a remote peer sets a node's value.
type WriteCallback func(v value.Value)

// SubscribeCallback fires with true on first subscribe and false on
// last unsubscribe.
type SubscribeCallback func(subscribed bool)

// EventKind distinguishes the occasions OnEvent fires for.
type EventKind int

const (
	EventValueChanged EventKind = iota
	EventMetadataChanged
	EventListOpen
	EventSubscribe
	EventUnsubscribe
)

// EventCallback fires on any of EventKind's occasions.
type EventCallback func(kind EventKind)

// Node is one vertex of the responder tree, identified by its absolute
// path. All fields are accessed under the node's own mutex; callers
// outside the node/subscription/serializer packages should treat a
// *Node as read-only and go through Tree/Builder/Updater to mutate it.
type Node struct {
	mu sync.RWMutex

	path    nodepath.Path
	profile string

	displayName string
	hasDisplay  bool

	valueType  ValueType
	enumValues string

	permission Permission
	writable   Writable

	val       value.Value
	timestamp time.Time

	hidden bool
	serial SerializationMode

	editorName string
	hasEditor  bool

	action *Action

	configs    map[string]value.Value
	configKeys []string
	attributes map[string]value.Value
	attrKeys   []string

	onSubscribe SubscribeCallback
	onEvent     EventCallback

	writableCallback WriteCallback

	children map[string]*Node
	parent   *Node
}

func newNode(path nodepath.Path, profile string) *Node {
	if profile == "" {
		profile = "node"
	}
	return &Node{
		path:       path,
		profile:    profile,
		valueType:  TypeNone,
		permission: PermissionRead,
		writable:   WritableNever,
		serial:     SerializeNone,
		configs:    make(map[string]value.Value),
		attributes: make(map[string]value.Value),
		children:   make(map[string]*Node),
	}
}

// Path returns the node's absolute path.
func (n *Node) Path() nodepath.Path {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.path
}

// Profile returns the node's profile string.
func (n *Node) Profile() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.profile
}

// DisplayName returns the node's display name and whether one was set.
func (n *Node) DisplayName() (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.displayName, n.hasDisplay
}

// ValueType returns the node's declared value type.
func (n *Node) ValueType() ValueType {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.valueType
}

// EnumValues returns the comma-separated enum/bool label list.
func (n *Node) EnumValues() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enumValues
}

// Permission returns the node's minimum required permission.
func (n *Node) Permission() Permission {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.permission
}

// Writable returns the node's writable mode.
func (n *Node) Writable() Writable {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.writable
}

// Value returns the node's current value and last-update timestamp.
func (n *Node) Value() (value.Value, time.Time) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.val, n.timestamp
}

// Hidden reports whether the node is hidden from GUI clients.
func (n *Node) Hidden() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.hidden
}

// Serialization returns the node's persistence mode.
func (n *Node) Serialization() SerializationMode {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.serial
}

// Editor returns the node's value editor name and whether one was set.
func (n *Node) Editor() (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.editorName, n.hasEditor
}

// Action returns the node's action definition, or nil if it has none.
func (n *Node) Action() *Action {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.action
}

// WritableCallback returns the node's on-write handler (fires when a
// remote peer sets the value), or nil if the node has none.
func (n *Node) WritableCallback() WriteCallback {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.writableCallback
}

// SubscribeHandler returns the node's on-subscribe handler (fires true
// on the path's first subscriber, false on its last unsubscribe), or
// nil if the node has none.
func (n *Node) SubscribeHandler() SubscribeCallback {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.onSubscribe
}

// FireEvent invokes the node's on-event handler, if one is registered.
// Callers outside this package use it to report value-changed,
// metadata-changed, list-open, subscribe, and unsubscribe occasions as
// they happen at the responder layer.
func (n *Node) FireEvent(kind EventKind) {
	n.mu.RLock()
	cb := n.onEvent
	n.mu.RUnlock()
	if cb != nil {
		cb(kind)
	}
}

// Config returns a custom config value by key.
func (n *Node) Config(key string) (value.Value, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.configs[key]
	return v, ok
}

// Configs returns all custom config keys in insertion order.
func (n *Node) Configs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.configKeys))
	copy(out, n.configKeys)
	return out
}

// Attribute returns a custom attribute value by key.
func (n *Node) Attribute(key string) (value.Value, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.attributes[key]
	return v, ok
}

// Attributes returns all custom attribute keys in insertion order.
func (n *Node) Attributes() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.attrKeys))
	copy(out, n.attrKeys)
	return out
}

// Children returns the node's direct child names, unordered.
func (n *Node) Children() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	return out
}

// Parent returns the node's parent, or nil for the root.
func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

func (n *Node) setConfig(key string, v value.Value) {
	if _, exists := n.configs[key]; !exists {
		n.configKeys = append(n.configKeys, key)
	}
	n.configs[key] = v
}

func (n *Node) removeConfig(key string) {
	if _, exists := n.configs[key]; !exists {
		return
	}
	delete(n.configs, key)
	for i, k := range n.configKeys {
		if k == key {
			n.configKeys = append(n.configKeys[:i], n.configKeys[i+1:]...)
			break
		}
	}
}

func (n *Node) setAttribute(key string, v value.Value) {
	if _, exists := n.attributes[key]; !exists {
		n.attrKeys = append(n.attrKeys, key)
	}
	n.attributes[key] = v
}

func (n *Node) removeAttribute(key string) {
	if _, exists := n.attributes[key]; !exists {
		return
	}
	delete(n.attributes, key)
	for i, k := range n.attrKeys {
		if k == key {
			n.attrKeys = append(n.attrKeys[:i], n.attrKeys[i+1:]...)
			break
		}
	}
}

// Action is a node's optional invocable action definition.
type Action struct {
	Permission     Permission
	Group          string
	GroupSubtitle  string
	Params         []Parameter
	ResultColumns  []Parameter
	ResultShape    ResultShape
	Invoke         ActionInvoke
}

// ResultShape is the shape of an action's results.
type ResultShape int

const (
	ResultValues ResultShape = iota
	ResultTable
	ResultStreaming
)

// Parameter describes one action parameter or result column.
type Parameter struct {
	Name        string
	Type        ValueType
	Default     value.Value
	HasDefault  bool
	EnumValues  string
	Placeholder string
	Description string
	Editor      string
}

// ResultStream is the minimal surface a node needs to dispatch an
// invocation without importing the action package (which needs to
// import node for Parameter/ValueType and would otherwise cycle). The
// action package's Stream type implements this.
type ResultStream interface {
	SetResult(rows [][]value.Value) bool
	Commit() bool
	Close()
}

// ActionInvoke is an action's invocation callback: invoked once per
// incoming request with the result stream, the path the action hangs
// off, the bound parameter values, and any dispatch error (e.g. a
// malformed parameter) the engine already detected.
type ActionInvoke func(stream ResultStream, parentPath nodepath.Path, params map[string]value.Value, err error)
