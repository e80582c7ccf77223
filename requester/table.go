// Package requester implements the requester-side stream table: the
// mapping from a monotonically-allocated request id to the bookkeeping
// (kind, target path(s), callback, status) an outgoing list, subscribe,
// invoke, set, remove, or close operation needs, and the demux of
// inbound response frames back onto that bookkeeping.
package requester

import (
	"sync"

	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/subscription"
	"github.com/efmgo/dslink/value"
)

// Kind identifies the operation a stream-table entry was opened for.
type Kind int

const (
	KindList Kind = iota
	KindSubscribe
	KindInvoke
	KindSet
	KindRemove
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindSubscribe:
		return "subscribe"
	case KindInvoke:
		return "invoke"
	case KindSet:
		return "set"
	case KindRemove:
		return "remove"
	default:
		return "close"
	}
}

// Status mirrors the per-entry lifecycle named in spec.md §4.6.
type Status int

const (
	StatusInitialize Status = iota
	StatusOpen
	StatusClosed
)

// ListResponse carries one list update for the subtree rooted at Path.
type ListResponse struct {
	Path     nodepath.Path
	Children []ListEntry
}

// ListEntry is one child description in a ListResponse.
type ListEntry struct {
	Name  string
	Value value.Value
}

// InvokeResponse carries one batch of action result rows. Closed
// reports whether this was the invocation's final response.
type InvokeResponse struct {
	Path   nodepath.Path
	Rows   [][]value.Value
	Closed bool
}

// Callback signatures for each stream kind, named per spec.md §4.6.
type (
	ListCallback         func(resp ListResponse, err error)
	SubscribeAckCallback func(err error)
	UpdateCallback       func(path nodepath.Path, update subscription.Update, err error)
	InvokeCallback       func(resp InvokeResponse, err error)
	AckCallback          func(err error)
)

// OutgoingRequest is the envelope a Table hands to its Send hook for
// every operation it opens; it carries everything the (out-of-scope)
// wire codec needs to frame the request, keyed by the id the table
// will use to demux the matching response.
type OutgoingRequest struct {
	ID         int64
	Kind       Kind
	Path       nodepath.Path
	Paths      []nodepath.Path
	QoS        subscription.QoS
	Params     map[string]value.Value
	Value      value.Value
	Permission node.Permission
}

// SendFunc actually puts an OutgoingRequest on the wire. Framing and
// transport belong to the link's transport layer, not here.
type SendFunc func(req OutgoingRequest) error

type entry struct {
	id     int64
	kind   Kind
	path   nodepath.Path
	paths  []nodepath.Path
	status Status

	listCB   ListCallback
	ackCB    SubscribeAckCallback
	updateCB UpdateCallback
	invokeCB InvokeCallback
	oneShot  AckCallback
}

// Table is the requester's stream table: one per requester role
// instance, shared by every outgoing operation it issues.
type Table struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*entry

	// at-most-one policy (spec.md §4.6) for subscribe/list, keyed by path.
	subscribeByPath map[string]*entry
	listByPath      map[string]*entry

	send SendFunc
}

// NewTable returns an empty Table that dispatches outgoing requests via
// send. send may be nil for tests that only exercise bookkeeping.
func NewTable(send SendFunc) *Table {
	return &Table{
		byID:            make(map[int64]*entry),
		subscribeByPath: make(map[string]*entry),
		listByPath:      make(map[string]*entry),
		send:            send,
	}
}

func (t *Table) allocID() int64 {
	t.nextID++
	return t.nextID
}

func (t *Table) dispatch(req OutgoingRequest) error {
	if t.send == nil {
		return nil
	}
	return t.send(req)
}

// List opens (or, per the at-most-one policy, reuses) a list stream for
// path. A concurrent duplicate list request coalesces onto the existing
// entry, replacing its callback.
func (t *Table) List(path nodepath.Path, cb ListCallback) (int64, error) {
	t.mu.Lock()
	key := path.String()
	if e, ok := t.listByPath[key]; ok {
		e.listCB = cb
		t.mu.Unlock()
		return e.id, nil
	}
	id := t.allocID()
	e := &entry{id: id, kind: KindList, path: path, status: StatusOpen, listCB: cb}
	t.byID[id] = e
	t.listByPath[key] = e
	t.mu.Unlock()

	return id, t.dispatch(OutgoingRequest{ID: id, Kind: KindList, Path: path})
}

// Subscribe opens (or reuses) a subscription to path. Re-subscribing to
// an already-subscribed path keeps the existing subscription id and
// replaces only the update callback — the prior callback is simply
// never invoked again, which is how this table implements the
// documented choice to drop un-dispatched updates on callback
// replacement rather than queue them for the old callback. ackCB is
// only used the first time a path is subscribed; a re-subscribe does
// not re-fire the one-shot acknowledgement.
func (t *Table) Subscribe(path nodepath.Path, qos subscription.QoS, updateCB UpdateCallback, ackCB SubscribeAckCallback) (int64, error) {
	t.mu.Lock()
	key := path.String()
	if e, ok := t.subscribeByPath[key]; ok {
		e.updateCB = updateCB
		id := e.id
		t.mu.Unlock()
		return id, nil
	}
	id := t.allocID()
	e := &entry{id: id, kind: KindSubscribe, path: path, status: StatusInitialize, updateCB: updateCB, ackCB: ackCB}
	t.byID[id] = e
	t.subscribeByPath[key] = e
	t.mu.Unlock()

	return id, t.dispatch(OutgoingRequest{ID: id, Kind: KindSubscribe, Path: path, QoS: qos})
}

// Invoke opens an invocation stream. Unlike subscribe/list, concurrent
// invokes against the same path are independent streams.
func (t *Table) Invoke(path nodepath.Path, params map[string]value.Value, permission node.Permission, cb InvokeCallback) (int64, error) {
	id := t.allocID()
	t.mu.Lock()
	t.byID[id] = &entry{id: id, kind: KindInvoke, path: path, status: StatusOpen, invokeCB: cb}
	t.mu.Unlock()

	return id, t.dispatch(OutgoingRequest{ID: id, Kind: KindInvoke, Path: path, Params: params, Permission: permission})
}

// Set issues a one-shot value/attribute/config set against path.
func (t *Table) Set(path nodepath.Path, v value.Value, permission node.Permission, cb AckCallback) (int64, error) {
	id := t.allocID()
	t.mu.Lock()
	t.byID[id] = &entry{id: id, kind: KindSet, path: path, status: StatusOpen, oneShot: cb}
	t.mu.Unlock()

	return id, t.dispatch(OutgoingRequest{ID: id, Kind: KindSet, Path: path, Value: v, Permission: permission})
}

// Remove issues a one-shot attribute/config removal against path.
func (t *Table) Remove(path nodepath.Path, cb AckCallback) (int64, error) {
	id := t.allocID()
	t.mu.Lock()
	t.byID[id] = &entry{id: id, kind: KindRemove, path: path, status: StatusOpen, oneShot: cb}
	t.mu.Unlock()

	return id, t.dispatch(OutgoingRequest{ID: id, Kind: KindRemove, Path: path})
}

// Unsubscribe tears down the subscribe entries for paths, firing cb
// once all of them are removed locally (the peer is notified via the
// dispatched request, but the table doesn't wait on an ack to forget a
// subscription it no longer cares about).
func (t *Table) Unsubscribe(paths []nodepath.Path, cb AckCallback) (int64, error) {
	id := t.allocID()

	t.mu.Lock()
	for _, p := range paths {
		key := p.String()
		if e, ok := t.subscribeByPath[key]; ok {
			e.status = StatusClosed
			delete(t.subscribeByPath, key)
			delete(t.byID, e.id)
		}
	}
	t.mu.Unlock()

	err := t.dispatch(OutgoingRequest{ID: id, Kind: KindSubscribe, Paths: paths})
	if cb != nil {
		cb(err)
	}
	return id, err
}

// CloseStream requests closing the list or invoke stream identified by
// id: the entry is removed immediately from the at-most-one indexes (so
// a new List/Subscribe for the same path doesn't coalesce onto a
// stream that's going away) but stays registered under its id, now as
// a pending close, until HandleCloseAck fires cb and forgets it.
func (t *Table) CloseStream(id int64, cb AckCallback) error {
	t.mu.Lock()
	e, ok := t.byID[id]
	if !ok {
		t.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
		return nil
	}
	switch e.kind {
	case KindList:
		delete(t.listByPath, e.path.String())
	case KindSubscribe:
		delete(t.subscribeByPath, e.path.String())
	}
	e.status = StatusClosed
	e.kind = KindClose
	e.oneShot = cb
	t.mu.Unlock()

	err := t.dispatch(OutgoingRequest{ID: id, Kind: KindClose})
	if err != nil {
		t.handleOneShot(id, KindClose, err)
	}
	return err
}

// get returns the entry registered for id, for tests and diagnostics.
func (t *Table) get(id int64) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	return e, ok
}

// Pending reports how many entries are currently tracked.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}
