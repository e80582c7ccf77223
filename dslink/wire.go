package dslink

import (
	"errors"
	"time"

	"github.com/efmgo/dslink/action"
	"github.com/efmgo/dslink/internal/transport"
	"github.com/efmgo/dslink/linkerr"
	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/requester"
	"github.com/efmgo/dslink/subscription"
	"github.com/efmgo/dslink/value"
)

// timeLayout is used wherever a timestamp needs to cross the wire
// inside a Value payload. Value has no native time kind (spec.md §3
// lists time as a node value_type, not a Value variant distinct from
// string), so timestamps travel as RFC3339Nano strings.
const timeLayout = time.RFC3339Nano

func mustGetPath(v value.Value) (nodepath.Path, error) {
	pv, ok := v.Get("path")
	if !ok {
		return nodepath.Path{}, errors.New("dslink: payload missing path")
	}
	s, ok := pv.AsString()
	if !ok {
		return nodepath.Path{}, errors.New("dslink: payload path is not a string")
	}
	return nodepath.Parse(s)
}

func getErrorText(v value.Value) string {
	ev, ok := v.Get("error")
	if !ok {
		return ""
	}
	s, _ := ev.AsString()
	return s
}

func putErrorIfAny(v value.Value, err error) {
	if err != nil {
		v.Put("error", value.NewString(err.Error()))
	}
}

// encodeNodeMeta renders a node's visible attributes (and current value,
// if it has one) as a Value map, for list responses.
func encodeNodeMeta(n *node.Node) value.Value {
	m := value.NewMap()
	m.Put("profile", value.NewString(n.Profile()))
	if dn, ok := n.DisplayName(); ok {
		m.Put("display_name", value.NewString(dn))
	}
	m.Put("value_type", value.NewInt(int64(n.ValueType())))
	if enums := n.EnumValues(); enums != "" {
		m.Put("enum_values", value.NewString(enums))
	}
	m.Put("permission", value.NewInt(int64(n.Permission())))
	m.Put("writable", value.NewInt(int64(n.Writable())))
	m.Put("hidden", value.NewBool(n.Hidden()))
	if editor, ok := n.Editor(); ok {
		m.Put("editor", value.NewString(editor))
	}
	if n.ValueType() != node.TypeNone {
		v, ts := n.Value()
		m.Put("value", v)
		if !ts.IsZero() {
			m.Put("timestamp", value.NewString(ts.Format(timeLayout)))
		}
	}
	if n.Action() != nil {
		m.Put("invokable", value.NewBool(true))
	}
	for _, k := range n.Configs() {
		if cv, ok := n.Config(k); ok {
			m.Put(k, cv)
		}
	}
	for _, k := range n.Attributes() {
		if av, ok := n.Attribute(k); ok {
			m.Put(k, av)
		}
	}
	return m
}

// encodeListResponse builds a list-response payload for path: a
// children array of {name, value} entries, one per direct child.
func encodeListResponse(tree *node.Tree, path nodepath.Path) (value.Value, error) {
	n, ok := tree.Get(path)
	if !ok {
		return value.Value{}, errNotFound(path)
	}
	payload := value.NewMap()
	payload.Put("path", value.NewString(path.String()))

	names := n.Children()
	children := make([]value.Value, 0, len(names))
	for _, name := range names {
		childPath, err := path.Join(name)
		if err != nil {
			continue
		}
		child, ok := tree.Get(childPath)
		if !ok {
			continue
		}
		entry := value.NewMap()
		entry.Put("name", value.NewString(name))
		entry.Put("value", encodeNodeMeta(child))
		children = append(children, entry)
	}
	payload.Put("children", value.NewArray(children))
	return payload, nil
}

func decodeListResponse(v value.Value) (requester.ListResponse, error) {
	path, err := mustGetPath(v)
	if err != nil {
		return requester.ListResponse{}, err
	}
	resp := requester.ListResponse{Path: path}
	childrenV, ok := v.Get("children")
	if !ok {
		return resp, nil
	}
	arr, _ := childrenV.AsArray()
	resp.Children = make([]requester.ListEntry, 0, len(arr))
	for _, item := range arr {
		nameV, _ := item.Get("name")
		name, _ := nameV.AsString()
		valV, _ := item.Get("value")
		resp.Children = append(resp.Children, requester.ListEntry{Name: name, Value: valV})
	}
	return resp, nil
}

func encodeSubscriptionUpdate(u subscription.Update) value.Value {
	payload := value.NewMap()
	payload.Put("path", value.NewString(u.Path.String()))
	payload.Put("value", u.Value)
	if !u.Timestamp.IsZero() {
		payload.Put("timestamp", value.NewString(u.Timestamp.Format(timeLayout)))
	}
	payload.Put("status", value.NewString(string(u.Status)))
	payload.Put("seq", value.NewInt(u.Seq))
	return payload
}

func decodeSubscriptionUpdate(v value.Value) (nodepath.Path, subscription.Update, error) {
	path, err := mustGetPath(v)
	if err != nil {
		return nodepath.Path{}, subscription.Update{}, err
	}
	val, _ := v.Get("value")
	u := subscription.Update{Path: path, Value: val, Status: subscription.StatusOK}
	if tsV, ok := v.Get("timestamp"); ok {
		if s, ok := tsV.AsString(); ok {
			if ts, err := time.Parse(timeLayout, s); err == nil {
				u.Timestamp = ts
			}
		}
	}
	if stV, ok := v.Get("status"); ok {
		if s, ok := stV.AsString(); ok {
			u.Status = subscription.Status(s)
		}
	}
	if seqV, ok := v.Get("seq"); ok {
		if n, ok := seqV.AsInt(); ok {
			u.Seq = n
		}
	}
	return path, u, nil
}

func decodeInvokeRequest(v value.Value) (nodepath.Path, map[string]value.Value, error) {
	path, err := mustGetPath(v)
	if err != nil {
		return nodepath.Path{}, nil, err
	}
	params := make(map[string]value.Value)
	if pv, ok := v.Get("params"); ok && pv.Kind() == value.KindMap {
		for _, k := range pv.Keys() {
			if kv, ok := pv.Get(k); ok {
				params[k] = kv
			}
		}
	}
	return path, params, nil
}

func encodeInvokeResponse(path nodepath.Path, rows [][]value.Value, mode action.StreamingMode, modifier action.TableModifier, closed bool, sendErr error) value.Value {
	payload := value.NewMap()
	payload.Put("path", value.NewString(path.String()))
	payload.Put("rows", encodeRows(rows))
	payload.Put("mode", value.NewInt(int64(mode)))
	payload.Put("modifier_kind", value.NewInt(int64(modifier.Kind)))
	payload.Put("modifier_start", value.NewUint(modifier.Start))
	payload.Put("modifier_end", value.NewUint(modifier.End))
	payload.Put("closed", value.NewBool(closed))
	putErrorIfAny(payload, sendErr)
	return payload
}

func decodeInvokeResponse(v value.Value) (requester.InvokeResponse, error) {
	path, err := mustGetPath(v)
	if err != nil {
		return requester.InvokeResponse{}, err
	}
	resp := requester.InvokeResponse{Path: path}
	if rowsV, ok := v.Get("rows"); ok {
		resp.Rows = decodeRows(rowsV)
	}
	if closedV, ok := v.Get("closed"); ok {
		resp.Closed, _ = closedV.AsBool()
	}
	if text := getErrorText(v); text != "" {
		return resp, errors.New(text)
	}
	return resp, nil
}

func encodeRows(rows [][]value.Value) value.Value {
	arr := make([]value.Value, len(rows))
	for i, r := range rows {
		arr[i] = value.NewArray(r)
	}
	return value.NewArray(arr)
}

func decodeRows(v value.Value) [][]value.Value {
	arr, _ := v.AsArray()
	out := make([][]value.Value, len(arr))
	for i, rowV := range arr {
		rowArr, _ := rowV.AsArray()
		out[i] = rowArr
	}
	return out
}

func encodeAck(err error) value.Value {
	payload := value.NewMap()
	putErrorIfAny(payload, err)
	return payload
}

func decodeAck(v value.Value) error {
	if text := getErrorText(v); text != "" {
		return errors.New(text)
	}
	return nil
}

// encodeOutgoingRequest translates a requester.OutgoingRequest into a
// wire Frame. Unsubscribe has no dedicated requester.Kind — Table
// dispatches it as KindSubscribe with Paths set rather than Path — so
// this is where that reuse gets bridged back onto transport's distinct
// KindUnsubscribe, without requester itself needing to know about it.
func encodeOutgoingRequest(req requester.OutgoingRequest) transport.Frame {
	if req.Kind == requester.KindSubscribe && len(req.Paths) > 0 {
		payload := value.NewMap()
		paths := make([]value.Value, len(req.Paths))
		for i, p := range req.Paths {
			paths[i] = value.NewString(p.String())
		}
		payload.Put("paths", value.NewArray(paths))
		return transport.Frame{RequestID: req.ID, Kind: transport.KindUnsubscribe, Payload: payload}
	}

	payload := value.NewMap()
	if !req.Path.IsZero() {
		payload.Put("path", value.NewString(req.Path.String()))
	}

	var kind transport.Kind
	switch req.Kind {
	case requester.KindList:
		kind = transport.KindList
	case requester.KindSubscribe:
		kind = transport.KindSubscribe
		payload.Put("qos", value.NewInt(int64(req.QoS)))
	case requester.KindInvoke:
		kind = transport.KindInvoke
		if req.Params != nil {
			params := value.NewMap()
			for k, v := range req.Params {
				params.Put(k, v)
			}
			payload.Put("params", params)
		}
		payload.Put("permission", value.NewInt(int64(req.Permission)))
	case requester.KindSet:
		kind = transport.KindSet
		payload.Put("value", req.Value)
		payload.Put("permission", value.NewInt(int64(req.Permission)))
	case requester.KindRemove:
		kind = transport.KindRemove
	case requester.KindClose:
		kind = transport.KindClose
	}

	return transport.Frame{RequestID: req.ID, Kind: kind, Payload: payload}
}

// errNotFound builds the same wrapped linkerr.PathNotFound used
// throughout the node package, so responder-side errors look identical
// regardless of whether they originated locally or from a peer request.
func errNotFound(path nodepath.Path) error {
	return linkerr.Wrap(linkerr.PathNotFound, path.String())
}
