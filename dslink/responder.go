package dslink

import (
	"strings"
	"time"

	"github.com/efmgo/dslink/action"
	"github.com/efmgo/dslink/internal/transport"
	"github.com/efmgo/dslink/linkerr"
	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/subscription"
	"github.com/efmgo/dslink/value"
)

// handleFrame routes one inbound frame: response kinds demux onto this
// link's own outstanding requester entries, request kinds dispatch to
// the responder's node tree / subscription engine / action engine.
// Called from the transport.Session's OnFrame hook, so it always runs
// on the session's reader goroutine. Request frames are handed to the
// scheduler as tasks; response frames are demuxed onto the requester
// table inline, on the reader goroutine, not through the scheduler.
func (l *Link) handleFrame(f transport.Frame) {
	switch f.Kind {
	case transport.KindListResponse,
		transport.KindSubscriptionUpdate,
		transport.KindInvokeResponse,
		transport.KindSetAck,
		transport.KindRemoveAck,
		transport.KindCloseAck:
		l.handleResponseFrame(f)
	case transport.KindList,
		transport.KindSubscribe,
		transport.KindUnsubscribe,
		transport.KindInvoke,
		transport.KindSet,
		transport.KindRemove,
		transport.KindClose:
		l.handleRequestFrame(f)
	default:
		l.logger.Warn("dropping frame of unrecognized kind", "kind", f.Kind)
	}
}

// handleResponseFrame demuxes a response frame onto this link's own
// requester.Table. A link built without RoleRequester never issued the
// matching request, so there is nothing to demux onto; the frame is
// simply dropped.
func (l *Link) handleResponseFrame(f transport.Frame) {
	if l.reqTable == nil {
		return
	}
	switch f.Kind {
	case transport.KindListResponse:
		resp, err := decodeListResponse(f.Payload)
		l.reqTable.HandleListResponse(f.RequestID, resp, err)
	case transport.KindSubscriptionUpdate:
		path, update, err := decodeSubscriptionUpdate(f.Payload)
		if err != nil {
			l.logger.Warn("malformed subscription-update frame", "error", err)
			return
		}
		l.resolvePendingSubscribeAck(path)
		l.reqTable.HandleSubscriptionUpdate(path, update, nil)
	case transport.KindInvokeResponse:
		resp, err := decodeInvokeResponse(f.Payload)
		l.reqTable.HandleInvokeResponse(f.RequestID, resp, err)
	case transport.KindSetAck:
		l.reqTable.HandleSetAck(f.RequestID, decodeAck(f.Payload))
	case transport.KindRemoveAck:
		l.reqTable.HandleRemoveAck(f.RequestID, decodeAck(f.Payload))
	case transport.KindCloseAck:
		l.reqTable.HandleCloseAck(f.RequestID, decodeAck(f.Payload))
	}
}

// resolvePendingSubscribeAck fires the requester table's one-shot
// subscribe acknowledgement the first time an update arrives for a
// path whose subscribe request is still pending one, then forgets it.
func (l *Link) resolvePendingSubscribeAck(path nodepath.Path) {
	l.mu.Lock()
	id, pending := l.pendingSubscribeAck[path.String()]
	if pending {
		delete(l.pendingSubscribeAck, path.String())
	}
	l.mu.Unlock()
	if pending {
		l.reqTable.HandleSubscribeAck(id, nil)
	}
}

// handleRequestFrame dispatches an inbound request frame to the
// responder's components. A link built without RoleResponder has no
// tree to serve requests against; the frame is dropped.
func (l *Link) handleRequestFrame(f transport.Frame) {
	if l.tree == nil {
		return
	}
	switch f.Kind {
	case transport.KindList:
		l.sched.Submit(func() { l.respondList(f) })
	case transport.KindSubscribe:
		l.sched.Submit(func() { l.respondSubscribe(f) })
	case transport.KindUnsubscribe:
		l.sched.Submit(func() { l.respondUnsubscribe(f) })
	case transport.KindInvoke:
		l.sched.Submit(func() { l.respondInvoke(f) })
	case transport.KindSet:
		l.sched.Submit(func() { l.respondSet(f) })
	case transport.KindRemove:
		l.sched.Submit(func() { l.respondRemove(f) })
	case transport.KindClose:
		l.sched.Submit(func() { l.respondClose(f) })
	}
}

func (l *Link) send(f transport.Frame) {
	if l.session == nil {
		return
	}
	if err := l.session.Send(f); err != nil {
		l.logger.Warn("send failed", "kind", f.Kind, "error", err)
	}
}

func (l *Link) respondList(f transport.Frame) {
	path, err := mustGetPath(f.Payload)
	if err != nil {
		l.logger.Warn("malformed list request", "error", err)
		return
	}
	payload, err := encodeListResponse(l.tree, path)
	if err != nil {
		l.logger.Warn("list failed", "path", path.String(), "error", err)
		return
	}
	if n, ok := l.tree.Get(path); ok {
		n.FireEvent(node.EventListOpen)
	}
	l.send(transport.Frame{RequestID: f.RequestID, Kind: transport.KindListResponse, Payload: payload})
}

func (l *Link) respondSubscribe(f transport.Frame) {
	path, err := mustGetPath(f.Payload)
	if err != nil {
		l.logger.Warn("malformed subscribe request", "error", err)
		return
	}
	qos := qosFromPayload(f.Payload)

	if _, err := l.subs.Subscribe(brokerSubscriberID, path, qos); err != nil {
		l.logger.Warn("subscribe failed", "path", path.String(), "error", err)
		return
	}
	// No dedicated subscribe-ack frame kind exists in spec.md §6; the
	// engine's queue is primed with the current value below, and the
	// subscription pump's first delivery doubles as the peer's
	// acknowledgement that the subscription is live.
	if n, ok := l.tree.Get(path); ok {
		v, ts := n.Value()
		if n.ValueType() != node.TypeNone {
			l.subs.NotifyValueChanged(path, v, ts, subscription.StatusOK)
		}
	}
}

func (l *Link) respondUnsubscribe(f transport.Frame) {
	paths := pathsFromPayload(f.Payload)
	for _, p := range paths {
		if err := l.subs.Unsubscribe(brokerSubscriberID, p); err != nil {
			l.logger.Warn("unsubscribe failed", "path", p.String(), "error", err)
		}
	}
}

func (l *Link) respondInvoke(f transport.Frame) {
	path, params, err := decodeInvokeRequest(f.Payload)
	if err != nil {
		l.logger.Warn("malformed invoke request", "error", err)
		return
	}
	n, ok := l.tree.Get(path)
	if !ok {
		l.send(transport.Frame{RequestID: f.RequestID, Kind: transport.KindInvokeResponse,
			Payload: encodeInvokeResponse(path, nil, action.ModeRefresh, action.TableModifier{}, true, errNotFound(path))})
		return
	}

	requestID := f.RequestID
	send := func(p nodepath.Path, rows [][]value.Value, mode action.StreamingMode, modifier action.TableModifier) error {
		l.send(transport.Frame{RequestID: requestID, Kind: transport.KindInvokeResponse,
			Payload: encodeInvokeResponse(p, rows, mode, modifier, false, nil)})
		return nil
	}
	closeHandler := func(p nodepath.Path, err error) {
		l.mu.Lock()
		delete(l.invokeStreams, requestID)
		l.mu.Unlock()
		l.send(transport.Frame{RequestID: requestID, Kind: transport.KindInvokeResponse,
			Payload: encodeInvokeResponse(p, nil, action.ModeRefresh, action.TableModifier{}, true, err)})
	}

	stream, invokeErr := l.action.Invoke(n, path, params, send, closeHandler)
	if invokeErr != nil {
		l.logger.Warn("invoke dispatch failed", "path", path.String(), "error", invokeErr)
		return
	}
	l.mu.Lock()
	if !stream.IsClosed() {
		l.invokeStreams[requestID] = stream
	}
	l.mu.Unlock()
}

func (l *Link) respondSet(f transport.Frame) {
	path, err := mustGetPath(f.Payload)
	if err != nil {
		l.logger.Warn("malformed set request", "error", err)
		l.send(transport.Frame{RequestID: f.RequestID, Kind: transport.KindSetAck, Payload: encodeAck(err)})
		return
	}
	v, _ := f.Payload.Get("value")

	setErr := l.applySet(path, v)
	l.send(transport.Frame{RequestID: f.RequestID, Kind: transport.KindSetAck, Payload: encodeAck(setErr)})
}

// applySet routes a set request by path addressing: a final segment
// prefixed "$" targets a config on the parent node, "@" targets an
// attribute, anything else targets the node's value directly — the
// addressing convention spec.md §3 describes for configs/attributes.
func (l *Link) applySet(path nodepath.Path, v value.Value) error {
	name := path.Name()
	switch {
	case strings.HasPrefix(name, "$"):
		if _, ok := l.tree.Get(path.Parent()); !ok {
			return errNotFound(path.Parent())
		}
		return node.NewUpdater(l.tree, path.Parent()).AddConfig(name, v).Commit()
	case strings.HasPrefix(name, "@"):
		if _, ok := l.tree.Get(path.Parent()); !ok {
			return errNotFound(path.Parent())
		}
		return node.NewUpdater(l.tree, path.Parent()).AddAttribute(name, v).Commit()
	default:
		n, ok := l.tree.Get(path)
		if !ok {
			return errNotFound(path)
		}
		if n.Writable() == node.WritableNever {
			return linkerr.Wrap(linkerr.NodeIsNotWritable, path.String())
		}
		if err := l.tree.SetValue(path, v, time.Now()); err != nil {
			return err
		}
		if cb := n.WritableCallback(); cb != nil {
			cb(v)
		}
		return nil
	}
}

func (l *Link) respondRemove(f transport.Frame) {
	path, err := mustGetPath(f.Payload)
	if err != nil {
		l.logger.Warn("malformed remove request", "error", err)
		l.send(transport.Frame{RequestID: f.RequestID, Kind: transport.KindRemoveAck, Payload: encodeAck(err)})
		return
	}
	removeErr := l.applyRemove(path)
	l.send(transport.Frame{RequestID: f.RequestID, Kind: transport.KindRemoveAck, Payload: encodeAck(removeErr)})
}

func (l *Link) applyRemove(path nodepath.Path) error {
	name := path.Name()
	switch {
	case strings.HasPrefix(name, "$"):
		return node.NewUpdater(l.tree, path.Parent()).RemoveConfig(name).Commit()
	case strings.HasPrefix(name, "@"):
		return node.NewUpdater(l.tree, path.Parent()).RemoveAttribute(name).Commit()
	default:
		if _, ok := l.tree.Get(path); !ok {
			return errNotFound(path)
		}
		l.tree.Remove(path)
		return nil
	}
}

func (l *Link) respondClose(f transport.Frame) {
	l.mu.Lock()
	stream, ok := l.invokeStreams[f.RequestID]
	delete(l.invokeStreams, f.RequestID)
	l.mu.Unlock()
	if ok {
		stream.Close()
	}
	l.send(transport.Frame{RequestID: f.RequestID, Kind: transport.KindCloseAck, Payload: encodeAck(nil)})
}

func qosFromPayload(v value.Value) subscription.QoS {
	qv, ok := v.Get("qos")
	if !ok {
		return 0
	}
	n, _ := qv.AsInt()
	return subscription.QoS(n)
}

func pathsFromPayload(v value.Value) []nodepath.Path {
	pv, ok := v.Get("paths")
	if !ok {
		return nil
	}
	arr, _ := pv.AsArray()
	out := make([]nodepath.Path, 0, len(arr))
	for _, item := range arr {
		s, ok := item.AsString()
		if !ok {
			continue
		}
		p, err := nodepath.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// brokerSubscriberID is the single subscription.Engine subscriber
// identity this link ever uses: a responder has exactly one upstream
// connection (the broker), which itself fans a path out to however
// many remote requesters actually want it.
const brokerSubscriberID = "broker"
