package requester

import (
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/subscription"
)

// HandleListResponse demuxes an inbound list-response frame to the
// entry id opened it. The stream stays open: list keeps firing its
// callback until the peer or CloseStream closes it.
func (t *Table) HandleListResponse(id int64, resp ListResponse, err error) {
	e, ok := t.get(id)
	if !ok || e.kind != KindList || e.listCB == nil {
		return
	}
	e.listCB(resp, err)
}

// HandleSubscriptionUpdate demuxes an inbound subscription-update frame
// by path rather than by id, since updates don't carry the original
// request id. Only the currently-registered update callback for path
// is invoked — a replaced callback (see Subscribe) never sees it.
func (t *Table) HandleSubscriptionUpdate(path nodepath.Path, update subscription.Update, err error) {
	t.mu.Lock()
	e, ok := t.subscribeByPath[path.String()]
	t.mu.Unlock()
	if !ok || e.updateCB == nil {
		return
	}
	e.updateCB(path, update, err)
}

// HandleSubscribeAck demuxes the one-shot subscription acknowledgement.
// It fires at most once per entry: a re-subscribe's replaced updateCB
// does not cause the ack to refire.
func (t *Table) HandleSubscribeAck(id int64, err error) {
	e, ok := t.get(id)
	if !ok || e.kind != KindSubscribe {
		return
	}
	t.mu.Lock()
	e.status = StatusOpen
	cb := e.ackCB
	e.ackCB = nil
	t.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// HandleInvokeResponse demuxes an inbound invoke-response frame. The
// entry is removed once resp.Closed is set, matching "callback fires on
// every InvokeResponse until the invocation is closed."
func (t *Table) HandleInvokeResponse(id int64, resp InvokeResponse, err error) {
	e, ok := t.get(id)
	if !ok || e.kind != KindInvoke {
		return
	}
	if e.invokeCB != nil {
		e.invokeCB(resp, err)
	}
	if resp.Closed || err != nil {
		t.mu.Lock()
		delete(t.byID, id)
		t.mu.Unlock()
	}
}

// HandleSetAck demuxes a one-shot set-ack frame.
func (t *Table) HandleSetAck(id int64, err error) { t.handleOneShot(id, KindSet, err) }

// HandleRemoveAck demuxes a one-shot remove-ack frame.
func (t *Table) HandleRemoveAck(id int64, err error) { t.handleOneShot(id, KindRemove, err) }

// HandleCloseAck demuxes a one-shot close-ack frame.
func (t *Table) HandleCloseAck(id int64, err error) { t.handleOneShot(id, KindClose, err) }

func (t *Table) handleOneShot(id int64, kind Kind, err error) {
	e, ok := t.get(id)
	if !ok || e.kind != kind {
		return
	}
	t.mu.Lock()
	delete(t.byID, id)
	t.mu.Unlock()
	if e.oneShot != nil {
		e.oneShot(err)
	}
}
