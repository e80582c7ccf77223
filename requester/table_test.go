package requester

import (
	"errors"
	"testing"

	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/subscription"
	"github.com/efmgo/dslink/value"
)

func TestListCoalescesDuplicateRequests(t *testing.T) {
	var sent []OutgoingRequest
	table := NewTable(func(req OutgoingRequest) error {
		sent = append(sent, req)
		return nil
	})

	path := nodepath.MustParse("/a")
	id1, err := table.List(path, func(resp ListResponse, err error) {})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	id2, err := table.List(path, func(resp ListResponse, err error) {})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if id1 != id2 {
		t.Errorf("ids = %d, %d, want equal (coalesced)", id1, id2)
	}
	if len(sent) != 1 {
		t.Errorf("dispatched %d requests, want 1 (second List coalesces)", len(sent))
	}
}

func TestListCallbackFiresRepeatedly(t *testing.T) {
	table := NewTable(nil)
	path := nodepath.MustParse("/a")

	var calls int
	id, _ := table.List(path, func(resp ListResponse, err error) { calls++ })

	table.HandleListResponse(id, ListResponse{Path: path}, nil)
	table.HandleListResponse(id, ListResponse{Path: path}, nil)
	if calls != 2 {
		t.Errorf("list callback fired %d times, want 2", calls)
	}
}

func TestSubscribeResubscribeReplacesCallbackRetainsID(t *testing.T) {
	table := NewTable(nil)
	path := nodepath.MustParse("/s")

	var firstCalls, secondCalls int
	id1, _ := table.Subscribe(path, subscription.QoSVolatile,
		func(p nodepath.Path, u subscription.Update, err error) { firstCalls++ },
		func(err error) {})

	id2, _ := table.Subscribe(path, subscription.QoSVolatile,
		func(p nodepath.Path, u subscription.Update, err error) { secondCalls++ },
		func(err error) { t.Error("ack callback should not refire on re-subscribe") })

	if id1 != id2 {
		t.Fatalf("re-subscribe ids = %d, %d, want equal", id1, id2)
	}

	table.HandleSubscriptionUpdate(path, subscription.Update{}, nil)
	if firstCalls != 0 || secondCalls != 1 {
		t.Errorf("firstCalls=%d secondCalls=%d, want 0, 1 (old callback dropped)", firstCalls, secondCalls)
	}

	// The one-shot ack already fired implicitly isn't re-triggered by
	// HandleSubscribeAck unless called again explicitly — simulate a
	// stray duplicate ack frame and confirm it's a no-op the second
	// time since ackCB was cleared on first delivery.
	table.HandleSubscribeAck(id1, nil)
	table.HandleSubscribeAck(id1, nil)
}

func TestSubscribeAckFiresOnlyOnce(t *testing.T) {
	table := NewTable(nil)
	path := nodepath.MustParse("/s")

	var acks int
	id, _ := table.Subscribe(path, subscription.QoSNone,
		func(p nodepath.Path, u subscription.Update, err error) {},
		func(err error) { acks++ })

	table.HandleSubscribeAck(id, nil)
	table.HandleSubscribeAck(id, nil)
	if acks != 1 {
		t.Errorf("ack fired %d times, want 1", acks)
	}
}

func TestUnsubscribeRemovesEntryAndAllowsResubscribe(t *testing.T) {
	table := NewTable(nil)
	path := nodepath.MustParse("/s")

	id1, _ := table.Subscribe(path, subscription.QoSNone,
		func(p nodepath.Path, u subscription.Update, err error) {}, nil)

	var unsubErr error
	gotCB := false
	table.Unsubscribe([]nodepath.Path{path}, func(err error) { gotCB = true; unsubErr = err })
	if !gotCB || unsubErr != nil {
		t.Fatalf("unsubscribe callback = %v, %v", gotCB, unsubErr)
	}

	id2, _ := table.Subscribe(path, subscription.QoSNone,
		func(p nodepath.Path, u subscription.Update, err error) {}, nil)
	if id2 == id1 {
		t.Error("after unsubscribe, a fresh subscribe should get a new id, not reuse the torn-down entry")
	}
}

func TestInvokeFiresUntilClosedThenForgetsEntry(t *testing.T) {
	table := NewTable(nil)
	path := nodepath.MustParse("/run")

	var calls int
	id, _ := table.Invoke(path, map[string]value.Value{"x": value.NewInt(1)}, node.PermissionWrite,
		func(resp InvokeResponse, err error) { calls++ })

	table.HandleInvokeResponse(id, InvokeResponse{Path: path, Rows: [][]value.Value{{value.NewInt(1)}}}, nil)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if table.Pending() != 1 {
		t.Fatalf("pending = %d, want 1 (still open)", table.Pending())
	}

	table.HandleInvokeResponse(id, InvokeResponse{Path: path, Closed: true}, nil)
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if table.Pending() != 0 {
		t.Errorf("pending = %d, want 0 (entry forgotten after close)", table.Pending())
	}

	// A stray late response for the now-forgotten id must be a no-op,
	// not a panic or a third callback invocation.
	table.HandleInvokeResponse(id, InvokeResponse{Path: path}, nil)
	if calls != 2 {
		t.Errorf("calls after stray post-close response = %d, want 2", calls)
	}
}

func TestSetAndRemoveAreOneShot(t *testing.T) {
	table := NewTable(nil)
	path := nodepath.MustParse("/v")

	var setCalls, removeCalls int
	setID, _ := table.Set(path, value.NewInt(1), node.PermissionWrite, func(err error) { setCalls++ })
	removeID, _ := table.Remove(path, func(err error) { removeCalls++ })

	table.HandleSetAck(setID, nil)
	table.HandleSetAck(setID, nil) // stray duplicate, must not refire
	table.HandleRemoveAck(removeID, errors.New("denied"))

	if setCalls != 1 {
		t.Errorf("set callback fired %d times, want 1", setCalls)
	}
	if removeCalls != 1 {
		t.Errorf("remove callback fired %d times, want 1", removeCalls)
	}
	if table.Pending() != 0 {
		t.Errorf("pending = %d, want 0", table.Pending())
	}
}

func TestCloseStreamWaitsForAck(t *testing.T) {
	table := NewTable(nil)
	path := nodepath.MustParse("/a")

	id, _ := table.List(path, func(resp ListResponse, err error) {})

	var closed bool
	if err := table.CloseStream(id, func(err error) { closed = true }); err != nil {
		t.Fatalf("CloseStream: %v", err)
	}
	if closed {
		t.Fatal("close callback should not fire before the ack arrives")
	}

	table.HandleCloseAck(id, nil)
	if !closed {
		t.Fatal("close callback should fire once HandleCloseAck arrives")
	}
	if table.Pending() != 0 {
		t.Errorf("pending = %d, want 0", table.Pending())
	}
}

func TestCloseStreamFreesPathForNewList(t *testing.T) {
	table := NewTable(nil)
	path := nodepath.MustParse("/a")

	id1, _ := table.List(path, func(resp ListResponse, err error) {})
	table.CloseStream(id1, nil)
	table.HandleCloseAck(id1, nil)

	id2, _ := table.List(path, func(resp ListResponse, err error) {})
	if id2 == id1 {
		t.Error("List after CloseStream should open a fresh entry, not coalesce onto the closed one")
	}
}
