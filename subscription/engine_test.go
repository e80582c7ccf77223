package subscription

import (
	"testing"
	"time"

	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/redolog"
	"github.com/efmgo/dslink/value"
)

func newTestEngine(t *testing.T, onSubscribe OnSubscribeHandler) *Engine {
	t.Helper()
	return New(Options{
		RedoLogBaseDir: t.TempDir(),
		RedoLogConfig:  redolog.Config{},
		RingCapacity:   4,
		OnSubscribe:    onSubscribe,
	})
}

func TestEngineSubscribeFiresOnSubscribeBeforeFirstDelivery(t *testing.T) {
	var fired []bool
	e := newTestEngine(t, func(path nodepath.Path, subscribed bool) {
		fired = append(fired, subscribed)
	})

	path := nodepath.MustParse("/a/b")
	sub, err := e.Subscribe("r1", path, QoSVolatile)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(fired) != 1 || fired[0] != true {
		t.Fatalf("on_subscribe calls = %v, want [true]", fired)
	}

	// A value change notified right after Subscribe returns must still
	// reach the subscription: on_subscribe(true) firing before
	// registration must not cause the first update to be lost.
	e.NotifyValueChanged(path, value.NewInt(42), time.Now(), StatusOK)
	pending := sub.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
}

func TestEngineSecondSubscriberDoesNotRefireOnSubscribe(t *testing.T) {
	var fired []bool
	e := newTestEngine(t, func(path nodepath.Path, subscribed bool) {
		fired = append(fired, subscribed)
	})

	path := nodepath.MustParse("/a")
	if _, err := e.Subscribe("r1", path, QoSVolatile); err != nil {
		t.Fatalf("Subscribe r1: %v", err)
	}
	if _, err := e.Subscribe("r2", path, QoSVolatile); err != nil {
		t.Fatalf("Subscribe r2: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("on_subscribe fired %d times, want 1 (only first subscriber)", len(fired))
	}
}

func TestEngineUnsubscribeFiresOnlyOnLast(t *testing.T) {
	var fired []bool
	e := newTestEngine(t, func(path nodepath.Path, subscribed bool) {
		fired = append(fired, subscribed)
	})

	path := nodepath.MustParse("/a")
	e.Subscribe("r1", path, QoSVolatile)
	e.Subscribe("r2", path, QoSVolatile)

	if err := e.Unsubscribe("r1", path); err != nil {
		t.Fatalf("Unsubscribe r1: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("on_subscribe(false) fired after first unsubscribe, want only after last")
	}

	if err := e.Unsubscribe("r2", path); err != nil {
		t.Fatalf("Unsubscribe r2: %v", err)
	}
	if len(fired) != 2 || fired[1] != false {
		t.Fatalf("on_subscribe calls = %v, want [true false]", fired)
	}
}

func TestEngineSubscribeIsIdempotentPerSubscriberPath(t *testing.T) {
	e := newTestEngine(t, nil)
	path := nodepath.MustParse("/a")

	s1, err := e.Subscribe("r1", path, QoSVolatile)
	if err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	s2, err := e.Subscribe("r1", path, QoSVolatile)
	if err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	if s1 != s2 {
		t.Error("re-subscribing the same (subscriber, path) should return the existing subscription")
	}
}

func TestEngineNotifyValueChangedFansOutToAllSubscribers(t *testing.T) {
	e := newTestEngine(t, nil)
	path := nodepath.MustParse("/a")

	s1, _ := e.Subscribe("r1", path, QoSVolatile)
	s2, _ := e.Subscribe("r2", path, QoSVolatile)

	e.NotifyValueChanged(path, value.NewString("hi"), time.Now(), StatusOK)

	for _, s := range []*Subscription{s1, s2} {
		p := s.Pending()
		if len(p) != 1 {
			t.Fatalf("subscriber %s got %d updates, want 1", s.SubscriberID(), len(p))
		}
		if p[0].Path.String() != "/a" {
			t.Errorf("delivered path = %q, want /a", p[0].Path.String())
		}
	}
}

func TestEngineOnDisconnectClearsNonDurableQueuesOnly(t *testing.T) {
	e := newTestEngine(t, nil)
	path := nodepath.MustParse("/a")

	volatile, _ := e.Subscribe("vol", path, QoSVolatile)
	durable, _ := e.Subscribe("dur", path, QoSDurable)

	e.NotifyValueChanged(path, value.NewInt(1), time.Now(), StatusOK)

	e.OnDisconnect()

	if n := volatile.q.pending(); n != 0 {
		t.Errorf("volatile queue has %d pending after disconnect, want 0", n)
	}
	if n := durable.q.pending(); n != 1 {
		t.Errorf("durable queue has %d pending after disconnect, want 1 (preserved)", n)
	}
}

func TestSubscriptionSendWindowBackpressure(t *testing.T) {
	e := newTestEngine(t, nil)
	path := nodepath.MustParse("/a")
	sub, _ := e.Subscribe("r1", path, QoSDurable)
	sub.sendWindowMax = 2

	for i := int64(1); i <= 3; i++ {
		e.NotifyValueChanged(path, value.NewInt(i), time.Now(), StatusOK)
	}

	first := sub.Pending()
	if len(first) != 2 {
		t.Fatalf("first Pending() = %d, want 2 (capped by send window)", len(first))
	}

	second := sub.Pending()
	if len(second) != 0 {
		t.Fatalf("second Pending() before ack = %d, want 0 (window full)", len(second))
	}

	if err := sub.Ack(first[len(first)-1].Seq, len(first)); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	third := sub.Pending()
	if len(third) != 1 {
		t.Fatalf("Pending() after ack = %d, want 1 (remaining update)", len(third))
	}
}

func TestEngineUnsubscribeUnknownIsNoop(t *testing.T) {
	e := newTestEngine(t, nil)
	if err := e.Unsubscribe("ghost", nodepath.MustParse("/a")); err != nil {
		t.Errorf("Unsubscribe of unknown subscription: %v", err)
	}
}

func TestEnginePersistentSubscriptionUsesRedoLog(t *testing.T) {
	e := newTestEngine(t, nil)
	path := nodepath.MustParse("/a")

	sub, err := e.Subscribe("r1", path, QoSPersistent)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	e.NotifyValueChanged(path, value.NewInt(5), time.Now(), StatusOK)

	pending := sub.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	got, _ := pending[0].Value.AsInt()
	if got != 5 {
		t.Errorf("value = %d, want 5", got)
	}
}
