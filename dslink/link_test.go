package dslink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/efmgo/dslink/config"
	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/subscription"
	"github.com/efmgo/dslink/value"
)

func testConfig(t *testing.T, name string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(name)
	cfg.KeyFile = filepath.Join(dir, ".key")
	cfg.RedoLog.Path = filepath.Join(dir, "redo")
	cfg.Serializer.Path = filepath.Join(dir, "nodes.json")
	cfg.Workers = 2
	return cfg
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected an error constructing a Link with a nil Config")
	}
}

func TestNewResponderRoleBuildsTreeNotRequester(t *testing.T) {
	l, err := New(Options{Config: testConfig(t, "responder-test"), Role: RoleResponder})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Tree() == nil {
		t.Error("Tree() = nil, want a responder tree")
	}
	if l.Subscriptions() == nil {
		t.Error("Subscriptions() = nil, want a subscription engine")
	}
	if l.Actions() == nil {
		t.Error("Actions() = nil, want an action engine")
	}
	if l.Requester() != nil {
		t.Error("Requester() != nil for a RoleResponder-only link")
	}
}

func TestNewRequesterRoleBuildsTableNotTree(t *testing.T) {
	l, err := New(Options{Config: testConfig(t, "requester-test"), Role: RoleRequester})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Requester() == nil {
		t.Error("Requester() = nil, want a requester table")
	}
	if l.Tree() != nil {
		t.Error("Tree() != nil for a RoleRequester-only link")
	}
}

func TestLifecycleHooksFire(t *testing.T) {
	l, err := New(Options{Config: testConfig(t, "lifecycle-test"), Role: RoleResponder})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var initialized, connected, deinitialized bool
	var disconnectErr error
	l.OnInitialized(func() { initialized = true })
	l.OnConnected(func() { connected = true })
	l.OnDisconnected(func(err error) { disconnectErr = err })
	l.OnDeinitialized(func() { deinitialized = true })

	l.fireInitialized()
	l.fireConnected()
	l.fireDisconnected(context.Canceled)
	l.fireDeinitialized()

	if !initialized || !connected || !deinitialized {
		t.Errorf("hooks fired: initialized=%v connected=%v deinitialized=%v", initialized, connected, deinitialized)
	}
	if disconnectErr != context.Canceled {
		t.Errorf("disconnectErr = %v, want context.Canceled", disconnectErr)
	}
}

func TestLoadOrCreateIdentityPersistsAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".key")

	first, err := loadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("loadOrCreateIdentity (create): %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("len(first) = %d, want 32", len(first))
	}

	second, err := loadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("loadOrCreateIdentity (reload): %v", err)
	}
	if string(first) != string(second) {
		t.Error("loadOrCreateIdentity returned different bytes on reload")
	}
}

// TestTreeSetValueFansOutToSubscribers guards against the tree's
// SetValue silently bypassing the subscription engine: a subscriber
// that only ever saw the value present at subscribe time would miss
// every subsequent tick, which is exactly the counter-node scenario
// cmd/dslink-responder-example's runCounter exercises against a real
// broker.
func TestTreeSetValueFansOutToSubscribers(t *testing.T) {
	l, err := New(Options{Config: testConfig(t, "fanout-test"), Role: RoleResponder})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	node.NewBuilder(l.Tree(), nodepath.Root()).MakeNode("counter").Type(node.TypeNumber).Value(value.NewInt(0)).Build()

	path := nodepath.MustParse("/counter")
	sub, err := l.Subscriptions().Subscribe("peer", path, subscription.QoSVolatile)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := l.Tree().SetValue(path, value.NewInt(1), time.Now()); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	pending := sub.Pending()
	if len(pending) != 1 {
		t.Fatalf("subscriber received %d updates after SetValue, want 1", len(pending))
	}
	got, _ := pending[0].Value.AsInt()
	if got != 1 {
		t.Errorf("delivered value = %d, want 1", got)
	}
}

// wsURL rewrites an httptest server's http(s) URL to ws(s), mirroring
// transport.Dial's own scheme rewrite.
func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// handshakeMsg mirrors transport's unexported handshakeFrame wire shape
// closely enough to drive the hello/allowed exchange from a test-owned
// broker stub.
type handshakeMsg struct {
	Type    string `json:"type"`
	DsID    string `json:"dsId,omitempty"`
	Token   string `json:"token,omitempty"`
	Allowed bool   `json:"allowed,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type wireFrame struct {
	RequestID int64       `json:"rid"`
	Kind      string      `json:"kind"`
	Payload   value.Value `json:"payload,omitempty"`
}

var testUpgrader = websocket.Upgrader{}

// brokerStub completes the handshake, immediately issues the given
// request frame, and delivers every frame it reads back afterward on
// responses.
func brokerStub(t *testing.T, request wireFrame, responses chan<- wireFrame) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var hello handshakeMsg
		if err := conn.ReadJSON(&hello); err != nil {
			return
		}
		if err := conn.WriteJSON(handshakeMsg{Type: "allowed", Allowed: true}); err != nil {
			return
		}
		if err := conn.WriteJSON(request); err != nil {
			return
		}

		for {
			var f wireFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			responses <- f
		}
	}))
}

func TestRunRespondsToListRequest(t *testing.T) {
	cfg := testConfig(t, "run-test")
	l, err := New(Options{Config: cfg, Role: RoleResponder})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	node.NewBuilder(l.Tree(), nodepath.Root()).MakeNode("foo").Type(node.TypeString).Build()

	pathValue := value.NewMap()
	pathValue.Put("path", value.NewString("/"))

	responses := make(chan wireFrame, 4)
	srv := brokerStub(t, wireFrame{RequestID: 1, Kind: "list", Payload: pathValue}, responses)
	defer srv.Close()
	cfg.Broker = wsURL(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(runDone)
	}()

	select {
	case f := <-responses:
		if f.Kind != "list-response" {
			t.Fatalf("Kind = %q, want list-response", f.Kind)
		}
		resp, err := decodeListResponse(f.Payload)
		if err != nil {
			t.Fatalf("decodeListResponse: %v", err)
		}
		var sawFoo bool
		for _, c := range resp.Children {
			if c.Name == "foo" {
				sawFoo = true
			}
		}
		if !sawFoo {
			t.Errorf("Children = %+v, want to include foo", resp.Children)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("link never responded to the list request")
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestEncodeNodeMetaRoundTripsThroughListResponse(t *testing.T) {
	tree := node.NewTree()
	node.NewBuilder(tree, nodepath.Root()).
		MakeNode("temp").
		DisplayName("Temperature").
		Type(node.TypeNumber).
		Build()
	if err := tree.SetValue(nodepath.MustParse("/temp"), value.NewFloat(21.5), time.Now()); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	payload, err := encodeListResponse(tree, nodepath.Root())
	if err != nil {
		t.Fatalf("encodeListResponse: %v", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var roundTripped value.Value
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	resp, err := decodeListResponse(roundTripped)
	if err != nil {
		t.Fatalf("decodeListResponse: %v", err)
	}
	if len(resp.Children) != 1 || resp.Children[0].Name != "temp" {
		t.Fatalf("Children = %+v, want one entry named temp", resp.Children)
	}
}
