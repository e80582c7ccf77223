// Package dslink wires the node model, subscription engine, action
// engine, requester stream table, serializer, and scheduler into one
// running link: it owns the broker connection, translates between
// domain types and transport.Frame, and drives the lifecycle handlers
// named in spec.md §2 (initialized, connected, disconnected,
// deinitialized).
package dslink

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"time"

	"github.com/efmgo/dslink/action"
	"github.com/efmgo/dslink/buildinfo"
	"github.com/efmgo/dslink/config"
	"github.com/efmgo/dslink/internal/transport"
	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/redolog"
	"github.com/efmgo/dslink/requester"
	"github.com/efmgo/dslink/scheduler"
	"github.com/efmgo/dslink/serializer"
	"github.com/efmgo/dslink/subscription"
	"github.com/efmgo/dslink/value"
)

// Role selects which side(s) of the protocol a Link plays. A link built
// with RoleResponder only exposes the node tree and serves incoming
// requests; RoleRequester only exposes the requester table and issues
// outgoing requests; RoleBoth does both over the same connection.
type Role int

const (
	RoleResponder Role = 1 << iota
	RoleRequester
	RoleBoth = RoleResponder | RoleRequester
)

func (r Role) has(bit Role) bool { return r&bit != 0 }

// Options configures a Link.
type Options struct {
	Config *config.Config
	Role   Role
	Logger *slog.Logger
}

// lifecycleHandlers holds the callbacks a host registers to observe a
// Link's run: initialized fires once, after deserialization and before
// the first connection attempt; connected/disconnected fire on every
// (re)connect and loss; deinitialized fires once during shutdown.
type lifecycleHandlers struct {
	initialized   func()
	connected     func()
	disconnected  func(error)
	deinitialized func()
}

// Link is one running DSA link: the responder's node tree and
// subscription/action engines (if RoleResponder), the requester's
// stream table (if RoleRequester), the periodic serializer, and the
// broker session that carries frames between them and the peer.
type Link struct {
	cfg    *config.Config
	role   Role
	logger *slog.Logger

	sched *scheduler.Scheduler

	tree   *node.Tree
	subs   *subscription.Engine
	action *action.Engine

	reqTable *requester.Table

	serial *serializer.Serializer

	session *transport.Session

	mu   sync.Mutex
	hook lifecycleHandlers

	// pendingSubscribeAck tracks requester-issued subscribe requests
	// that haven't yet seen their first subscription-update frame. The
	// wire protocol (spec.md §6) has no dedicated subscribe-ack frame
	// kind, so the first update delivered for a path stands in for the
	// acknowledgement.
	pendingSubscribeAck map[string]int64

	// invokeStreams tracks action streams this link's responder side
	// opened, keyed by the request id the peer used to invoke, so a
	// subsequent close request from the peer can be routed to the right
	// stream.
	invokeStreams map[int64]*action.Stream
}

// New constructs a Link from opts. Every component opts.Role requires
// is built; components the role doesn't need are left nil. It does not
// connect to the broker — call Run for that.
func New(opts Options) (*Link, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("dslink: nil config")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("link", cfg.Name)

	l := &Link{
		cfg:                 cfg,
		role:                opts.Role,
		logger:              logger,
		pendingSubscribeAck: make(map[string]int64),
		invokeStreams:       make(map[int64]*action.Stream),
	}

	l.sched = scheduler.New(scheduler.Options{
		Workers: cfg.Workers,
		Logger:  logger,
	})

	if opts.Role.has(RoleResponder) {
		l.tree = node.NewTree()

		identity, err := loadOrCreateIdentity(cfg.KeyFile)
		if err != nil {
			l.sched.Shutdown()
			return nil, fmt.Errorf("dslink: load identity: %w", err)
		}
		redoKey := redolog.DeriveKey(identity)

		l.subs = subscription.New(subscription.Options{
			RedoLogBaseDir: cfg.RedoLog.Path,
			RedoLogConfig: redolog.Config{
				MaxEntriesPerFile:       cfg.RedoLog.MaxEntriesPerFile,
				MaxSizePerFileBytes:     cfg.RedoLog.MaxSizePerFileBytes,
				MaxFilesPerLog:          cfg.RedoLog.MaxFilesPerLog,
				FlushAfterWrite:         cfg.RedoLog.FlushAfterWrite,
				AutomaticRecovery:       cfg.RedoLog.AutomaticRecovery,
				WriteEncryptedValues:    cfg.RedoLog.WriteEncryptedValues,
				MinAvailableDiskSpaceMB: int64(cfg.RedoLog.MinAvailableDiskSpaceMB),
			},
			RedoLogKey:   redoKey[:],
			RingCapacity: cfg.QoS.DefaultQueueLength,
			OnSubscribe: func(path nodepath.Path, subscribed bool) {
				if n, ok := l.tree.Get(path); ok {
					kind := node.EventUnsubscribe
					if subscribed {
						kind = node.EventSubscribe
					}
					if cb := n.SubscribeHandler(); cb != nil {
						cb(subscribed)
					}
					n.FireEvent(kind)
				}
			},
			Logger: logger,
		})

		l.tree.OnValueChanged(func(path nodepath.Path, v value.Value, ts time.Time) {
			l.subs.NotifyValueChanged(path, v, ts, subscription.StatusOK)
		})

		l.action = action.NewEngine(logger)

		l.serial = serializer.New(l.tree, serializer.Options{
			Path:            cfg.Serializer.Path,
			Interval:        time.Duration(cfg.Serializer.FrequencyMS) * time.Millisecond,
			SerializeValues: cfg.Serializer.SerializeValues,
			Logger:          logger,
		})
	}

	if opts.Role.has(RoleRequester) {
		l.reqTable = requester.NewTable(l.sendOutgoingRequest)
	}

	return l, nil
}

// Tree returns the responder's node tree. Nil if the link wasn't built
// with RoleResponder.
func (l *Link) Tree() *node.Tree { return l.tree }

// Subscriptions returns the responder's subscription engine. Nil if the
// link wasn't built with RoleResponder.
func (l *Link) Subscriptions() *subscription.Engine { return l.subs }

// Actions returns the responder's action engine. Nil if the link wasn't
// built with RoleResponder.
func (l *Link) Actions() *action.Engine { return l.action }

// Requester returns the requester's stream table. Nil if the link
// wasn't built with RoleRequester.
func (l *Link) Requester() *requester.Table { return l.reqTable }

// Scheduler returns the link's task scheduler, shared by every
// component.
func (l *Link) Scheduler() *scheduler.Scheduler { return l.sched }

// Connected reports whether the link currently has a live broker
// connection.
func (l *Link) Connected() bool {
	if l.session == nil {
		return false
	}
	return l.session.Connected()
}

// OnInitialized registers the handler fired once deserialization has
// completed and before the first connection attempt.
func (l *Link) OnInitialized(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook.initialized = fn
}

// OnConnected registers the handler fired after every successful
// (re)connection to the broker.
func (l *Link) OnConnected(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook.connected = fn
}

// OnDisconnected registers the handler fired when the broker connection
// is lost, before the link begins retrying.
func (l *Link) OnDisconnected(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook.disconnected = fn
}

// OnDeinitialized registers the handler fired once during shutdown,
// after the broker session and the scheduler have stopped. The
// serializer and the subscription pump stop after it returns.
func (l *Link) OnDeinitialized(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook.deinitialized = fn
}

func (l *Link) fireInitialized() {
	l.mu.Lock()
	fn := l.hook.initialized
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (l *Link) fireConnected() {
	l.mu.Lock()
	fn := l.hook.connected
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (l *Link) fireDisconnected(err error) {
	l.mu.Lock()
	fn := l.hook.disconnected
	l.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (l *Link) fireDeinitialized() {
	l.mu.Lock()
	fn := l.hook.deinitialized
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// loadOrCreateIdentity reads the link's identity key from path,
// generating and persisting a fresh random one on first run. The
// key's bytes seed (via redolog.DeriveKey) the persistent subscription
// encryption key, so operators only ever manage this one file per
// spec.md §6's "Persisted state" list. The broker dsId does not use the
// key; see dsID.
func loadOrCreateIdentity(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("dslink: generate identity: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("dslink: persist identity: %w", err)
	}
	return key, nil
}

// dsID forms the broker-facing identity string from the configured
// link name and the SDK's build suffix.
func (l *Link) dsID() string {
	return l.cfg.Name + buildinfo.DsIDSuffix()
}

// sendOutgoingRequest is the requester.Table's SendFunc: it encodes req
// onto the wire and hands it to the session. A request issued while
// disconnected is not sent: the error is returned by the requester.Table
// method that issued it (CloseStream and Unsubscribe also pass it to
// their callback), and the entry the table registered stays in place.
// A subscribe request records its id in pendingSubscribeAck so the
// path's first subscription-update frame can acknowledge it.
func (l *Link) sendOutgoingRequest(req requester.OutgoingRequest) error {
	if l.session == nil || !l.session.Connected() {
		return fmt.Errorf("dslink: not connected")
	}
	if req.Kind == requester.KindSubscribe && len(req.Paths) == 0 {
		l.mu.Lock()
		l.pendingSubscribeAck[req.Path.String()] = req.ID
		l.mu.Unlock()
	}
	return l.session.Send(encodeOutgoingRequest(req))
}
