package subscription

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/redolog"
	"github.com/efmgo/dslink/value"
)

// Subscription is the engine's (subscriber-id, path, qos) triple,
// its delivery queue, and the last delivered value/status/timestamp.
type Subscription struct {
	mu sync.Mutex

	subscriberID string
	path         nodepath.Path
	qos          QoS
	q            queue

	lastDelivered    Update
	hasLastDelivered bool

	sendWindowMax int
	inFlight      int
}

// SubscriberID returns the subscriber this subscription belongs to.
func (s *Subscription) SubscriberID() string { return s.subscriberID }

// Path returns the subscribed node path.
func (s *Subscription) Path() nodepath.Path { return s.path }

// QoS returns the subscription's quality-of-service level.
func (s *Subscription) QoS() QoS { return s.qos }

// Pending returns updates queued for delivery, gated by the send
// window: if inFlight already reached sendWindowMax, nothing is
// returned until Ack lowers it. A sendWindowMax of 0 means unbounded.
func (s *Subscription) Pending() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendWindowMax > 0 && s.inFlight >= s.sendWindowMax {
		return nil
	}
	room := 0
	if s.sendWindowMax > 0 {
		room = s.sendWindowMax - s.inFlight
	}
	out := s.q.drain(room)
	if len(out) == 0 {
		return nil
	}
	s.inFlight += len(out)
	for i := range out {
		out[i].Path = s.path
	}
	return out
}

// Ack acknowledges delivery up to and including sequence upTo and lowers
// the in-flight count by count. The coalescing none queue clears the
// update it holds only if upTo covers that update's Seq, so an update
// pushed after the last drain is kept for the next one.
func (s *Subscription) Ack(upTo int64, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight -= count
	if s.inFlight < 0 {
		s.inFlight = 0
	}
	return s.q.ack(upTo)
}

// LastDelivered returns the most recently delivered update, if any.
func (s *Subscription) LastDelivered() (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDelivered, s.hasLastDelivered
}

// AckedLSN returns the sequence number (or redo log LSN, for QoS
// persistent) this subscription's consumer has acknowledged through.
func (s *Subscription) AckedLSN() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.acked()
}

func (s *Subscription) enqueue(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.q.push(u)
	s.lastDelivered = u
	s.hasLastDelivered = true
}

func (s *Subscription) onDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q.clearOnDisconnect() {
		s.q.close()
		s.inFlight = 0
	}
}

// OnSubscribeHandler fires true on a path's first subscriber and false
// on its last unsubscribe.
type OnSubscribeHandler func(path nodepath.Path, subscribed bool)

// Engine maintains every (subscriber, path) subscription, fans value
// changes out to matching subscriptions, and fires a path's
// on-subscribe handler on first subscribe / last unsubscribe.
type Engine struct {
	mu   sync.RWMutex
	subs map[string]*Subscription // key: subscriberID + "\x00" + path
	byPath map[string][]*Subscription

	redoBaseDir string
	redoCfg     redolog.Config
	redoKey     []byte
	ringCap     int
	logger      *slog.Logger

	onSubscribe OnSubscribeHandler
}

// Options configures an Engine.
type Options struct {
	RedoLogBaseDir    string
	RedoLogConfig     redolog.Config
	RedoLogKey        []byte
	RingCapacity      int
	OnSubscribe       OnSubscribeHandler
	Logger            *slog.Logger
}

// New returns an Engine ready to accept subscriptions.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		subs:        make(map[string]*Subscription),
		byPath:      make(map[string][]*Subscription),
		redoBaseDir: opts.RedoLogBaseDir,
		redoCfg:     opts.RedoLogConfig,
		redoKey:     opts.RedoLogKey,
		ringCap:     opts.RingCapacity,
		logger:      opts.Logger.With("component", "subscription"),
		onSubscribe: opts.OnSubscribe,
	}
}

func key(subscriberID string, path nodepath.Path) string {
	return subscriberID + "\x00" + path.String()
}

// Subscribe registers subscriberID's interest in path at the given QoS
// and returns the subscription. If one already exists for this
// (subscriber, path) pair its QoS is left unchanged and the existing
// subscription is returned — callers that need at-most-one
// subscribe-stream semantics per path enforce that at the requester
// stream table layer, not here.
//
// on_subscribe(true) fires synchronously, before this subscription is
// registered as a fan-out target for NotifyValueChanged, so the handler
// never races a value-change delivered to a queue the caller hasn't
// seen returned yet.
func (e *Engine) Subscribe(subscriberID string, path nodepath.Path, qos QoS) (*Subscription, error) {
	e.mu.Lock()
	k := key(subscriberID, path)
	if existing, ok := e.subs[k]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.mu.Unlock()

	q, err := e.newQueueFor(subscriberID, path, qos)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		subscriberID: subscriberID,
		path:         path,
		qos:          qos,
		q:            q,
	}

	pathKey := path.String()
	firstSubscriber := false
	e.mu.Lock()
	if len(e.byPath[pathKey]) == 0 {
		firstSubscriber = true
	}
	e.mu.Unlock()

	if firstSubscriber && e.onSubscribe != nil {
		e.onSubscribe(path, true)
	}

	e.mu.Lock()
	e.subs[k] = sub
	e.byPath[pathKey] = append(e.byPath[pathKey], sub)
	e.mu.Unlock()

	return sub, nil
}

func (e *Engine) newQueueFor(subscriberID string, path nodepath.Path, qos QoS) (queue, error) {
	switch qos {
	case QoSNone:
		return newCoalesceQueue(), nil
	case QoSVolatile:
		return newRingQueue(e.ringCap, false), nil
	case QoSDurable:
		return newRingQueue(e.ringCap, true), nil
	case QoSPersistent:
		dir := e.subscriptionDir(subscriberID, path)
		log, err := redolog.Open(dir, e.redoCfg, e.redoKey, e.logger)
		if err != nil {
			return nil, fmt.Errorf("subscription: open redo log for %s: %w", path.String(), err)
		}
		return newPersistentQueue(log, e.logger), nil
	default:
		return newCoalesceQueue(), nil
	}
}

func (e *Engine) subscriptionDir(subscriberID string, path nodepath.Path) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(path.String())
	return filepath.Join(e.redoBaseDir, subscriberID, safe)
}

// Unsubscribe removes subscriberID's subscription to path, closing its
// queue and firing on_subscribe(false) if this was the path's last
// subscriber.
func (e *Engine) Unsubscribe(subscriberID string, path nodepath.Path) error {
	k := key(subscriberID, path)

	e.mu.Lock()
	sub, ok := e.subs[k]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.subs, k)

	pathKey := path.String()
	list := e.byPath[pathKey]
	for i, s := range list {
		if s == sub {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	e.byPath[pathKey] = list
	lastSubscriber := len(list) == 0
	if lastSubscriber {
		delete(e.byPath, pathKey)
	}
	e.mu.Unlock()

	if lastSubscriber && e.onSubscribe != nil {
		e.onSubscribe(path, false)
	}

	return sub.q.close()
}

// NotifyValueChanged enqueues a (path, value, timestamp, status) update
// to every subscription currently watching path.
func (e *Engine) NotifyValueChanged(path nodepath.Path, v value.Value, ts time.Time, status Status) {
	e.mu.RLock()
	subs := append([]*Subscription(nil), e.byPath[path.String()]...)
	e.mu.RUnlock()

	u := Update{Path: path, Value: v, Timestamp: ts, Status: status}
	for _, sub := range subs {
		sub.enqueue(u)
	}
}

// OnDisconnect clears every volatile (non-durable, non-persistent)
// subscription's buffer, per the QoS disconnect-clearing semantics.
func (e *Engine) OnDisconnect() {
	e.mu.RLock()
	subs := make([]*Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.mu.RUnlock()

	for _, s := range subs {
		s.onDisconnect()
	}
}

// Get returns the subscription for (subscriberID, path), if any.
func (e *Engine) Get(subscriberID string, path nodepath.Path) (*Subscription, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.subs[key(subscriberID, path)]
	return s, ok
}

// Count returns the number of active subscriptions.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// All returns a snapshot of every active subscription, for diagnostics
// and status reporting.
func (e *Engine) All() []*Subscription {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		out = append(out, s)
	}
	return out
}
