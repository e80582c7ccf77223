package dslink

import (
	"context"
	"time"

	"github.com/efmgo/dslink/internal/transport"
)

// pumpInterval is how often the responder drains each subscription's
// pending queue onto the wire. Independent of the serializer's own
// snapshot interval (cfg.Serializer.FrequencyMS) — delivery latency and
// snapshot freshness are unrelated knobs.
const pumpInterval = 100 * time.Millisecond

// Run drives one full link lifecycle: restore persisted state, fire
// initialized, connect to the broker and stay connected (retrying with
// backoff per spec.md §7) until ctx is cancelled, then fire
// deinitialized and stop every background component. It blocks until
// ctx is done.
func (l *Link) Run(ctx context.Context) error {
	if l.serial != nil {
		if err := l.serial.Deserialize(); err != nil {
			return err
		}
	}
	l.fireInitialized()

	if l.serial != nil {
		l.serial.Start(ctx)
		defer l.serial.Stop()
	}

	pumpCtx, stopPump := context.WithCancel(ctx)
	if l.subs != nil {
		go l.runSubscriptionPump(pumpCtx)
	}
	defer stopPump()

	session := transport.NewSession(ctx, transport.SessionConfig{
		Dial: transport.Config{
			BrokerURL: l.cfg.Broker,
			DsID:      l.dsID(),
			Token:     l.cfg.Token,
			Logger:    l.logger,
		},
		Backoff: transport.DefaultBackoffConfig(),
		OnConnect: func(*transport.Conn) {
			l.fireConnected()
		},
		OnDisconnect: func(err error) {
			if l.subs != nil {
				l.subs.OnDisconnect()
			}
			l.fireDisconnected(err)
		},
		OnFrame: l.handleFrame,
		Logger:  l.logger,
	})
	l.mu.Lock()
	l.session = session
	l.mu.Unlock()

	<-ctx.Done()

	session.Stop()
	l.mu.Lock()
	l.session = nil
	l.mu.Unlock()

	l.sched.Shutdown()
	l.fireDeinitialized()
	return nil
}

// runSubscriptionPump periodically drains every active subscription's
// pending queue and sends its updates as subscription-update frames,
// acknowledging each batch back to the engine once sent. A tick that
// finds the link disconnected drains nothing, so queued updates wait for
// the first tick after reconnection (volatile queues are cleared by the
// disconnect itself).
func (l *Link) runSubscriptionPump(ctx context.Context) {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.pumpSubscriptions()
		}
	}
}

func (l *Link) pumpSubscriptions() {
	if !l.Connected() {
		return
	}
	for _, sub := range l.subs.All() {
		updates := sub.Pending()
		if len(updates) == 0 {
			continue
		}
		var lastSeq int64
		for _, u := range updates {
			l.send(transport.Frame{Kind: transport.KindSubscriptionUpdate, Payload: encodeSubscriptionUpdate(u)})
			lastSeq = u.Seq
		}
		if err := sub.Ack(lastSeq, len(updates)); err != nil {
			l.logger.Warn("subscription ack failed", "path", sub.Path().String(), "error", err)
		}
	}
}
