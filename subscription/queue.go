package subscription

import (
	"fmt"
	"log/slog"

	"github.com/efmgo/dslink/redolog"
)

// queue is the delivery-buffer abstraction every QoS level implements.
// drain hands the caller the next not-yet-delivered updates (advancing
// an internal delivered cursor so a re-call doesn't resend them before
// they're acked); ack advances the acknowledged cursor and, for bounded
// queues, evicts anything at or before it.
type queue interface {
	push(u Update)
	drain(max int) []Update
	ack(upTo int64) error
	acked() int64
	pending() int
	clearOnDisconnect() bool
	close() error
}

// coalesceQueue implements QoS none: at most one update in flight, a
// new push replaces whatever is currently queued instead of appending.
type coalesceQueue struct {
	has       bool
	delivered bool
	current   Update
	seq       int64
	ackedSeq  int64
}

func newCoalesceQueue() *coalesceQueue { return &coalesceQueue{} }

func (q *coalesceQueue) push(u Update) {
	q.seq++
	u.Seq = q.seq
	q.has = true
	q.delivered = false
	q.current = u
}

// drain ignores max: a coalescing queue never holds more than one
// update, so "room for N" and "room for 1" behave identically. max<=0
// means unbounded, per the queue interface's contract.
func (q *coalesceQueue) drain(max int) []Update {
	if !q.has || q.delivered {
		return nil
	}
	q.delivered = true
	return []Update{q.current}
}

func (q *coalesceQueue) ack(upTo int64) error {
	if q.has && upTo >= q.current.Seq {
		q.has = false
	}
	if upTo > q.ackedSeq {
		q.ackedSeq = upTo
	}
	return nil
}

func (q *coalesceQueue) acked() int64 { return q.ackedSeq }

func (q *coalesceQueue) pending() int {
	if q.has {
		return 1
	}
	return 0
}

func (q *coalesceQueue) clearOnDisconnect() bool { return true }
func (q *coalesceQueue) close() error            { return nil }

// ringQueue implements QoS volatile and durable: a fixed-capacity FIFO
// that drops the oldest entry on overflow. durable differs only in
// whether the Engine clears it on disconnect (volatile does, durable
// does not).
type ringQueue struct {
	buf           []Update
	nextSeq       int64
	deliveredThru int64 // seq of the last update handed to drain
	ackedThru     int64
	capacity      int
	durable       bool
}

func newRingQueue(capacity int, durable bool) *ringQueue {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &ringQueue{capacity: capacity, durable: durable}
}

func (q *ringQueue) push(u Update) {
	q.nextSeq++
	u.Seq = q.nextSeq
	q.buf = append(q.buf, u)
	if len(q.buf) > q.capacity {
		q.buf = q.buf[1:]
	}
}

func (q *ringQueue) drain(max int) []Update {
	var out []Update
	for _, u := range q.buf {
		if u.Seq <= q.deliveredThru {
			continue
		}
		if max > 0 && len(out) >= max {
			break
		}
		out = append(out, u)
		q.deliveredThru = u.Seq
	}
	return out
}

func (q *ringQueue) ack(upTo int64) error {
	i := 0
	for i < len(q.buf) && q.buf[i].Seq <= upTo {
		i++
	}
	q.buf = q.buf[i:]
	if upTo > q.ackedThru {
		q.ackedThru = upTo
	}
	return nil
}

func (q *ringQueue) acked() int64 { return q.ackedThru }

func (q *ringQueue) pending() int { return len(q.buf) }

func (q *ringQueue) clearOnDisconnect() bool { return !q.durable }

func (q *ringQueue) close() error {
	q.buf = nil
	return nil
}

// persistentQueue implements QoS persistent: backed by a redo log so
// updates survive process restarts, bounded by the log's own disk-space
// and file-count policy rather than an in-memory capacity. The
// delivered cursor lives only in memory: on restart everything unacked
// is handed out again, which is exactly the "at least once" contract
// spec.md §4.4 requires.
type persistentQueue struct {
	log           *redolog.Log
	logger        *slog.Logger
	deliveredThru int64
}

// newPersistentQueue seeds the in-memory delivered cursor from the log's
// own acked cursor, so a record acknowledged before a restart is never
// redelivered just because the delivered cursor itself doesn't persist.
func newPersistentQueue(log *redolog.Log, logger *slog.Logger) *persistentQueue {
	return &persistentQueue{log: log, logger: logger, deliveredThru: log.Acked()}
}

func (q *persistentQueue) push(u Update) {
	_, err := q.log.Append(redolog.Record{
		Timestamp: u.Timestamp,
		Value:     u.Value,
		Status:    redolog.Status(u.Status),
	})
	if err != nil && q.logger != nil {
		q.logger.Error("failed to append persistent subscription update", "path", u.Path.String(), "error", err)
	}
}

func (q *persistentQueue) drain(max int) []Update {
	recs, err := q.log.PendingSince(q.deliveredThru)
	if err != nil {
		if q.logger != nil {
			q.logger.Error("failed to read pending persistent updates", "error", err)
		}
		return nil
	}
	if max > 0 && len(recs) > max {
		recs = recs[:max]
	}
	out := make([]Update, 0, len(recs))
	for _, r := range recs {
		out = append(out, Update{
			Value:     r.Value,
			Timestamp: r.Timestamp,
			Status:    Status(r.Status),
			Seq:       r.LSN,
		})
		q.deliveredThru = r.LSN
	}
	return out
}

func (q *persistentQueue) ack(upTo int64) error {
	return q.log.Ack(upTo)
}

func (q *persistentQueue) acked() int64 { return q.log.Acked() }

func (q *persistentQueue) pending() int {
	recs, err := q.log.PendingSince(q.log.Acked())
	if err != nil {
		return 0
	}
	return len(recs)
}

func (q *persistentQueue) clearOnDisconnect() bool { return false }

func (q *persistentQueue) close() error {
	if err := q.log.Close(); err != nil {
		return fmt.Errorf("subscription: close redo log: %w", err)
	}
	return nil
}
