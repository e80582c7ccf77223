// Package subscription implements the responder's subscription engine:
// per-(subscriber, path) delivery queues keyed by quality of service,
// value-change fan-out, on-subscribe/unsubscribe notification, and
// send-window back-pressure gating.
package subscription

import (
	"time"

	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

// QoS is the delivery durability level requested for a subscription.
type QoS int

const (
	QoSNone QoS = iota
	QoSVolatile
	QoSDurable
	QoSPersistent
)

func (q QoS) String() string {
	switch q {
	case QoSNone:
		return "none"
	case QoSVolatile:
		return "volatile"
	case QoSDurable:
		return "durable"
	case QoSPersistent:
		return "persistent"
	default:
		return "unknown"
	}
}

// Status accompanies every delivered update.
type Status string

const (
	StatusOK           Status = "ok"
	StatusStale        Status = "stale"
	StatusDisconnected Status = "disconnected"
)

// Update is one value change queued for delivery to a subscriber. Seq
// identifies the update within its queue for acknowledgment purposes
// (the coalescing "none" queue uses it on Ack only to tell whether the
// update it holds is the one that was delivered).
type Update struct {
	Path      nodepath.Path
	Value     value.Value
	Timestamp time.Time
	Status    Status
	Seq       int64
}

// DefaultRingCapacity is the default depth of the volatile/durable ring
// buffer, per spec.md §4.3.
const DefaultRingCapacity = 1024
