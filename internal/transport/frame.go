// Package transport dials a DSA broker over WebSocket and exchanges
// typed frames with it. The wire codec and handshake are delegated
// collaborators per spec.md §1/§6: this package owns only the
// reconnect-with-backoff loop and the frame-delivery contract the rest
// of the link depends on (request-id, kind, and a Value-shaped
// payload), not the broker's actual byte-level framing.
package transport

import "github.com/efmgo/dslink/value"

// Kind names the frame types spec.md §6 lists as the DSA wire surface.
type Kind string

const (
	KindList         Kind = "list"
	KindSubscribe    Kind = "subscribe"
	KindUnsubscribe  Kind = "unsubscribe"
	KindInvoke       Kind = "invoke"
	KindSet          Kind = "set"
	KindRemove       Kind = "remove"
	KindClose        Kind = "close"

	KindListResponse        Kind = "list-response"
	KindSubscriptionUpdate  Kind = "subscription-update"
	KindInvokeResponse      Kind = "invoke-response"
	KindSetAck              Kind = "set-ack"
	KindRemoveAck           Kind = "remove-ack"
	KindCloseAck            Kind = "close-ack"
)

// Frame is one typed message exchanged with the broker: a request id,
// a kind, and a payload carrying a Value subtree (spec.md §6's "The
// transport delivers and accepts frames typed by request-id, kind, and
// payload carrying a Value subtree").
type Frame struct {
	RequestID int64      `json:"rid"`
	Kind      Kind       `json:"kind"`
	Payload   value.Value `json:"payload,omitempty"`
}
