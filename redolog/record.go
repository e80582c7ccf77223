// Package redolog implements the append-only, rotated, optionally
// encrypted on-disk log that backs persistent-QoS subscriptions.
package redolog

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/efmgo/dslink/value"
)

// Status mirrors the delivery status carried alongside a subscription
// update (spec.md §3's "(path, value, timestamp, status)" update shape).
type Status string

const (
	StatusOK         Status = "ok"
	StatusStale      Status = "stale"
	StatusDisconnected Status = "disconnected"
)

// Record is one logical-sequence-numbered entry in the log.
type Record struct {
	LSN       int64
	Timestamp time.Time
	Value     value.Value
	Status    Status
}

// wireRecord is the on-disk JSON shape. Value holds the raw (possibly
// AEAD-sealed) value bytes; Encrypted reports which it is so decodeFrame
// knows whether to run it through AEAD.Open first.
type wireRecord struct {
	LSN       int64  `json:"lsn"`
	Timestamp int64  `json:"ts"` // unix nanos
	Status    Status `json:"status"`
	Encrypted bool   `json:"enc"`
	Value     []byte `json:"value"` // JSON-encoded Value, optionally sealed
}

const magic = 0x45464d31 // "EFM1"

// encodeFrame serializes rec into a length-prefixed frame:
// [4 bytes magic][4 bytes length][length bytes JSON payload]. The magic
// number lets recovery distinguish a valid frame header from a
// truncated/corrupt tail when scanning sequentially.
func encodeFrame(rec Record, seal sealFunc) ([]byte, error) {
	valueJSON, err := rec.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("redolog: marshal value: %w", err)
	}

	wr := wireRecord{
		LSN:       rec.LSN,
		Timestamp: rec.Timestamp.UnixNano(),
		Status:    rec.Status,
	}
	if seal != nil {
		sealed, err := seal(valueJSON)
		if err != nil {
			return nil, fmt.Errorf("redolog: seal value: %w", err)
		}
		wr.Value = sealed
		wr.Encrypted = true
	} else {
		wr.Value = valueJSON
	}

	payload, err := jsonMarshal(wr)
	if err != nil {
		return nil, fmt.Errorf("redolog: marshal record: %w", err)
	}

	frame := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], magic)
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)
	return frame, nil
}

// decodeFrame is the inverse of encodeFrame given a full payload slice
// (header already stripped and length-validated by the caller).
func decodeFrame(payload []byte, open openFunc) (Record, error) {
	var wr wireRecord
	if err := jsonUnmarshal(payload, &wr); err != nil {
		return Record{}, fmt.Errorf("redolog: unmarshal record: %w", err)
	}

	raw := wr.Value
	if wr.Encrypted {
		if open == nil {
			return Record{}, fmt.Errorf("redolog: record is encrypted but no key is configured")
		}
		opened, err := open(raw)
		if err != nil {
			return Record{}, fmt.Errorf("redolog: open sealed value: %w", err)
		}
		raw = opened
	}

	var v value.Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return Record{}, fmt.Errorf("redolog: unmarshal value: %w", err)
	}

	return Record{
		LSN:       wr.LSN,
		Timestamp: time.Unix(0, wr.Timestamp).UTC(),
		Value:     v,
		Status:    wr.Status,
	}, nil
}

type sealFunc func(plaintext []byte) ([]byte, error)
type openFunc func(sealed []byte) ([]byte, error)
