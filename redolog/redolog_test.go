package redolog

import (
	"testing"
	"time"

	"github.com/efmgo/dslink/value"
)

func rec(lsn int64, n int64) Record {
	return Record{
		LSN:       lsn,
		Timestamp: time.Unix(0, 0).UTC(),
		Value:     value.NewInt(n),
		Status:    StatusOK,
	}
}

func TestAppendAssignsSequentialLSNs(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, Config{}, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := 0; i < 5; i++ {
		lsn, err := l.Append(rec(0, int64(i)))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if lsn != int64(i) {
			t.Errorf("Append #%d: got lsn %d, want %d", i, lsn, i)
		}
	}
}

func TestPendingSinceReturnsUnackedTail(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, Config{}, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := 0; i < 10; i++ {
		if _, err := l.Append(rec(0, int64(i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := l.Ack(4); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	pending, err := l.PendingSince(4)
	if err != nil {
		t.Fatalf("PendingSince: %v", err)
	}
	if len(pending) != 5 {
		t.Fatalf("PendingSince(4) returned %d records, want 5", len(pending))
	}
	for i, r := range pending {
		wantLSN := int64(5 + i)
		if r.LSN != wantLSN {
			t.Errorf("pending[%d].LSN = %d, want %d", i, r.LSN, wantLSN)
		}
		if got, _ := r.Value.AsInt(); got != wantLSN {
			t.Errorf("pending[%d].Value = %d, want %d", i, got, wantLSN)
		}
	}
}

func TestRotationCapsFilesPerLog(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		MaxEntriesPerFile: 2,
		MaxFilesPerLog:    3,
	}
	l, err := Open(dir, cfg, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := 0; i < 20; i++ {
		if _, err := l.Append(rec(0, int64(i))); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}

	if len(l.segments) > cfg.MaxFilesPerLog {
		t.Errorf("segments = %d, want <= %d", len(l.segments), cfg.MaxFilesPerLog)
	}
}

func TestReopenRecoversNextLSNAndAck(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, Config{MaxEntriesPerFile: 3}, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var lastLSN int64
	for i := 0; i < 7; i++ {
		lastLSN, err = l.Append(rec(0, int64(i)))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := l.Ack(3); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(dir, Config{MaxEntriesPerFile: 3}, nil, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	if l2.nextLSN != lastLSN+1 {
		t.Errorf("nextLSN after reopen = %d, want %d", l2.nextLSN, lastLSN+1)
	}
	if l2.acked != 3 {
		t.Errorf("acked after reopen = %d, want 3", l2.acked)
	}

	pending, err := l2.PendingSince(l2.acked)
	if err != nil {
		t.Fatalf("PendingSince: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending after reopen = %d records, want 3", len(pending))
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := DeriveKey([]byte("test-identity-key-material"))

	l, err := Open(dir, Config{WriteEncryptedValues: true}, key[:], nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Append(rec(0, 42)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(dir, Config{WriteEncryptedValues: true}, key[:], nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	pending, err := l2.PendingSince(-1)
	if err != nil {
		t.Fatalf("PendingSince: %v", err)
	}
	got, _ := pending[0].Value.AsInt()
	if len(pending) != 1 || got != 42 {
		t.Fatalf("decrypted record mismatch: %+v", pending)
	}
}

func TestEncryptedWithoutKeyFailsToDecode(t *testing.T) {
	dir := t.TempDir()
	key := DeriveKey([]byte("another-key"))

	l, err := Open(dir, Config{WriteEncryptedValues: true}, key[:], nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Append(rec(0, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := Open(dir, Config{WriteEncryptedValues: true}, nil, nil); err == nil {
		t.Fatal("expected recovery without a key to surface a decode error for an encrypted segment")
	}
}
