package diagnostics

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestLatestOnEmptyStoreReturnsNil(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if snap != nil {
		t.Fatalf("Latest = %+v, want nil", snap)
	}
}

func TestRecordThenLatestRoundTrips(t *testing.T) {
	s := newTestStore(t)

	in := Snapshot{
		NodeCount:     42,
		Subscriptions: 3,
		RedoLogBytes:  1 << 20,
		AckedBySubPath: []SubscriptionAck{
			{Path: "/sensors/temp", AckedLSN: 17},
			{Path: "/sensors/humidity", AckedLSN: 4},
		},
	}
	recorded, err := s.Record(in)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if recorded.ID.String() == "" {
		t.Fatal("Record did not assign an ID")
	}

	out, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if out == nil {
		t.Fatal("Latest = nil, want a snapshot")
	}
	if out.NodeCount != 42 || out.Subscriptions != 3 || out.RedoLogBytes != 1<<20 {
		t.Errorf("Latest = %+v, want NodeCount=42 Subscriptions=3 RedoLogBytes=%d", out, 1<<20)
	}
	if len(out.AckedBySubPath) != 2 {
		t.Fatalf("len(AckedBySubPath) = %d, want 2", len(out.AckedBySubPath))
	}
	if out.AckedBySubPath[0].Path != "/sensors/humidity" || out.AckedBySubPath[0].AckedLSN != 4 {
		t.Errorf("AckedBySubPath[0] = %+v, want /sensors/humidity=4", out.AckedBySubPath[0])
	}
}

func TestLatestReturnsMostRecentSnapshot(t *testing.T) {
	s := newTestStore(t)

	older := Snapshot{TakenAt: time.Now().Add(-time.Hour), NodeCount: 1}
	newer := Snapshot{TakenAt: time.Now(), NodeCount: 2}
	if _, err := s.Record(older); err != nil {
		t.Fatalf("Record(older): %v", err)
	}
	if _, err := s.Record(newer); err != nil {
		t.Fatalf("Record(newer): %v", err)
	}

	out, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if out.NodeCount != 2 {
		t.Errorf("Latest.NodeCount = %d, want 2 (the newer snapshot)", out.NodeCount)
	}
}

func TestPruneKeepsMinKeepEvenIfOld(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		snap := Snapshot{
			TakenAt:   time.Now().Add(-time.Duration(24-i) * time.Hour),
			NodeCount: i,
		}
		if _, err := s.Record(snap); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	deleted, err := s.Prune(time.Hour, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Prune deleted %d rows, want 1 (keeping the 2 most recent)", deleted)
	}
}

func TestHumanBytesFormatsReadably(t *testing.T) {
	snap := Snapshot{RedoLogBytes: 5 * 1024 * 1024}
	got := snap.HumanBytes()
	if got == "" {
		t.Fatal("HumanBytes returned an empty string")
	}
}
