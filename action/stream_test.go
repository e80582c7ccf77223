package action

import (
	"testing"

	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

func TestStreamValuesAutoClosesOnSetResult(t *testing.T) {
	var closed []error
	s := NewStream(nodepath.MustParse("/a"), node.ResultValues, nil, func(p nodepath.Path, err error) {
		closed = append(closed, err)
	}, nil)

	if ok := s.SetResult([][]value.Value{{value.NewInt(1)}}); !ok {
		t.Fatal("SetResult returned false")
	}
	if !s.IsClosed() {
		t.Error("Values-shape stream should auto-close after SetResult")
	}
	if len(closed) != 1 || closed[0] != nil {
		t.Errorf("close handler calls = %v, want one nil-error call", closed)
	}

	if ok := s.SetResult([][]value.Value{{value.NewInt(2)}}); ok {
		t.Error("SetResult on an already-closed stream should return false")
	}
}

func TestStreamTableStaysOpenUntilCommitOrClose(t *testing.T) {
	var sent [][][]value.Value
	send := func(p nodepath.Path, rows [][]value.Value, mode StreamingMode, mod TableModifier) error {
		sent = append(sent, rows)
		return nil
	}
	s := NewStream(nodepath.MustParse("/t"), node.ResultTable, send, nil, nil)

	s.SetResult([][]value.Value{{value.NewInt(1)}})
	if s.IsClosed() {
		t.Fatal("table-shape stream must not auto-close after SetResult")
	}

	s.AddRow(value.NewInt(2))
	s.AddRow() // empty row, should be filtered by Commit
	if ok := s.Commit(); !ok {
		t.Fatal("Commit returned false")
	}
	if s.IsClosed() {
		t.Fatal("Commit must not close the stream")
	}

	if len(sent) != 2 {
		t.Fatalf("send called %d times, want 2 (SetResult + Commit)", len(sent))
	}
	if len(sent[1]) != 1 {
		t.Errorf("committed rows = %d, want 1 (empty row filtered)", len(sent[1]))
	}

	s.Close()
	if !s.IsClosed() {
		t.Error("Close should close the stream")
	}
	if ok := s.Commit(); ok {
		t.Error("Commit after Close should return false")
	}
}

func TestStreamCommitOnValuesShapeReturnsFalse(t *testing.T) {
	s := NewStream(nodepath.MustParse("/v"), node.ResultValues, nil, nil, nil)
	if ok := s.Commit(); ok {
		t.Error("Commit on a Values-shape stream should always return false")
	}
}

func TestStreamCommitWithNoBufferedRowsSucceedsWithoutSending(t *testing.T) {
	calls := 0
	send := func(p nodepath.Path, rows [][]value.Value, mode StreamingMode, mod TableModifier) error {
		calls++
		return nil
	}
	s := NewStream(nodepath.MustParse("/s"), node.ResultStreaming, send, nil, nil)
	if ok := s.Commit(); !ok {
		t.Error("Commit with nothing buffered should still return true")
	}
	if calls != 0 {
		t.Errorf("send called %d times, want 0", calls)
	}
}

func TestStreamSetErrorClosesRegardlessOfShape(t *testing.T) {
	var gotErr error
	s := NewStream(nodepath.MustParse("/t"), node.ResultTable, nil, func(p nodepath.Path, err error) {
		gotErr = err
	}, nil)

	if ok := s.SetError("boom"); !ok {
		t.Fatal("SetError returned false")
	}
	if !s.IsClosed() {
		t.Error("SetError must close the stream")
	}
	if gotErr == nil || gotErr.Error() != "boom" {
		t.Errorf("close handler error = %v, want \"boom\"", gotErr)
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	calls := 0
	s := NewStream(nodepath.MustParse("/a"), node.ResultValues, nil, func(p nodepath.Path, err error) {
		calls++
	}, nil)
	s.Close()
	s.Close()
	if calls != 1 {
		t.Errorf("close handler fired %d times, want exactly 1", calls)
	}
}

func TestReplaceModifierRejectsEndBeforeStart(t *testing.T) {
	if _, err := Replace(5, 3); err == nil {
		t.Fatal("expected error for end < start")
	}
	if _, err := Replace(3, 5); err != nil {
		t.Fatalf("Replace(3, 5): %v", err)
	}
}
