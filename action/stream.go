// Package action implements the action invocation engine: the
// per-invocation result stream, its table/stream modifiers, and the
// dispatch that binds an incoming request to a node's action callback.
package action

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

// StreamingMode controls how newly sent rows relate to what the peer
// has already cached for a table/stream-shaped result.
type StreamingMode int

const (
	ModeRefresh StreamingMode = iota
	ModeAppend
	ModeStream
)

func (m StreamingMode) String() string {
	switch m {
	case ModeRefresh:
		return "refresh"
	case ModeAppend:
		return "append"
	default:
		return "stream"
	}
}

type state int

const (
	stateInitialize state = iota
	stateOpen
	stateClosed
)

// SendFunc is how a Stream actually gets rows to the peer. Wire framing
// and transport belong to the link's transport layer, not here; Stream
// only owns the state machine and buffering.
type SendFunc func(path nodepath.Path, rows [][]value.Value, mode StreamingMode, modifier TableModifier) error

// CloseHandler is invoked exactly once when a stream closes, whether by
// explicit Close, peer close, an error result, or (for Values shape)
// automatically after the first send.
type CloseHandler func(path nodepath.Path, err error)

// Stream is the per-invocation result stream node.ResultStream names in
// its ActionInvoke signature. It implements initialize → open → closed
// per spec.md §4.5, buffering rows for Commit on table/stream shapes and
// auto-closing on first send for the Values shape.
type Stream struct {
	mu sync.Mutex

	id    uuid.UUID
	path  nodepath.Path
	shape node.ResultShape

	state    state
	mode     StreamingMode
	modifier TableModifier
	buffered [][]value.Value

	send         SendFunc
	closeHandler CloseHandler
	logger       *slog.Logger
}

// NewStream returns a Stream bound to path and shape, ready to accept a
// result.
func NewStream(path nodepath.Path, shape node.ResultShape, send SendFunc, closeHandler CloseHandler, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Stream{
		id:           id,
		path:         path,
		shape:        shape,
		send:         send,
		closeHandler: closeHandler,
		logger:       logger.With("component", "action", "path", path.String()),
	}
}

// ID returns the stream's unique id.
func (s *Stream) ID() uuid.UUID { return s.id }

// Path returns the path of the action that created this stream.
func (s *Stream) Path() nodepath.Path { return s.path }

// ResultShape returns the stream's configured result shape.
func (s *Stream) ResultShape() node.ResultShape { return s.shape }

// IsClosed reports whether the stream has already closed.
func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateClosed
}

// SetMode sets the streaming mode applied to the next send. Only
// meaningful for table/stream shapes.
func (s *Stream) SetMode(mode StreamingMode) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return s
}

// SetModifier sets the table modifier applied to the next send. Only
// meaningful for the Table shape.
func (s *Stream) SetModifier(m TableModifier) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modifier = m
	return s
}

// AddRow buffers a row of values for the next Commit. SetResult also
// accepts a full set of rows directly for callers that don't need
// incremental buffering.
func (s *Stream) AddRow(values ...value.Value) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered = append(s.buffered, values)
	return s
}

// SetResult attaches the first result payload. For Values shape, one
// row is sent and the stream closes automatically. For Table/Stream
// shapes, the rows are sent and the stream stays open. Returns false if
// the stream is already closed.
func (s *Stream) SetResult(rows [][]value.Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return false
	}
	s.state = stateOpen

	if err := s.sendLocked(rows); err != nil {
		s.logger.Error("failed to send action result", "error", err)
	}

	if s.shape == node.ResultValues {
		s.closeLocked(nil)
	}
	return true
}

// SetError sends an error response and closes the stream, regardless
// of shape.
func (s *Stream) SetError(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return false
	}
	if err := s.sendLocked(nil); err != nil {
		s.logger.Error("failed to send action error", "error", err, "error_text", text)
	}
	s.closeLocked(errors.New(text))
	return true
}

// Commit flushes buffered rows to the peer. Only non-empty rows are
// sent, and the buffer is cleared afterward regardless. Returns false
// if the stream is already closed or is shape Values (which has no
// commit semantics — it auto-closes on SetResult).
func (s *Stream) Commit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed || s.shape == node.ResultValues {
		return false
	}

	rows := nonEmptyRows(s.buffered)
	s.buffered = nil
	if len(rows) == 0 {
		return true
	}

	if err := s.sendLocked(rows); err != nil {
		s.logger.Error("failed to commit action result", "error", err)
		return false
	}
	return true
}

// Close terminates the stream. A no-op if already closed; the close
// handler fires exactly once across the stream's lifetime.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(nil)
}

func (s *Stream) sendLocked(rows [][]value.Value) error {
	if s.send == nil {
		return nil
	}
	return s.send(s.path, rows, s.mode, s.modifier)
}

func (s *Stream) closeLocked(err error) {
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed
	if s.closeHandler != nil {
		s.closeHandler(s.path, err)
	}
}

func nonEmptyRows(rows [][]value.Value) [][]value.Value {
	out := make([][]value.Value, 0, len(rows))
	for _, r := range rows {
		if len(r) > 0 {
			out = append(out, r)
		}
	}
	return out
}
