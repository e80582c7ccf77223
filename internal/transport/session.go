package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var errNotConnected = errors.New("transport: not connected to broker")

// BackoffConfig controls the reconnect retry schedule. Mirrors
// connwatch.BackoffConfig's shape (startup retries then a steady
// background poll), generalized here to "redial forever" since a link
// has no fallback transport to fall back to.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoffConfig mirrors connwatch.DefaultBackoffConfig's startup
// schedule (2s, 4s, 8s, ... capped at 60s).
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	if b.InitialDelay <= 0 {
		b.InitialDelay = DefaultBackoffConfig().InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = DefaultBackoffConfig().MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = DefaultBackoffConfig().Multiplier
	}
	return b
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Dial    Config
	Backoff BackoffConfig

	// OnConnect is called (synchronously, from the session's own
	// goroutine) each time a connection is (re-)established, including
	// the first. Use it to flush queued sends and resume streams.
	OnConnect func(*Conn)

	// OnDisconnect is called after a connection is lost, before the
	// next redial attempt begins. Use it to clear volatile queues
	// (subscription.Engine.OnDisconnect) per spec.md §5's QoS
	// disconnect-clearing contract.
	OnDisconnect func(error)

	// OnFrame is called for every frame read off the connection.
	OnFrame func(Frame)

	Logger *slog.Logger
}

// Session owns one broker connection across its full lifetime:
// dial → authenticate → read frames → (on failure) redial with
// backoff, forever, until Stop is called.
type Session struct {
	cfg    SessionConfig
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.RWMutex
	conn *Conn
}

// NewSession starts a Session's connect-and-maintain loop in the
// background. The returned Session is immediately usable; Send blocks
// (returns an error) until the first connection succeeds.
func NewSession(ctx context.Context, cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(runCtx)
	return s
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	delay := s.cfg.Backoff.InitialDelay
	for {
		conn, err := Dial(ctx, s.cfg.Dial)
		if err != nil {
			s.cfg.Logger.Warn("broker dial failed, retrying", "error", err, "retry_in", delay)
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = growDelay(delay, s.cfg.Backoff)
			continue
		}

		delay = s.cfg.Backoff.InitialDelay
		s.setConn(conn)
		if s.cfg.OnConnect != nil {
			s.cfg.OnConnect(conn)
		}

		readErr := s.readUntilError(ctx, conn)
		s.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		s.cfg.Logger.Warn("broker connection lost, reconnecting", "error", readErr)
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(readErr)
		}
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = growDelay(delay, s.cfg.Backoff)
	}
}

// readUntilError pumps frames off conn until a read fails or ctx is
// cancelled. stop is closed before returning so the reader goroutine,
// which may be blocked mid-send when ctx fires, never leaks: it either
// delivers its pending frame or observes stop and exits.
func (s *Session) readUntilError(ctx context.Context, conn *Conn) error {
	type result struct {
		frame Frame
		err   error
	}
	frames := make(chan result)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			f, err := conn.Recv()
			select {
			case frames <- result{f, err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-frames:
			if r.err != nil {
				return r.err
			}
			if s.cfg.OnFrame != nil {
				s.cfg.OnFrame(r.frame)
			}
		}
	}
}

func growDelay(delay time.Duration, cfg BackoffConfig) time.Duration {
	next := time.Duration(float64(delay) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) setConn(c *Conn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

// Send writes a frame on the current connection. Returns an error if
// no connection is currently established.
func (s *Session) Send(f Frame) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return errNotConnected
	}
	return conn.Send(f)
}

// Connected reports whether a broker connection is currently established.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// Stop cancels the session's connect loop and waits for it to exit.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}
