package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/http/httpguts"
)

// handshakeFrame is the broker's conn-establishment exchange: the link
// dials with its dsId and token, the broker answers "allowed" (or
// refuses). The actual salt/ECDH negotiation DSA brokers use in
// production is part of the out-of-scope wire handshake; this is the
// minimal shape the rest of the package needs to agree a connection is
// usable.
type handshakeFrame struct {
	Type    string `json:"type"`
	DsID    string `json:"dsId,omitempty"`
	Token   string `json:"token,omitempty"`
	Allowed bool   `json:"allowed,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Config dials and authenticates a single broker connection.
type Config struct {
	// BrokerURL is the broker's conn endpoint (spec.md §6 default:
	// http://127.0.0.1:8080/conn). http(s) is rewritten to ws(s).
	BrokerURL string
	DsID      string
	Token     string
	Logger    *slog.Logger
}

// Conn is one established, authenticated broker connection. It is not
// safe to reuse after Close; Dial again for a new Conn.
type Conn struct {
	ws     *websocket.Conn
	writeMu sync.Mutex
	logger *slog.Logger
}

// Dial establishes the WebSocket connection and completes the conn
// handshake. ctx bounds the dial and handshake exchange only; it does
// not bound the connection's subsequent lifetime.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !httpguts.ValidHeaderFieldValue(cfg.DsID) {
		return nil, fmt.Errorf("transport: dsId is not a valid header value: %q", cfg.DsID)
	}
	if cfg.Token != "" && !httpguts.ValidHeaderFieldValue(cfg.Token) {
		return nil, fmt.Errorf("transport: token is not a valid header value")
	}

	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse broker url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("X-Dsa-Ds-Id", cfg.DsID)
	if cfg.Token != "" {
		header.Set("X-Dsa-Token", cfg.Token)
	}

	dialer := websocket.Dialer{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	}

	logger.Debug("dialing broker", "url", u.String())
	ws, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("transport: dial broker: %w", err)
	}

	c := &Conn{ws: ws, logger: logger}
	if err := c.handshake(cfg); err != nil {
		ws.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) handshake(cfg Config) error {
	hello := handshakeFrame{Type: "hello", DsID: cfg.DsID, Token: cfg.Token}
	if err := c.ws.WriteJSON(hello); err != nil {
		return fmt.Errorf("transport: send hello: %w", err)
	}

	var resp handshakeFrame
	if err := c.ws.ReadJSON(&resp); err != nil {
		return fmt.Errorf("transport: read handshake response: %w", err)
	}
	if resp.Type != "allowed" || !resp.Allowed {
		reason := resp.Reason
		if reason == "" {
			reason = "connection refused"
		}
		return fmt.Errorf("transport: broker refused connection: %s", reason)
	}
	c.logger.Info("broker connection established", "dsId", cfg.DsID)
	return nil
}

// Send writes a frame to the broker. Safe for concurrent use.
func (c *Conn) Send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("transport: send frame: %w", err)
	}
	return nil
}

// Recv reads the next frame from the broker. It blocks until a frame
// arrives, the connection closes, or a read error occurs.
func (c *Conn) Recv() (Frame, error) {
	var f Frame
	if err := c.ws.ReadJSON(&f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// IsUnexpectedClose reports whether err from Recv represents an
// abnormal close worth logging (as opposed to a normal shutdown).
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// Close closes the underlying WebSocket connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// SetReadDeadline forwards to the underlying WebSocket connection, for
// callers that want to detect a silently dead peer.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}
