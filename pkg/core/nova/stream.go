package nova

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStreamExpired marks the model-side timeout that follows a
// long-running tool call: the model gives up waiting for the tool
// result and closes its content window, after which every send fails.
// Callers treat this as fatal for the session but not for the call leg.
var ErrStreamExpired = errors.New("model stream expired waiting for content")

// streamExpiredMarker is the substring the service uses to signal the
// expired-content condition.
const streamExpiredMarker = "No open content found"

// IsStreamExpired reports whether err indicates the model closed its
// content window, either as the sentinel or a wrapped service error.
func IsStreamExpired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStreamExpired) {
		return true
	}
	return strings.Contains(err.Error(), streamExpiredMarker)
}

// Stream is one bidirectional connection to the model. Send and
// Receive may be called from different goroutines; each side is
// single-caller.
type Stream interface {
	// Send transmits one encoded event envelope.
	Send(ctx context.Context, data []byte) error
	// Receive blocks for the next raw protocol chunk.
	Receive(ctx context.Context) ([]byte, error)
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// WSStreamConfig configures a websocket-backed model stream.
type WSStreamConfig struct {
	URL           string
	Header        http.Header
	DialTimeout   time.Duration
	ReadDeadline  time.Duration
	WriteDeadline time.Duration
}

// DefaultWSStreamConfig returns dial settings suitable for realtime
// sessions.
func DefaultWSStreamConfig(url string) WSStreamConfig {
	return WSStreamConfig{
		URL:           url,
		DialTimeout:   10 * time.Second,
		ReadDeadline:  90 * time.Second,
		WriteDeadline: 10 * time.Second,
	}
}

// wsStream implements Stream over a gorilla websocket connection.
type wsStream struct {
	conn *websocket.Conn
	cfg  WSStreamConfig

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// DialStream connects to the model endpoint and returns the stream.
func DialStream(ctx context.Context, cfg WSStreamConfig) (Stream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial model stream: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial model stream: %w", err)
	}
	return &wsStream{conn: conn, cfg: cfg}, nil
}

func (s *wsStream) Send(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.cfg.WriteDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write model event: %w", err)
	}
	return nil
}

func (s *wsStream) Receive(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(s.cfg.ReadDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, fmt.Errorf("model stream closed: %w", err)
		}
		return nil, fmt.Errorf("read model event: %w", err)
	}
	return data, nil
}

func (s *wsStream) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.writeMu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()

	return s.conn.Close()
}
