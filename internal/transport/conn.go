package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ChannelPath is appended to the REST base to reach the live channel.
const ChannelPath = "/api/ws/notifications"

// Conn is the subset of *websocket.Conn the session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a channel connection.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// HandshakeError is returned by WebsocketDialer when the server answers the
// upgrade request with an HTTP error status.
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("channel handshake failed with status %d: %v", e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, &HandshakeError{Status: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dialing channel: %w", err)
	}
	return conn, nil
}

// ChannelURL derives the live channel address from the REST base: http
// becomes ws, https becomes wss, the channel path is appended and the token
// is passed as a query credential.
func ChannelURL(base, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("base url has no host")
	}

	u.Path = strings.TrimRight(u.Path, "/") + ChannelPath
	u.RawQuery = url.Values{"token": []string{token}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// closeCode extracts the close code from a read error. Errors that are not
// close frames count as an abnormal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var he *HandshakeError
	if errors.As(err, &he) && (he.Status == http.StatusUnauthorized || he.Status == http.StatusForbidden) {
		return CloseAuthRejected
	}
	return websocket.CloseAbnormalClosure
}
