package wsclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// EndpointPath is the message socket path on the backend.
const EndpointPath = "/ws/messages"

// maxFrameSize bounds a single inbound frame.
const maxFrameSize = 1 << 20

// EndpointURL returns the socket URL for host, using wss when secure.
// A scheme already present on host is replaced.
func EndpointURL(host string, secure bool) string {
	for _, prefix := range []string{"https://", "http://", "wss://", "ws://"} {
		host = strings.TrimPrefix(host, prefix)
	}
	host = strings.TrimRight(host, "/")
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	return scheme + "://" + host + EndpointPath
}

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a transport to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// GorillaDialer dials with gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewGorillaDialer returns a dialer with the given handshake timeout.
func NewGorillaDialer(handshakeTimeout time.Duration) *GorillaDialer {
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = handshakeTimeout
	return &GorillaDialer{Dialer: &d}
}

// Dial implements Dialer.
func (g *GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := g.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, g.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, err
	}
	conn.SetReadLimit(maxFrameSize)
	return conn, nil
}
