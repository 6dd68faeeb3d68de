package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open message-oriented connection. Reads happen on a single
// goroutine; the Channel serializes writes.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens connections to the message bus.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the bus with gorilla/websocket and keeps the
// connection alive with pings.
type WebsocketDialer struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

// Dial opens a websocket connection to url.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	ws, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c := &wsConn{
		ws:           ws,
		readTimeout:  d.ReadTimeout,
		writeTimeout: d.WriteTimeout,
		done:         make(chan struct{}),
	}

	if d.ReadTimeout > 0 {
		ws.SetReadDeadline(time.Now().Add(d.ReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(d.ReadTimeout))
		})
	}

	if d.PingInterval > 0 {
		go c.pingLoop(d.PingInterval)
	}

	return c, nil
}

type wsConn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if c.readTimeout > 0 {
			c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.ws.Close()
	})
	return err
}

// pingLoop sends pings until the connection is closed. WriteControl may run
// concurrently with WriteMessage.
func (c *wsConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(interval)
			if c.writeTimeout > 0 {
				deadline = time.Now().Add(c.writeTimeout)
			}
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// The read loop observes the failure and reports the drop.
				return
			}
		}
	}
}
