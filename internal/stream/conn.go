package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Conn is one open transport to the live prediction endpoint. WriteFrame is
// never called concurrently with itself; Close may be called at any time.
type Conn interface {
	WriteFrame(ctx context.Context, data []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type WSDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

func NewWSDialer(header http.Header) *WSDialer {
	return &WSDialer{
		dialer: &websocket.Dialer{
			Proxy:           http.ProxyFromEnvironment,
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		header: header,
	}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return newWSConn(ws), nil
}

type wsConn struct {
	ws        *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:   ws,
		done: make(chan struct{}),
	}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive()
	return c
}

func (c *wsConn) WriteFrame(ctx context.Context, data []byte) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
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

func (c *wsConn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
