// Package signaling implements the client side of the WebSocket channel to
// the signaling/relay server. It carries negotiation envelopes in direct
// mode and chat payloads in relay mode.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/dcom/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Transport is an open signaling channel.
type Transport interface {
	// Send queues payload as one text frame. It fails with
	// models.ErrTransportNotReady once the channel is closed.
	Send(payload []byte) error
	// Close tears the connection down. It is idempotent and never
	// triggers Handler.OnClosed.
	Close() error
}

// Handler receives the events of one Transport. OnMessage calls are made
// from a single goroutine in the order the server sent the frames.
type Handler struct {
	OnMessage func(payload []byte)
	// OnClosed reports a closure the local side did not ask for.
	OnClosed func(err error)
}

// Dialer opens WebSocket transports.
type Dialer struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Open connects to endpoint and starts the read and write pumps.
func (d *Dialer) Open(ctx context.Context, endpoint string, handler Handler) (Transport, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = writeWait
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	ws, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dialing %s: %s: %v", models.ErrTransportUnavailable, endpoint, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: dialing %s: %v", models.ErrTransportUnavailable, endpoint, err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Conn{
		ws:      ws,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		handler: handler,
		logger:  logger.With("endpoint", endpoint),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

// Conn is a Transport over a gorilla WebSocket connection.
type Conn struct {
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	handler Handler
	logger  *slog.Logger

	closeOnce sync.Once
	wsOnce    sync.Once
}

// Send implements Transport.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: signaling connection closed", models.ErrTransportNotReady)
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: signaling connection closed", models.ErrTransportNotReady)
	default:
		return fmt.Errorf("%w: send buffer full", models.ErrTransportNotReady)
	}
}

// Close implements Transport.
func (c *Conn) Close() error {
	c.finish(nil, true)
	return nil
}

// finish marks the connection done exactly once. Only the first caller
// decides whether the closure is reported to the handler.
func (c *Conn) finish(err error, local bool) {
	c.closeOnce.Do(func() {
		close(c.done)
		if local {
			return
		}
		c.logger.Info("signaling connection closed by remote", "error", err)
		if c.handler.OnClosed != nil {
			c.handler.OnClosed(fmt.Errorf("%w: %v", models.ErrTransportClosed, err))
		}
	})
}

func (c *Conn) closeSocket() {
	c.wsOnce.Do(func() {
		c.ws.Close()
	})
}

func (c *Conn) readPump() {
	defer c.closeSocket()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("signaling read failed", "error", err)
			}
			if errors.Is(err, websocket.ErrCloseSent) {
				err = nil
			}
			c.finish(err, false)
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		if c.handler.OnMessage != nil {
			c.handler.OnMessage(message)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeSocket()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("signaling write failed", "error", err)
				c.finish(err, false)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.finish(err, false)
				return
			}

		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
