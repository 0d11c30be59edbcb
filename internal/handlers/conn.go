package handlers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/dcom/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// wsPeer is one upgraded connection with a buffered outbound queue
// drained by writePump.
type wsPeer struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// queue enqueues data without blocking. It reports false when the buffer
// is full or the peer is gone.
func (p *wsPeer) queue(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- data:
		return true
	default:
		metrics.DroppedFrames.Inc()
		return false
	}
}

// close stops the write pump, which sends a close frame and releases the
// socket.
func (p *wsPeer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// prepareRead arms the read deadline and keeps it alive with pongs.
func (p *wsPeer) prepareRead() {
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

func (p *wsPeer) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
		p.conn.Close()
	}()

	for {
		select {
		case message := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.done:
			p.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		}
	}
}
