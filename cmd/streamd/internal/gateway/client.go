package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/protocol"
	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/registry"
)

const maxMessageSize = 64 * 1024

// Client adapts one websocket connection to the registry's Conn interface.
// Outbound messages flow through a bounded send channel drained by the write
// pump; inbound commands are dispatched from the read pump.
type Client struct {
	id       string
	conn     net.Conn
	registry *registry.Registry
	logger   *zap.Logger

	send      chan []byte
	sendMu    sync.Mutex
	closed    bool
	closeOnce sync.Once

	disconnectOnce sync.Once

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func newClient(conn net.Conn, reg *registry.Registry, logger *zap.Logger) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		registry:   reg,
		logger:     logger,
		send:       make(chan []byte, 256),
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) ID() string { return c.id }

// Close stops the write pump, which closes the socket. Safe to call more
// than once and concurrently with sends.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()
	})
}

func (c *Client) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("marshal outbound message", zap.Error(err))
		return
	}
	c.SendBytes(b)
}

func (c *Client) SendBytes(b []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		// Drop message if buffer full (backpressure)
	}
}

func (c *Client) readPump() {
	defer func() {
		// Exactly one disconnect per connection, however the socket dies.
		c.disconnectOnce.Do(func() { c.registry.OnDisconnect(c.id) })
		c.conn.Close()
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("message too big", zap.Int64("size", header.Length))
			break
		}
		if !header.Fin {
			c.logger.Warn("client sent fragmented message (not supported)")
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			continue
		case ws.OpText:
			c.handleMessage(payload)
		}
	}
}

func (c *Client) handleMessage(payload []byte) {
	var req protocol.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("Invalid JSON")
		return
	}

	switch req.Type {
	case protocol.TypeSubscribePrices:
		applied, err := c.registry.Subscribe(c.id, req.Symbols)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.SendJSON(protocol.Envelope{
			Type: protocol.TypeSubscribedPrices,
			Data: protocol.Symbols{Symbols: applied},
		})

	case protocol.TypeUnsubscribePrices:
		applied, err := c.registry.Unsubscribe(c.id, req.Symbols)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.SendJSON(protocol.Envelope{
			Type: protocol.TypeUnsubscribedPrices,
			Data: protocol.Symbols{Symbols: applied},
		})

	case protocol.TypeSubscribeAlerts:
		if err := c.registry.JoinAlertsChannel(c.id); err != nil {
			c.sendJoinError(err, "alerts")
			return
		}
		c.SendJSON(protocol.Envelope{Type: protocol.TypeSubscribedAlerts})

	case protocol.TypeSubscribePortfolio:
		if err := c.registry.JoinPortfolioChannel(c.id); err != nil {
			c.sendJoinError(err, "portfolio updates")
			return
		}
		c.SendJSON(protocol.Envelope{Type: protocol.TypeSubscribedPortfolio})

	case protocol.TypePing:
		c.SendJSON(protocol.Envelope{Type: protocol.TypePong})

	default:
		c.sendError("Unknown message type: " + req.Type)
	}
}

func (c *Client) sendJoinError(err error, channel string) {
	if errors.Is(err, registry.ErrAuthRequired) {
		c.sendError("Authentication required to subscribe to " + channel)
		return
	}
	c.sendError(err.Error())
}

func (c *Client) sendError(msg string) {
	c.SendJSON(protocol.Envelope{
		Type: protocol.TypeError,
		Data: protocol.Error{Message: msg},
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
