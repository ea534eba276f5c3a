package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/rtc-rooms/internal/coordinator"
	"github.com/mossy-p/rtc-rooms/internal/models"
)

const rateLimitedCode = "rate_limited"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one websocket connection. It implements coordinator.Conn.
type Client struct {
	id    string
	conn  *websocket.Conn
	log   *slog.Logger
	coord *coordinator.Coordinator

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	limiter *rateLimiter
}

func newClient(id string, conn *websocket.Conn, h *Handler) *Client {
	conn.SetReadLimit(h.opts.ReadLimit)
	return &Client{
		id:      id,
		conn:    conn,
		log:     h.log.With("connection", id),
		coord:   h.coord,
		send:    make(chan []byte, h.opts.SendBuffer),
		done:    make(chan struct{}),
		limiter: newRateLimiter(h.opts.RateBurst, h.opts.RateRefill),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues evt without blocking. A full buffer or a closed client drops it.
func (c *Client) Send(evt models.OutboundEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	data, err := json.Marshal(evt)
	if err != nil {
		c.log.Error("Failed to marshal event", "type", evt.Type, "error", err)
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn("Send buffer full, dropping event", "type", evt.Type)
		return false
	}
}

func (c *Client) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// close leaves every room and lets the write pump flush what is queued
// before it closes the socket
func (c *Client) close() {
	c.coord.Disconnect(c.id)
	c.stop()
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.close()
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		var env models.Envelope
		decodeErr := json.Unmarshal(message, &env)
		if !c.limiter.allow() {
			c.log.Warn("Rate limit exceeded, discarding message", "type", env.Type)
			c.sendError(env.Type, rateLimitedCode, "rate limit exceeded, message discarded", clientIDOf(env))
			continue
		}
		if decodeErr != nil {
			c.sendError("", "validation", "malformed message", "")
			continue
		}
		c.dispatch(ctx, env)
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Message exceeded read limit")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.log.Debug("Client disconnected", "error", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log.Warn("Unexpected WebSocket error", "error", err)
	default:
		c.log.Debug("WebSocket read ended", "error", err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("Failed to write message", "error", err)
				c.stop()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// flush writes whatever is still queued, stopping at the first failure
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) sendError(event models.EventType, code, message, clientID string) {
	c.Send(models.OutboundEvent{
		Type: models.EventError,
		Data: models.ErrorPayload{Event: event, Code: code, Message: message, ClientID: clientID},
	})
}

func (c *Client) fail(event models.EventType, err error, clientID string) {
	c.log.Debug("Event rejected", "type", event, "error", err)
	c.sendError(event, coordinator.ErrorCode(err), err.Error(), clientID)
}

// clientIDOf pulls the optimistic id out of a chat payload, if there is one
func clientIDOf(env models.Envelope) string {
	if env.Type != models.EventChatMessage || len(env.Data) == 0 {
		return ""
	}
	var p struct {
		ClientID string `json:"clientId"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return ""
	}
	return p.ClientID
}
