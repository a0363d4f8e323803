/*
Package collab contains the core logic of the real-time collaboration session layer.

This file defines the Conn struct, representing one authenticated WebSocket
connection. It manages the connection's lifecycle, the message pumps (ReadPump and
WritePump), and the buffered outbound queue that gives every connection its
per-connection delivery order.
*/
package collab

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"codecollab/internal/pkg/logx"
	"codecollab/protocol"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	// Document-change payloads carry full content snapshots, so this is
	// generous compared to a chat message limit.
	maxMessageSize = 1 << 20

	// sendQueueSize is the per-connection outbound buffer. A full queue drops
	// the frame: delivery is at-most-once by design.
	sendQueueSize = 256
)

// Conn represents an active, authenticated WebSocket connection.
// It is bound to exactly one Identity and at most one room at a time.
type Conn struct {
	// id identifies the connection in logs; identities may span connections.
	id string

	// ws is the underlying WebSocket connection.
	ws *websocket.Conn

	// identity is the verified identity attached by the connection gate.
	identity protocol.Identity

	// hub routes inbound events and handles disconnect cleanup.
	hub *Hub

	// send queues frames waiting to be written to the client.
	send chan []byte

	// closeOnce guards the send channel against double close.
	closeOnce sync.Once

	logger zerolog.Logger
}

// NewConn constructs a Conn for an upgraded, gate-approved WebSocket connection.
func NewConn(hub *Hub, ws *websocket.Conn, identity protocol.Identity) *Conn {
	connID := uuid.NewString()

	connLogger := logx.Logger().With().
		Str("conn_id", connID).
		Str("user_id", identity.ID).
		Logger()

	return &Conn{
		id:       connID,
		ws:       ws,
		identity: identity,
		hub:      hub,
		send:     make(chan []byte, sendQueueSize),
		logger:   connLogger,
	}
}

// Identity returns the verified identity bound to the connection.
func (c *Conn) Identity() protocol.Identity {
	return c.identity
}

// ID returns the connection's log identifier.
func (c *Conn) ID() string {
	return c.id
}

// ReadPump reads frames from the WebSocket connection and routes them through
// the hub. It handles heartbeats (Pong) and performs cleanup when the
// connection closes for any reason.
func (c *Conn) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.ws.SetReadLimit(maxMessageSize)

	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (client close/going away)")
			}
			break
		}

		c.processInboundFrame(frame)
	}
}

// cleanupOnDisconnect runs when ReadPump terminates: the hub drops the
// connection's room membership and the transport is closed.
func (c *Conn) cleanupOnDisconnect() {
	c.logger.Info().Msg("Connection cleanup starting.")

	c.hub.Disconnect(c)

	if err := c.ws.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Connection close error")
	}
}

// processInboundFrame parses the envelope and hands it to the hub. Malformed
// frames are logged and dropped; the sender gets no feedback.
func (c *Conn) processInboundFrame(frame []byte) {
	var envelope protocol.Envelope

	if err := json.Unmarshal(frame, &envelope); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON frame")
		return
	}

	c.hub.route(c, envelope)
}

// WritePump writes frames from the send queue to the WebSocket connection and
// keeps the heartbeat alive with periodic pings.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.ws.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeQueuedFrame(frame, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedFrame writes one frame pulled from the send queue.
// Returns true if the WritePump loop should continue.
func (c *Conn) writeQueuedFrame(frame []byte, ok bool) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.ws.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Error().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping to maintain the heartbeat.
// Returns false if the WritePump loop should terminate.
func (c *Conn) writePingMessage() bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// Send encodes a typed payload and queues it for delivery.
func (c *Conn) Send(msgType protocol.Type, payload any) {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.logger.Error().Err(err).
			Str("msg_type", string(msgType)).
			Msg("Error encoding frame for connection")
		return
	}

	c.Enqueue(frame)
}

// Enqueue places a pre-encoded frame on the send queue without blocking.
// A full or closed queue drops the frame and logs it.
func (c *Conn) Enqueue(frame []byte) {
	defer func() {
		if recover() != nil {
			c.logger.Warn().Msg("Send queue closed, dropping frame")
		}
	}()

	select {
	case c.send <- frame:
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Send queue full, dropping frame")
	}
}

// closeSend closes the send queue exactly once, letting WritePump finish with a
// close frame.
func (c *Conn) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
