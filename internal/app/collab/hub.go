/*
Package collab contains the core logic of the real-time collaboration session layer.

This file defines the Hub, which wires the registry, presence broadcaster, and
change relay together, tracks live connections for shutdown, and dispatches
inbound envelopes to the operation each event type maps to.
*/
package collab

import (
	"sync"

	"github.com/rs/zerolog"

	"codecollab/internal/pkg/logx"
	"codecollab/protocol"
)

// Hub coordinates the collaboration core. The registry is injected so isolated
// tests can run multiple independent instances; the broadcaster and relay are
// constructed around it.
type Hub struct {
	registry    *Registry
	broadcaster *Broadcaster
	relay       *Relay

	// membershipMu serializes each membership mutation together with its
	// presence emission, so members never observe snapshots out of mutation
	// order. Emission only enqueues on non-blocking send queues, so holding
	// the lock across it cannot stall on a slow client.
	membershipMu sync.Mutex

	// mu protects conns and closed.
	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool

	logger zerolog.Logger
}

// NewHub constructs a Hub around the given registry.
func NewHub(registry *Registry) *Hub {
	return &Hub{
		registry:    registry,
		broadcaster: NewBroadcaster(),
		relay:       NewRelay(registry),
		conns:       make(map[*Conn]struct{}),
		logger:      logx.Logger().With().Str("component", "hub").Logger(),
	}
}

// Registry exposes the hub's registry for handlers and tests.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Register tracks a freshly gated connection. The connection is in no room
// until it sends join-document. Returns false when the hub is shutting down.
func (h *Hub) Register(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	h.conns[c] = struct{}{}
	return true
}

// Disconnect removes the connection from its room (if any), announces the
// departure to the remaining members, and releases the send queue. Further
// relay involving this connection stops immediately; frames already queued to
// other members are not recalled.
func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	_, tracked := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()

	if !tracked {
		return
	}

	h.membershipMu.Lock()
	if result := h.registry.Disconnect(c); result != nil {
		h.broadcaster.RoomLeft(c, *result)
	}
	h.membershipMu.Unlock()

	c.closeSend()

	h.logger.Info().
		Str("conn_id", c.ID()).
		Str("user_id", c.Identity().ID).
		Msg("Connection disconnected.")
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.conns)
}

// Shutdown releases every connection's send queue, which lets the write pumps
// emit close frames and the read pumps unwind through Disconnect.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.closeSend()
	}

	h.logger.Info().Int("connections", len(conns)).Msg("Hub shutdown complete.")
}

// route dispatches one inbound envelope from the connection. Payload and room
// state failures are logged and dropped; nothing is surfaced to the sender.
func (h *Hub) route(c *Conn, envelope protocol.Envelope) {
	switch envelope.Type {
	case protocol.TypeJoinDocument:
		h.handleJoin(c, envelope.Payload)

	case protocol.TypeLeaveDocument:
		h.handleLeave(c, envelope.Payload)

	case protocol.TypeDocumentChange:
		forward[protocol.DocumentChangePayload](h, c, envelope)

	case protocol.TypeCursorPosition:
		forward[protocol.CursorPositionPayload](h, c, envelope)

	case protocol.TypeSelectionChange:
		forward[protocol.SelectionChangePayload](h, c, envelope)

	default:
		h.logger.Warn().
			Str("msg_type", string(envelope.Type)).
			Str("user_id", c.Identity().ID).
			Msg("Client sent unsupported message type")
	}
}

// handleJoin moves the connection into the declared document's room and emits
// the presence updates for both the new room and the implicitly left one.
func (h *Hub) handleJoin(c *Conn, raw []byte) {
	payload, err := protocol.Decode[protocol.JoinDocumentPayload](raw)
	if err != nil {
		h.logger.Warn().Err(err).
			Str("user_id", c.Identity().ID).
			Msg("Dropping invalid join-document payload")
		return
	}

	h.membershipMu.Lock()
	result := h.registry.Join(c, c.Identity(), payload.DocumentID)
	h.broadcaster.RoomJoined(c, result)
	h.membershipMu.Unlock()
}

// handleLeave removes the connection from the room the registry records for it.
// The client-declared document id is payload data, not an authorization target;
// a mismatch is logged and the declared id ignored.
func (h *Hub) handleLeave(c *Conn, raw []byte) {
	payload, err := protocol.Decode[protocol.LeaveDocumentPayload](raw)
	if err != nil {
		h.logger.Warn().Err(err).
			Str("user_id", c.Identity().ID).
			Msg("Dropping invalid leave-document payload")
		return
	}

	if roomID, ok := h.registry.Room(c); ok && roomID != payload.DocumentID {
		h.logger.Warn().
			Str("declared_room", payload.DocumentID).
			Str("actual_room", roomID).
			Str("user_id", c.Identity().ID).
			Msg("Declared document does not match active room; leaving actual room")
	}

	h.membershipMu.Lock()
	result := h.registry.Leave(c)
	if result != nil {
		h.broadcaster.RoomLeft(c, *result)
	}
	h.membershipMu.Unlock()

	if result == nil {
		h.logger.Warn().
			Str("user_id", c.Identity().ID).
			Msg("Dropping leave-document from connection outside any room")
	}
}

// forward decodes a typed change payload and hands it to the relay.
func forward[T any, PT interface {
	*T
	enrichable
}](h *Hub, c *Conn, envelope protocol.Envelope) {
	payload, err := protocol.Decode[T](envelope.Payload)
	if err != nil {
		h.logger.Warn().Err(err).
			Str("msg_type", string(envelope.Type)).
			Str("user_id", c.Identity().ID).
			Msg("Dropping invalid change payload")
		return
	}

	h.relay.Forward(c, envelope.Type, PT(payload))
}
