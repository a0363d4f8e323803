/*
Package collab contains the core logic of the real-time collaboration session layer.

This file defines the Relay, which fans a member's typed change events out to the
rest of its room. The sender's room comes from server-side membership state, never
from the client-declared document id; the payload is enriched with the sender
identity and a server timestamp on the way through. Delivery is fire-and-forget:
at-most-once, no acknowledgment, no retry, no cross-connection ordering.
*/
package collab

import (
	"time"

	"github.com/rs/zerolog"

	"codecollab/internal/pkg/logx"
	"codecollab/protocol"
)

// enrichable is satisfied by every relayable payload via the embedded
// protocol.Enrichment.
type enrichable interface {
	Enrich(sender protocol.Identity, timestamp int64)
}

// Relay forwards change events between room members.
type Relay struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewRelay constructs a Relay over the given registry.
func NewRelay(registry *Registry) *Relay {
	return &Relay{
		registry: registry,
		logger:   logx.Logger().With().Str("component", "relay").Logger(),
	}
}

// Forward enriches the payload and sends it to every other connection in the
// sender's room. Events from a connection outside any room are logged and
// dropped without feedback to the sender.
func (r *Relay) Forward(sender *Conn, msgType protocol.Type, payload enrichable) {
	roomID, peers, ok := r.registry.Peers(sender)
	if !ok {
		r.logger.Warn().
			Str("msg_type", string(msgType)).
			Str("user_id", sender.Identity().ID).
			Msg("Dropping event from connection outside any room.")
		return
	}

	payload.Enrich(sender.Identity(), time.Now().UnixMilli())

	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		r.logger.Error().Err(err).
			Str("msg_type", string(msgType)).
			Str("room_id", roomID).
			Msg("Failed to encode change event.")
		return
	}

	for _, peer := range peers {
		peer.Enqueue(frame)
	}
}
