/*
Package collab contains the core logic of the real-time collaboration session layer.

This file defines the Broadcaster, which turns registry mutation results into
presence events: a full active-users snapshot to every room member, plus narrow
user-joined / user-left deltas to the other members so clients can animate the
change without recomputing a diff.
*/
package collab

import (
	"github.com/rs/zerolog"

	"codecollab/internal/pkg/logx"
	"codecollab/protocol"
)

// Broadcaster emits membership updates for registry mutations. It holds no state
// of its own; everything it sends comes from the snapshots the registry computed
// under its lock.
type Broadcaster struct {
	logger zerolog.Logger
}

// NewBroadcaster constructs a Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		logger: logx.Logger().With().Str("component", "presence").Logger(),
	}
}

// RoomJoined announces a join: the implicit leave from the previous room first
// (if any), then the full snapshot to everyone in the new room including the
// joiner, then the user-joined delta to the other members when the identity is
// newly present.
func (b *Broadcaster) RoomJoined(joiner *Conn, result JoinResult) {
	if result.Left != nil {
		b.RoomLeft(joiner, *result.Left)
	}

	b.sendActiveUsers(result.Conns, result.RoomID, result.Members)

	if !result.IdentityJoined {
		return
	}

	payload := protocol.UserJoinedPayload{User: result.Identity}
	for _, member := range result.Conns {
		if member != joiner {
			member.Send(protocol.TypeUserJoined, payload)
		}
	}
}

// RoomLeft announces a removal to the remaining members: the user-left delta
// when the identity is no longer present, then the full snapshot. An emptied
// room has nobody left to notify.
func (b *Broadcaster) RoomLeft(leaver *Conn, result LeaveResult) {
	if result.RoomEmpty {
		return
	}

	if result.IdentityLeft {
		payload := protocol.UserLeftPayload{UserID: result.UserID}
		for _, member := range result.Remaining {
			member.Send(protocol.TypeUserLeft, payload)
		}
	}

	b.sendActiveUsers(result.Remaining, result.RoomID, result.Members)
}

// sendActiveUsers fans the full membership array out to the given connections.
func (b *Broadcaster) sendActiveUsers(targets []*Conn, roomID string, members []protocol.Identity) {
	frame, err := protocol.Encode(protocol.TypeActiveUsers, members)
	if err != nil {
		b.logger.Error().Err(err).
			Str("room_id", roomID).
			Msg("Failed to encode active-users snapshot.")
		return
	}

	for _, member := range targets {
		member.Enqueue(frame)
	}
}
