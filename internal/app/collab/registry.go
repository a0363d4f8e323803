/*
Package collab contains the core logic of the real-time collaboration session layer:
the room registry, presence broadcasting, the change relay, and the per-connection
lifecycle.

This file defines the Registry, the single shared table mapping a document id to the
connections currently present in its room. Every mutation (join, leave, disconnect)
is serialized by one mutex, and the presence snapshots consumed by the broadcaster
are computed under that same lock so emitted membership is always consistent with
mutation order.
*/
package collab

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"codecollab/internal/pkg/logx"
	"codecollab/protocol"
)

// memberEntry records one connection's presence in a room. seq orders joins so
// that when several connections share an identity, the latest join's identity
// snapshot wins in the de-duplicated membership list.
type memberEntry struct {
	identity protocol.Identity
	seq      uint64
}

// Registry owns room membership state. It is created at process start, injected
// into the broadcaster and relay, and torn down at shutdown; nothing else may
// mutate it. It performs no I/O of its own.
type Registry struct {
	// mu serializes all membership mutations and snapshot reads.
	mu sync.Mutex

	// rooms maps a document id to the connections present in its room.
	// A room exists only while it has at least one connection.
	rooms map[string]map[*Conn]memberEntry

	// byConn is the reverse index from a connection to the room it occupies,
	// keeping leave and disconnect proportional to the connection's own
	// membership rather than to total room count.
	byConn map[*Conn]string

	// seq is the monotonic join counter feeding memberEntry.seq.
	seq uint64

	logger zerolog.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[*Conn]memberEntry),
		byConn: make(map[*Conn]string),
		logger: logx.Logger().With().Str("component", "registry").Logger(),
	}
}

// JoinResult describes the effect of a Join, with the snapshots the presence
// broadcaster needs, all computed atomically with the mutation.
type JoinResult struct {
	RoomID   string
	Identity protocol.Identity

	// IdentityJoined is true when the identity was not present in the room
	// before this join (a second tab of the same user does not re-announce).
	IdentityJoined bool

	// Members is the de-duplicated membership after the join.
	Members []protocol.Identity

	// Conns holds every connection now in the room, the joiner included.
	Conns []*Conn

	// Left describes the implicit removal from the room the connection
	// previously occupied, nil when it occupied none.
	Left *LeaveResult
}

// LeaveResult describes the effect of removing a connection from a room.
type LeaveResult struct {
	RoomID string
	UserID string

	// IdentityLeft is true when no other connection keeps the identity present.
	IdentityLeft bool

	// RoomEmpty is true when the room was deleted because the last connection left.
	RoomEmpty bool

	// Members and Remaining are the post-removal membership snapshot and the
	// connections still in the room. Both are empty when RoomEmpty.
	Members   []protocol.Identity
	Remaining []*Conn
}

// Join moves a connection into the room for roomID, removing it from any room it
// currently occupies first. A connection belongs to at most one room.
func (reg *Registry) Join(c *Conn, identity protocol.Identity, roomID string) JoinResult {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	result := JoinResult{
		RoomID:   roomID,
		Identity: identity,
	}

	if previous, ok := reg.byConn[c]; ok {
		if previous == roomID {
			// Re-join of the current room (e.g. client retry): refresh the
			// identity snapshot without announcing a join.
			reg.seq++
			reg.rooms[roomID][c] = memberEntry{identity: identity, seq: reg.seq}
			result.Members = dedupMembers(reg.rooms[roomID])
			result.Conns = connList(reg.rooms[roomID])
			return result
		}

		left := reg.removeLocked(c, previous)
		result.Left = &left
	}

	room, ok := reg.rooms[roomID]
	if !ok {
		room = make(map[*Conn]memberEntry)
		reg.rooms[roomID] = room
	}

	result.IdentityJoined = !identityPresent(room, identity.ID)

	reg.seq++
	room[c] = memberEntry{identity: identity, seq: reg.seq}
	reg.byConn[c] = roomID

	result.Members = dedupMembers(room)
	result.Conns = connList(room)

	reg.logger.Info().
		Str("room_id", roomID).
		Str("user_id", identity.ID).
		Int("connections", len(room)).
		Int("members", len(result.Members)).
		Msg("Connection joined room.")

	return result
}

// Leave removes the connection from the room it occupies. It returns nil when
// the connection is in no room, which is a no-op.
func (reg *Registry) Leave(c *Conn) *LeaveResult {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	roomID, ok := reg.byConn[c]
	if !ok {
		return nil
	}

	result := reg.removeLocked(c, roomID)
	return &result
}

// Disconnect removes the connection from every room it is recorded in. With the
// reverse index that is at most one; the semantics match Leave, the distinct
// entry point exists because transport loss and explicit leave are logged and
// handled differently by callers.
func (reg *Registry) Disconnect(c *Conn) *LeaveResult {
	return reg.Leave(c)
}

// Room returns the room the connection currently occupies.
func (reg *Registry) Room(c *Conn) (string, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	roomID, ok := reg.byConn[c]
	return roomID, ok
}

// Peers returns the sender's room and every other connection in it. ok is false
// when the sender occupies no room; the relay drops such events.
func (reg *Registry) Peers(sender *Conn) (string, []*Conn, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	roomID, ok := reg.byConn[sender]
	if !ok {
		return "", nil, false
	}

	room := reg.rooms[roomID]
	peers := make([]*Conn, 0, len(room)-1)
	for c := range room {
		if c != sender {
			peers = append(peers, c)
		}
	}

	return roomID, peers, true
}

// Members returns the de-duplicated membership of a room. The slice order
// carries no semantic meaning.
func (reg *Registry) Members(roomID string) []protocol.Identity {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok {
		return nil
	}

	return dedupMembers(room)
}

// RoomCount returns the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	return len(reg.rooms)
}

// removeLocked deletes the connection's membership in roomID and computes the
// resulting snapshot. Caller must hold reg.mu.
func (reg *Registry) removeLocked(c *Conn, roomID string) LeaveResult {
	room := reg.rooms[roomID]
	entry := room[c]

	delete(room, c)
	delete(reg.byConn, c)

	result := LeaveResult{
		RoomID: roomID,
		UserID: entry.identity.ID,
	}

	if len(room) == 0 {
		delete(reg.rooms, roomID)
		result.IdentityLeft = true
		result.RoomEmpty = true

		reg.logger.Info().
			Str("room_id", roomID).
			Str("user_id", entry.identity.ID).
			Msg("Last connection left; room removed.")

		return result
	}

	result.IdentityLeft = !identityPresent(room, entry.identity.ID)
	result.Members = dedupMembers(room)
	result.Remaining = connList(room)

	reg.logger.Info().
		Str("room_id", roomID).
		Str("user_id", entry.identity.ID).
		Bool("identity_left", result.IdentityLeft).
		Int("connections", len(room)).
		Msg("Connection left room.")

	return result
}

// identityPresent reports whether any connection in the room carries the identity.
func identityPresent(room map[*Conn]memberEntry, userID string) bool {
	for _, entry := range room {
		if entry.identity.ID == userID {
			return true
		}
	}
	return false
}

// dedupMembers collapses per-connection entries to one Identity per user id,
// keeping the snapshot from the latest join.
func dedupMembers(room map[*Conn]memberEntry) []protocol.Identity {
	latest := make(map[string]memberEntry, len(room))

	for _, entry := range room {
		if current, ok := latest[entry.identity.ID]; !ok || entry.seq > current.seq {
			latest[entry.identity.ID] = entry
		}
	}

	return lo.Map(lo.Values(latest), func(entry memberEntry, _ int) protocol.Identity {
		return entry.identity
	})
}

// connList snapshots the room's connections.
func connList(room map[*Conn]memberEntry) []*Conn {
	return lo.Keys(room)
}
