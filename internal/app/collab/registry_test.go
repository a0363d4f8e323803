package collab

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codecollab/protocol"
)

func identityOf(id string) protocol.Identity {
	return protocol.Identity{
		ID:    id,
		Email: id + "@example.com",
		Name:  id,
	}
}

func memberIDs(members []protocol.Identity) map[string]bool {
	ids := make(map[string]bool, len(members))
	for _, m := range members {
		ids[m.ID] = true
	}
	return ids
}

func TestJoinLeaveMembership(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()

	alice, bob := &Conn{}, &Conn{}

	result := reg.Join(alice, identityOf("alice"), "doc-1")
	req.True(result.IdentityJoined)
	req.Nil(result.Left)
	req.Len(result.Members, 1)

	result = reg.Join(bob, identityOf("bob"), "doc-1")
	req.True(result.IdentityJoined)
	req.Equal(map[string]bool{"alice": true, "bob": true}, memberIDs(result.Members))
	req.Len(result.Conns, 2)

	leave := reg.Leave(alice)
	req.NotNil(leave)
	req.Equal("alice", leave.UserID)
	req.True(leave.IdentityLeft)
	req.False(leave.RoomEmpty)
	req.Equal(map[string]bool{"bob": true}, memberIDs(leave.Members))

	leave = reg.Leave(bob)
	req.NotNil(leave)
	req.True(leave.RoomEmpty)
	req.Zero(reg.RoomCount())
}

func TestJoinSwitchesRoom(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()

	alice := &Conn{}

	reg.Join(alice, identityOf("alice"), "doc-1")

	result := reg.Join(alice, identityOf("alice"), "doc-2")
	req.NotNil(result.Left)
	req.Equal("doc-1", result.Left.RoomID)
	req.True(result.Left.RoomEmpty)

	req.Nil(reg.Members("doc-1"))
	req.Equal(1, reg.RoomCount())

	roomID, ok := reg.Room(alice)
	req.True(ok)
	req.Equal("doc-2", roomID)
}

func TestRejoinSameRoomDoesNotReannounce(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()

	alice := &Conn{}

	reg.Join(alice, identityOf("alice"), "doc-1")

	result := reg.Join(alice, identityOf("alice"), "doc-1")
	req.False(result.IdentityJoined)
	req.Nil(result.Left)
	req.Len(result.Members, 1)
	req.Equal(1, reg.RoomCount())
}

func TestDisconnectWithoutRoomIsNoop(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()

	req.Nil(reg.Disconnect(&Conn{}))
	req.Zero(reg.RoomCount())
}

func TestMultiTabIdentityDedup(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()

	tab1, tab2, bob := &Conn{}, &Conn{}, &Conn{}

	reg.Join(tab1, identityOf("alice"), "doc-1")
	reg.Join(bob, identityOf("bob"), "doc-1")

	// A second connection of the same identity joins without re-announcing.
	result := reg.Join(tab2, identityOf("alice"), "doc-1")
	req.False(result.IdentityJoined)
	req.Len(result.Members, 2)
	req.Len(result.Conns, 3)

	// One tab closing must not make the identity disappear.
	leave := reg.Disconnect(tab1)
	req.NotNil(leave)
	req.False(leave.IdentityLeft)
	req.Equal(map[string]bool{"alice": true, "bob": true}, memberIDs(leave.Members))

	// The last tab closing does.
	leave = reg.Disconnect(tab2)
	req.NotNil(leave)
	req.True(leave.IdentityLeft)
	req.Equal(map[string]bool{"bob": true}, memberIDs(leave.Members))
}

func TestLatestIdentitySnapshotWins(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()

	tab1, tab2 := &Conn{}, &Conn{}

	first := identityOf("alice")
	first.Name = "Alice (old)"
	reg.Join(tab1, first, "doc-1")

	second := identityOf("alice")
	second.Name = "Alice"
	result := reg.Join(tab2, second, "doc-1")

	req.Len(result.Members, 1)
	req.Equal("Alice", result.Members[0].Name)
}

func TestPeersExcludesSender(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()

	alice, bob := &Conn{}, &Conn{}

	reg.Join(alice, identityOf("alice"), "doc-1")
	reg.Join(bob, identityOf("bob"), "doc-1")

	roomID, peers, ok := reg.Peers(alice)
	req.True(ok)
	req.Equal("doc-1", roomID)
	req.Len(peers, 1)
	req.Same(bob, peers[0])

	_, _, ok = reg.Peers(&Conn{})
	req.False(ok)
}
