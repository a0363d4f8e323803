package client

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codecollab/internal/app/collab"
	"codecollab/internal/configs"
	"codecollab/internal/handler"
	"codecollab/internal/pkg/auth/jwt"
	"codecollab/protocol"
)

const eventTimeout = 5 * time.Second

type testBackend struct {
	srv        *httptest.Server
	privateKey *rsa.PrivateKey
	hub        *collab.Hub
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	hub := collab.NewHub(collab.NewRegistry())

	deps := &handler.AppDeps{
		Hub: hub,
		Config: &configs.AppConfig{
			Environment:       "development",
			AuthVerifyTimeout: 5 * time.Second,
			HandshakeRate:     1000,
			HandshakeBurst:    1000,
		},
		Verifier: jwt.NewVerifier(&privateKey.PublicKey, 5*time.Second),
	}

	srv := httptest.NewServer(handler.Router(deps))
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
	})

	return &testBackend{srv: srv, privateKey: privateKey, hub: hub}
}

func (b *testBackend) wsURL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws"
}

func (b *testBackend) token(t *testing.T, identity protocol.Identity) string {
	t.Helper()

	token, err := jwt.GenerateToken(b.privateKey, identity, time.Hour)
	require.NoError(t, err)

	return token
}

// startSession connects a session for the identity and waits for the transport.
func startSession(t *testing.T, b *testBackend, identity protocol.Identity, handlers Handlers) *Session {
	t.Helper()

	session, err := New(Options{
		URL:               b.wsURL(),
		Token:             b.token(t, identity),
		Identity:          identity,
		DebounceWindow:    150 * time.Millisecond,
		ReconnectMinDelay: 50 * time.Millisecond,
		Handlers:          handlers,
	})
	require.NoError(t, err)

	session.Start(context.Background())
	t.Cleanup(session.Close)

	require.Eventually(t, session.Connected, eventTimeout, 10*time.Millisecond)

	return session
}

// joinDocument puts the session in the document's room and waits until the
// server-side membership is visible.
func joinDocument(t *testing.T, b *testBackend, session *Session, documentID string, wantMembers int) {
	t.Helper()

	require.NoError(t, session.SetDocument(documentID))
	require.Eventually(t, func() bool {
		return len(b.hub.Registry().Members(documentID)) == wantMembers
	}, eventTimeout, 10*time.Millisecond)
}

// dropTransport severs the session's connection out from under it, simulating
// a network interruption.
func dropTransport(t *testing.T, session *Session) {
	t.Helper()

	session.mu.Lock()
	ws := session.ws
	session.mu.Unlock()

	require.NotNil(t, ws)
	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		return !session.Connected()
	}, eventTimeout, 10*time.Millisecond)
}

func recvChange(t *testing.T, changes <-chan protocol.DocumentChangePayload) protocol.DocumentChangePayload {
	t.Helper()

	select {
	case change := <-changes:
		return change
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for document change")
		return protocol.DocumentChangePayload{}
	}
}

func expectNoChange(t *testing.T, changes <-chan protocol.DocumentChangePayload, window time.Duration) {
	t.Helper()

	select {
	case change := <-changes:
		t.Fatalf("unexpected document change from %s", change.UserID)
	case <-time.After(window):
	}
}

func TestLiveEditDebounceCollapsesBurst(t *testing.T) {
	req := require.New(t)
	backend := newTestBackend(t)

	alice := protocol.Identity{ID: "alice", Email: "alice@example.com", Name: "Alice"}
	bob := protocol.Identity{ID: "bob", Email: "bob@example.com", Name: "Bob"}

	changes := make(chan protocol.DocumentChangePayload, 16)

	sender := startSession(t, backend, alice, Handlers{})
	receiver := startSession(t, backend, bob, Handlers{
		OnDocumentChange: func(p protocol.DocumentChangePayload) { changes <- p },
	})

	joinDocument(t, backend, sender, "doc-1", 1)
	joinDocument(t, backend, receiver, "doc-1", 2)

	// A burst of keystrokes inside the quiet period yields one relayed event
	// carrying the final state.
	for _, content := range []string{"h", "he", "hel", "hell", "hello"} {
		c := content
		req.NoError(sender.SendDocumentChange(protocol.DocumentChangePayload{
			Content:  &c,
			LiveEdit: true,
		}))
	}

	change := recvChange(t, changes)
	req.Equal("alice", change.UserID)
	req.Equal("doc-1", change.DocumentID)
	req.NotNil(change.Content)
	req.Equal("hello", *change.Content)

	expectNoChange(t, changes, 400*time.Millisecond)
}

func TestManualSaveBypassesDebounce(t *testing.T) {
	req := require.New(t)
	backend := newTestBackend(t)

	alice := protocol.Identity{ID: "alice", Email: "alice@example.com", Name: "Alice"}
	bob := protocol.Identity{ID: "bob", Email: "bob@example.com", Name: "Bob"}

	changes := make(chan protocol.DocumentChangePayload, 16)

	sender := startSession(t, backend, alice, Handlers{})
	receiver := startSession(t, backend, bob, Handlers{
		OnDocumentChange: func(p protocol.DocumentChangePayload) { changes <- p },
	})

	joinDocument(t, backend, sender, "doc-1", 1)
	joinDocument(t, backend, receiver, "doc-1", 2)

	draft := "draft"
	req.NoError(sender.SendDocumentChange(protocol.DocumentChangePayload{
		Content:  &draft,
		LiveEdit: true,
	}))

	saved := "saved"
	req.NoError(sender.SendDocumentChange(protocol.DocumentChangePayload{
		Content:    &saved,
		ManualSave: true,
	}))

	// The save arrives first even though the live edit was emitted before it.
	change := recvChange(t, changes)
	req.True(change.ManualSave)
	req.Equal("saved", *change.Content)

	// The buffered live edit still flushes on its own schedule.
	change = recvChange(t, changes)
	req.True(change.LiveEdit)
	req.Equal("draft", *change.Content)
}

func TestEchoSuppressionAcrossTabs(t *testing.T) {
	req := require.New(t)
	backend := newTestBackend(t)

	alice := protocol.Identity{ID: "alice", Email: "alice@example.com", Name: "Alice"}
	bob := protocol.Identity{ID: "bob", Email: "bob@example.com", Name: "Bob"}

	tabChanges := make(chan protocol.DocumentChangePayload, 16)
	bobChanges := make(chan protocol.DocumentChangePayload, 16)

	tab1 := startSession(t, backend, alice, Handlers{})
	tab2 := startSession(t, backend, alice, Handlers{
		OnDocumentChange: func(p protocol.DocumentChangePayload) { tabChanges <- p },
	})
	bobSession := startSession(t, backend, bob, Handlers{
		OnDocumentChange: func(p protocol.DocumentChangePayload) { bobChanges <- p },
	})

	joinDocument(t, backend, tab1, "doc-1", 1)

	// The second tab joins without changing the de-duplicated member count, so
	// wait for its own snapshot instead of the registry.
	req.NoError(tab2.SetDocument("doc-1"))
	require.Eventually(t, func() bool {
		return len(tab2.ActiveUsers()) == 1
	}, eventTimeout, 10*time.Millisecond)

	joinDocument(t, backend, bobSession, "doc-1", 2)

	content := "from tab one"
	req.NoError(tab1.SendDocumentChange(protocol.DocumentChangePayload{
		Content:    &content,
		ManualSave: true,
	}))

	change := recvChange(t, bobChanges)
	req.Equal("alice", change.UserID)
	req.Equal("from tab one", *change.Content)

	// The other tab of the same user treats the event as its own echo.
	expectNoChange(t, tabChanges, 400*time.Millisecond)
}

func TestSetDocumentSwitchAnnouncesLeave(t *testing.T) {
	req := require.New(t)
	backend := newTestBackend(t)

	alice := protocol.Identity{ID: "alice", Email: "alice@example.com", Name: "Alice"}
	bob := protocol.Identity{ID: "bob", Email: "bob@example.com", Name: "Bob"}

	left := make(chan string, 4)

	aliceSession := startSession(t, backend, alice, Handlers{
		OnUserLeft: func(userID string) { left <- userID },
	})
	bobSession := startSession(t, backend, bob, Handlers{})

	joinDocument(t, backend, aliceSession, "doc-1", 1)
	joinDocument(t, backend, bobSession, "doc-1", 2)

	req.NoError(bobSession.SetDocument("doc-2"))
	req.Equal("doc-2", bobSession.DocumentID())

	select {
	case userID := <-left:
		req.Equal("bob", userID)
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for user-left")
	}

	require.Eventually(t, func() bool {
		users := aliceSession.ActiveUsers()
		return len(users) == 1 && users[0].ID == "alice"
	}, eventTimeout, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(backend.hub.Registry().Members("doc-2")) == 1
	}, eventTimeout, 10*time.Millisecond)

	// Re-setting the same document is a no-op, not a rejoin.
	req.NoError(bobSession.SetDocument("doc-2"))
}

func TestReconnectRejoinsActiveDocument(t *testing.T) {
	req := require.New(t)
	backend := newTestBackend(t)

	alice := protocol.Identity{ID: "alice", Email: "alice@example.com", Name: "Alice"}
	bob := protocol.Identity{ID: "bob", Email: "bob@example.com", Name: "Bob"}

	aliceSession := startSession(t, backend, alice, Handlers{})
	bobSession := startSession(t, backend, bob, Handlers{})

	joinDocument(t, backend, aliceSession, "doc-1", 1)
	joinDocument(t, backend, bobSession, "doc-1", 2)

	require.Eventually(t, func() bool {
		return len(aliceSession.ActiveUsers()) == 2
	}, eventTimeout, 10*time.Millisecond)

	dropTransport(t, aliceSession)

	// Server-side membership was dropped with the connection; the session must
	// redial, re-issue join-document for the active document, and repopulate
	// the presence list from the fresh snapshot.
	require.Eventually(t, func() bool {
		return aliceSession.State() == StateConnectedInRoom && len(aliceSession.ActiveUsers()) == 2
	}, eventTimeout, 10*time.Millisecond)

	req.Len(backend.hub.Registry().Members("doc-1"), 2)
	req.Equal("doc-1", aliceSession.DocumentID())
}

func TestDocumentSwitchWhileDisconnected(t *testing.T) {
	req := require.New(t)
	backend := newTestBackend(t)

	alice := protocol.Identity{ID: "alice", Email: "alice@example.com", Name: "Alice"}

	session := startSession(t, backend, alice, Handlers{})
	joinDocument(t, backend, session, "doc-1", 1)

	dropTransport(t, session)

	// Switching documents offline just records the target; the reconnect path
	// joins it, and the dead connection's old membership is dropped server-side.
	req.NoError(session.SetDocument("doc-2"))
	req.Equal("doc-2", session.DocumentID())

	require.Eventually(t, func() bool {
		return len(backend.hub.Registry().Members("doc-2")) == 1
	}, eventTimeout, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return backend.hub.Registry().RoomCount() == 1
	}, eventTimeout, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return session.State() == StateConnectedInRoom
	}, eventTimeout, 10*time.Millisecond)
}

func TestAuthRejectionIsTerminal(t *testing.T) {
	req := require.New(t)
	backend := newTestBackend(t)

	authErrs := make(chan error, 1)

	session, err := New(Options{
		URL:      backend.wsURL(),
		Token:    "not-a-valid-token",
		Identity: protocol.Identity{ID: "alice"},
		Handlers: Handlers{
			OnAuthError: func(err error) { authErrs <- err },
		},
	})
	req.NoError(err)

	session.Start(context.Background())

	select {
	case err := <-authErrs:
		req.ErrorIs(err, ErrAuthRejected)
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for auth rejection")
	}

	// The loop has stopped; no reconnect attempts with the refused credential.
	session.Close()
	req.Equal(StateDisconnected, session.State())
}

func TestSendWithoutConnection(t *testing.T) {
	req := require.New(t)

	session, err := New(Options{
		URL:      "ws://127.0.0.1:1/ws",
		Token:    "token",
		Identity: protocol.Identity{ID: "alice"},
	})
	req.NoError(err)

	err = session.SendCursorPosition(protocol.CursorPositionPayload{DocumentID: "doc-1"})
	req.ErrorIs(err, ErrNotConnected)
}

func TestCloseBeforeStart(t *testing.T) {
	req := require.New(t)

	session, err := New(Options{
		URL:      "ws://127.0.0.1:1/ws",
		Token:    "token",
		Identity: protocol.Identity{ID: "alice"},
	})
	req.NoError(err)

	// Must return immediately; there is no loop to wait for.
	session.Close()
	session.Close()
	req.Equal(StateDisconnected, session.State())
}
